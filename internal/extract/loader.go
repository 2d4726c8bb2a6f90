package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// SpecFile is a spec read from JSON.
//
//	{
//	  "list": "data.products",
//	  "fields": [
//	    {"name": "id", "path": "id"},
//	    {"name": "title", "path": "title_fa", "default": "", "transforms": ["trim"]},
//	    {"name": "image", "path": "images.main.url", "transforms": ["first"]},
//	    {"name": "tags", "path": "tags", "items": {"path": "name"}, "skip": true, "unique": true}
//	  ]
//	}
//
// When "list" (or "list_find") is present the file describes one record per
// element of that sequence; otherwise it describes a single record.
type SpecFile struct {
	IsList   bool
	ListFind string
	List     Path
	Spec     *Spec
}

type specFileJSON struct {
	List     *string     `json:"list,omitempty"`
	ListFind string      `json:"list_find,omitempty"`
	Fields   []fieldJSON `json:"fields"`
}

type fieldJSON struct {
	Name       string      `json:"name"`
	Path       string      `json:"path,omitempty"`
	Find       string      `json:"find,omitempty"`
	Distribute bool        `json:"distribute,omitempty"`
	Default    any         `json:"default,omitempty"`
	KeepNull   bool        `json:"keep_null,omitempty"`
	Transforms []string    `json:"transforms,omitempty"`
	Fields     []fieldJSON `json:"fields,omitempty"`
	Items      *fieldJSON  `json:"items,omitempty"`
	Where      *condJSON   `json:"where,omitempty"`
	Skip       bool        `json:"skip,omitempty"`
	Unique     bool        `json:"unique,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

type condJSON struct {
	Path   string `json:"path"`
	Equals any    `json:"equals,omitempty"`
	Not    bool   `json:"not,omitempty"`
}

// LoadSpecFile reads and compiles a JSON spec file.
func LoadSpecFile(path string) (*SpecFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	return ParseSpecFile(b)
}

// ParseSpecFile compiles the JSON form of a spec. Unknown members are rejected
// so typos surface as errors instead of silently defaulted fields.
func ParseSpecFile(b []byte) (*SpecFile, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	dec.DisallowUnknownFields()

	var raw specFileJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse spec json: %w", err)
	}
	if len(raw.Fields) == 0 {
		return nil, fmt.Errorf("%w: spec file has no fields", ErrSpec)
	}

	fields := make([]Field, 0, len(raw.Fields))
	for _, fj := range raw.Fields {
		f, err := fj.toField()
		if err != nil {
			return nil, &FieldError{Field: fj.Name, Err: err}
		}
		fields = append(fields, f)
	}
	spec, err := Compile(fields...)
	if err != nil {
		return nil, err
	}

	sf := &SpecFile{Spec: spec, ListFind: raw.ListFind}
	if raw.List != nil || raw.ListFind != "" {
		sf.IsList = true
		if raw.List != nil {
			p, err := ParsePath(*raw.List)
			if err != nil {
				return nil, fmt.Errorf("list: %w", err)
			}
			sf.List = p
		}
	}
	return sf, nil
}

func (fj fieldJSON) toField() (Field, error) {
	p, err := ParsePath(fj.Path)
	if err != nil {
		return Field{}, err
	}
	f := Field{
		Name:       fj.Name,
		Path:       p,
		Find:       fj.Find,
		Distribute: fj.Distribute,
		Default:    fj.Default,
		KeepNull:   fj.KeepNull,
		Transforms: fj.Transforms,
		Skip:       fj.Skip,
		Unique:     fj.Unique,
		Limit:      fj.Limit,
	}
	for _, sub := range fj.Fields {
		sf, err := sub.toField()
		if err != nil {
			return Field{}, &FieldError{Field: sub.Name, Err: err}
		}
		f.Fields = append(f.Fields, sf)
	}
	if fj.Items != nil {
		item, err := fj.Items.toField()
		if err != nil {
			return Field{}, fmt.Errorf("items: %w", err)
		}
		f.Items = &item
	}
	if fj.Where != nil {
		wp, err := ParsePath(fj.Where.Path)
		if err != nil {
			return Field{}, fmt.Errorf("where: %w", err)
		}
		f.Where = &Cond{Path: wp, Equals: fj.Where.Equals, Not: fj.Where.Not}
	}
	return f, nil
}

// Apply runs the spec against doc and returns a Record, or a []Record in list
// mode.
func (sf *SpecFile) Apply(doc any) (any, error) {
	if !sf.IsList {
		return Assemble(doc, sf.Spec)
	}
	root := doc
	if sf.ListFind != "" {
		found, ok := FindKey(doc, sf.ListFind)
		if !ok {
			return []Record{}, nil
		}
		root = found
	}
	return AssembleList(root, sf.List, sf.Spec)
}
