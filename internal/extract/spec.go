package extract

import (
	"fmt"
)

// Field declares one output member of a Record.
//
// Resolution starts at the current root (the document, or the node resolved
// by an enclosing composite field). If Find is set the root is first replaced
// by the first recursive match of that key; Path then continues from there.
type Field struct {
	Name string
	Path Path
	Find string

	// Distribute lets a key step that meets a sequence apply to every element,
	// as if the path held [*] there. The value becomes a []any of the elements
	// that resolved.
	Distribute bool

	// Default replaces the value whenever resolution fails, the resolved value
	// has the wrong shape, or a transform fails. Defaults are used as-is:
	// transforms never run on them.
	Default any

	// KeepNull lets a present JSON null satisfy the field. By default null is
	// treated like a missing key and replaced by Default.
	KeepNull bool

	// Transforms are applied in order to the resolved value, then Func.
	Transforms []string
	Func       TransformFunc

	// Fields makes this a composite field: the resolved node becomes the root
	// of a nested Record. When the path does not resolve and Default is nil,
	// the nested Record is assembled against nothing, so every nested member
	// carries its own default.
	Fields []Field

	// Items makes this a distributed field: the resolved value must be a
	// sequence and Items is evaluated against every element (Items.Name is
	// ignored). The result is a []any in input order.
	Items *Field
	Where *Cond
	// Skip drops elements whose Items resolution fails instead of using
	// Items.Default in their place.
	Skip   bool
	Unique bool
	Limit  int
}

// Cond selects sequence elements. With a nil Equals the path only has to
// resolve to a non-null value.
type Cond struct {
	Path   Path
	Equals any
	Not    bool
}

func (c *Cond) match(el any) bool {
	v, ok := Lookup(el, c.Path)
	var hit bool
	if c.Equals == nil {
		hit = ok && v != nil
	} else {
		hit = ok && scalarEqual(v, c.Equals)
	}
	return hit != c.Not
}

// Spec is a compiled, immutable list of fields. A Spec may be shared by any
// number of goroutines.
type Spec struct {
	fields []*compiledField
}

type compiledField struct {
	Field
	transforms []TransformFunc
	nested     *Spec
	items      *compiledField
}

// Compile validates fields and resolves their transforms.
func Compile(fields ...Field) (*Spec, error) {
	s := &Spec{fields: make([]*compiledField, 0, len(fields))}
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field with empty name", ErrSpec)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, &FieldError{Field: f.Name, Err: fmt.Errorf("%w: duplicate field name", ErrSpec)}
		}
		seen[f.Name] = struct{}{}

		cf, err := compileField(f)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Err: err}
		}
		s.fields = append(s.fields, cf)
	}
	return s, nil
}

// MustCompile is Compile for specs declared at package level.
func MustCompile(fields ...Field) *Spec {
	s, err := Compile(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Names returns the output field names in declaration order.
func (s *Spec) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

func compileField(f Field) (*compiledField, error) {
	cf := &compiledField{Field: f}

	if f.Items != nil && len(f.Fields) > 0 {
		return nil, fmt.Errorf("%w: fields and items are exclusive (put fields on items)", ErrSpec)
	}
	if f.Items == nil && (f.Where != nil || f.Skip || f.Unique || f.Limit != 0) {
		return nil, fmt.Errorf("%w: where/skip/unique/limit need items", ErrSpec)
	}
	if f.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit %d", ErrSpec, f.Limit)
	}

	for _, expr := range f.Transforms {
		fn, err := NewTransform(expr)
		if err != nil {
			return nil, err
		}
		cf.transforms = append(cf.transforms, fn)
	}

	if len(f.Fields) > 0 {
		nested, err := Compile(f.Fields...)
		if err != nil {
			return nil, err
		}
		cf.nested = nested
	}

	if f.Items != nil {
		item := *f.Items
		if item.Name == "" {
			item.Name = "items"
		}
		ci, err := compileField(item)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		cf.items = ci
	}
	return cf, nil
}
