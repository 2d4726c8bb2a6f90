package extract

import (
	"errors"
	"strconv"
)

// Assemble builds a Record holding exactly the fields declared in spec.
//
// Fields that do not resolve take their default and never affect their
// siblings. The returned error is non-nil only when a transform rejected the
// value it was given; it joins one *FieldError per failing field, and the
// Record is complete regardless.
func Assemble(doc any, spec *Spec) (Record, error) {
	var errs []error
	rec := spec.assemble(doc, "", &errs)
	return rec, errors.Join(errs...)
}

// AssembleList applies spec to every element of the sequence at path. A path
// that does not resolve to a sequence yields an empty list.
func AssembleList(doc any, path Path, spec *Spec) ([]Record, error) {
	v, ok := Lookup(doc, path)
	if !ok {
		return []Record{}, nil
	}
	seq, ok := asSeq(v)
	if !ok {
		return []Record{}, nil
	}

	var errs []error
	out := make([]Record, 0, len(seq))
	for i, el := range seq {
		out = append(out, spec.assemble(el, "["+strconv.Itoa(i)+"]", &errs))
	}
	return out, errors.Join(errs...)
}

func (s *Spec) assemble(root any, prefix string, errs *[]error) Record {
	if s == nil {
		return Record{}
	}
	rec := make(Record, len(s.fields))
	for _, f := range s.fields {
		loc := f.Name
		if prefix != "" {
			loc = prefix + "." + f.Name
		}
		if v, ok := f.eval(root, loc, errs); ok {
			rec[f.Name] = v
		} else {
			rec[f.Name] = f.fallback(loc, errs)
		}
	}
	return rec
}

// eval resolves the field against root. ok=false means the caller must use
// the fallback.
func (f *compiledField) eval(root any, loc string, errs *[]error) (any, bool) {
	v, ok := f.resolve(root)
	if !ok {
		return nil, false
	}
	if v == nil {
		// Only reachable with KeepNull.
		return nil, true
	}

	switch {
	case f.nested != nil:
		v = f.nested.assemble(v, loc, errs)
	case f.items != nil:
		seq, isSeq := asSeq(v)
		if !isSeq {
			return nil, false
		}
		v = f.distribute(seq, loc, errs)
	}

	for _, t := range f.transforms {
		out, err := t(v)
		if err != nil {
			*errs = append(*errs, &FieldError{Field: loc, Err: err})
			return nil, false
		}
		v = out
	}
	if f.Func != nil {
		out, err := f.Func(v)
		if err != nil {
			*errs = append(*errs, &FieldError{Field: loc, Err: err})
			return nil, false
		}
		v = out
	}

	if v == nil && !f.KeepNull {
		return nil, false
	}
	return v, true
}

func (f *compiledField) resolve(root any) (any, bool) {
	cur := root
	if f.Find != "" {
		found, ok := FindKey(cur, f.Find)
		if !ok {
			return nil, false
		}
		cur = found
	}
	lookupFn := Lookup
	if f.Distribute {
		lookupFn = LookupEach
	}
	v, ok := lookupFn(cur, f.Path)
	if !ok {
		return nil, false
	}
	if v == nil && !f.KeepNull {
		return nil, false
	}
	return v, true
}

func (f *compiledField) fallback(loc string, errs *[]error) any {
	if f.nested != nil && f.Default == nil {
		return f.nested.assemble(nil, loc, errs)
	}
	return clone(f.Default)
}

func (f *compiledField) distribute(seq []any, loc string, errs *[]error) []any {
	out := make([]any, 0, len(seq))
	for i, el := range seq {
		if f.Where != nil && !f.Where.match(el) {
			continue
		}
		elLoc := loc + "[" + strconv.Itoa(i) + "]"
		v, ok := f.items.eval(el, elLoc, errs)
		if !ok {
			if f.Skip {
				continue
			}
			v = f.items.fallback(elLoc, errs)
		}
		out = append(out, v)
	}
	if f.Unique {
		out = Unique(out)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// clone copies mapping and sequence defaults so records never share them.
func clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	}
	return v
}
