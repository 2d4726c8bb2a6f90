package extract

// Lookup resolves path against root.
//
// A key step requires a mapping and an index step requires a sequence; any
// other shape, a missing key, or an out-of-range index ends resolution with
// ok=false. A present null resolves to (nil, true).
//
// An Each step ([*]) applies the rest of the path to every element of the
// sequence and returns the results as []any, dropping elements that do not
// resolve. An empty sequence yields an empty, non-nil slice.
func Lookup(root any, path Path) (any, bool) {
	return lookup(root, path, false)
}

// LookupEach is Lookup with distribution enabled implicitly: a key step that
// meets a sequence is applied to every element, as if the path contained [*]
// at that point.
func LookupEach(root any, path Path) (any, bool) {
	return lookup(root, path, true)
}

func lookup(root any, path Path, distribute bool) (any, bool) {
	cur := root
	for i, st := range path {
		switch st.kind {
		case stepKey:
			m, ok := asMap(cur)
			if !ok {
				if seq, isSeq := asSeq(cur); isSeq && distribute {
					return spread(seq, path[i:], distribute), true
				}
				return nil, false
			}
			v, ok := m[st.key]
			if !ok {
				return nil, false
			}
			cur = v

		case stepIndex:
			seq, ok := asSeq(cur)
			if !ok {
				return nil, false
			}
			idx := st.index
			if idx < 0 {
				idx += len(seq)
			}
			if idx < 0 || idx >= len(seq) {
				return nil, false
			}
			cur = seq[idx]

		case stepEach:
			seq, ok := asSeq(cur)
			if !ok {
				return nil, false
			}
			return spread(seq, path[i+1:], distribute), true
		}
	}
	return cur, true
}

func spread(seq []any, rest Path, distribute bool) []any {
	out := make([]any, 0, len(seq))
	for _, el := range seq {
		v, ok := lookup(el, rest, distribute)
		if !ok {
			continue
		}
		out = append(out, v)
	}
	return out
}
