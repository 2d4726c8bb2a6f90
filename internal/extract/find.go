package extract

import "sort"

// FindKey returns the value of the first occurrence of key anywhere in root.
//
// The walk is depth-first and deterministic: at each mapping the key itself is
// checked before any child, then children are visited in sorted key order;
// sequences are visited in index order. When the key appears at several
// depths along one branch the shallowest wins.
func FindKey(root any, key string) (any, bool) {
	switch n := root.(type) {
	case map[string]any:
		if v, ok := n[key]; ok {
			return v, true
		}
		for _, k := range sortedKeys(n) {
			if v, ok := FindKey(n[k], key); ok {
				return v, true
			}
		}
	case []any:
		for _, el := range n {
			if v, ok := FindKey(el, key); ok {
				return v, true
			}
		}
	}
	return nil, false
}

// FindAll returns every mapping in root for which match reports true, in the
// same order FindKey visits nodes. Matched mappings are still descended into.
func FindAll(root any, match func(map[string]any) bool) []map[string]any {
	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch n := v.(type) {
		case map[string]any:
			if match(n) {
				out = append(out, n)
			}
			for _, k := range sortedKeys(n) {
				walk(n[k])
			}
		case []any:
			for _, el := range n {
				walk(el)
			}
		}
	}
	walk(root)
	return out
}

// FindFirst is FindAll stopped at the first match.
func FindFirst(root any, match func(map[string]any) bool) (map[string]any, bool) {
	switch n := root.(type) {
	case map[string]any:
		if match(n) {
			return n, true
		}
		for _, k := range sortedKeys(n) {
			if m, ok := FindFirst(n[k], match); ok {
				return m, true
			}
		}
	case []any:
		for _, el := range n {
			if m, ok := FindFirst(el, match); ok {
				return m, true
			}
		}
	}
	return nil, false
}

// KeyEquals matches mappings whose key holds a scalar equal to want.
func KeyEquals(key string, want any) func(map[string]any) bool {
	return func(m map[string]any) bool {
		v, ok := m[key]
		return ok && scalarEqual(v, want)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
