package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// Unique drops repeated values, keeping the first occurrence of each.
//
// Values are compared by content: json.Number("2") and float64(2) are equal,
// and mappings/sequences compare by their canonical JSON encoding.
func Unique(values []any) []any {
	seen := make(map[string]struct{}, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		k := valueKey(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Compact drops nil and empty-string elements.
func Compact(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if isEmpty(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func valueKey(v any) string {
	switch t := v.(type) {
	case nil:
		return "z"
	case string:
		return "s:" + t
	case bool:
		return "b:" + strconv.FormatBool(t)
	}
	if k, ok := numberKey(v); ok {
		return k
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("x:%#v", v)
	}
	return "j:" + string(b)
}

// keyPrec holds any int64 and any float64 exactly, so integral values compare
// without rounding.
const keyPrec = 512

// numberKey canonicalizes a number by value. Integral values are keyed by
// their exact big.Float text; fractional ones by their float64 rounding, so
// json.Number("0.1") and 0.1 agree.
func numberKey(v any) (string, bool) {
	f := new(big.Float).SetPrec(keyPrec)
	switch t := v.(type) {
	case int:
		f.SetInt64(int64(t))
	case int32:
		f.SetInt64(int64(t))
	case int64:
		f.SetInt64(t)
	case float32:
		return floatKey(float64(t)), true
	case float64:
		return floatKey(t), true
	case json.Number:
		if _, ok := f.SetString(t.String()); !ok {
			return "", false
		}
	default:
		return "", false
	}
	if f.Sign() == 0 {
		return "n:0", true
	}
	if f.IsInt() {
		return "n:" + f.Text('g', -1), true
	}
	x, _ := f.Float64()
	return "n:" + strconv.FormatFloat(x, 'g', -1, 64), true
}

func floatKey(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
	}
	if x == 0 {
		return "n:0"
	}
	f := new(big.Float).SetPrec(keyPrec).SetFloat64(x)
	if f.IsInt() {
		return "n:" + f.Text('g', -1)
	}
	return "n:" + strconv.FormatFloat(x, 'g', -1, 64)
}

func scalarEqual(a, b any) bool {
	return valueKey(a) == valueKey(b)
}

// toFloat reports numeric values of the types a document or a Go caller may
// carry.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	}
	return 0, false
}
