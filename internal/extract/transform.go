package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TransformFunc rewrites a resolved value. Returning an error marks the spec
// as wrong for this data; the field then falls back to its default.
type TransformFunc func(v any) (any, error)

type transformFactory func(arg string) (TransformFunc, error)

// Transforms are referenced by name, optionally with an argument after the
// first colon: "trim", "join: - ", "prefix:https://www.digikala.com".
var transformFactories = map[string]transformFactory{
	"trim":      noArg(trimTransform),
	"int":       noArg(intTransform),
	"float":     noArg(floatTransform),
	"string":    noArg(stringTransform),
	"lower":     noArg(stringMap(strings.ToLower)),
	"upper":     noArg(stringMap(strings.ToUpper)),
	"first":     noArg(firstTransform),
	"last":      noArg(lastTransform),
	"len":       noArg(lenTransform),
	"compact":   noArg(compactTransform),
	"html_text": noArg(htmlTextTransform),
	"digits":    noArg(stringMap(foldDigits)),
	"nfc":       noArg(stringMap(norm.NFC.String)),
	"join":      joinTransform,
	"concat":    concatTransform,
	"prefix":    prefixTransform,
	"omit":      omitTransform,
}

// TransformNames lists the registered transform names.
func TransformNames() []string {
	names := make([]string, 0, len(transformFactories))
	for n := range transformFactories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewTransform resolves a transform expression such as "join:, ".
func NewTransform(expr string) (TransformFunc, error) {
	name, arg, _ := strings.Cut(expr, ":")
	f, ok := transformFactories[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownTransform, expr, strings.Join(TransformNames(), ", "))
	}
	return f(arg)
}

func noArg(fn TransformFunc) transformFactory {
	return func(arg string) (TransformFunc, error) {
		if arg != "" {
			return nil, fmt.Errorf("%w: transform takes no argument (got %q)", ErrSpec, arg)
		}
		return fn, nil
	}
}

func transformErr(name string, v any) error {
	return fmt.Errorf("%w: %s: unsupported value %T", ErrTransform, name, v)
}

func stringMap(fn func(string) string) TransformFunc {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, transformErr("string op", v)
		}
		return fn(s), nil
	}
}

func trimTransform(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, transformErr("trim", v)
	}
	return strings.TrimSpace(s), nil
}

// intTransform truncates numbers toward zero and parses integer strings.
func intTransform(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil && !math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: int: %q is not a number", ErrTransform, t.String())
		}
		return truncInt(f, t)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(foldDigits(t)), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: int: %q is not an integer", ErrTransform, t)
		}
		return i, nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return truncInt(t, t)
	}
	return nil, transformErr("int", v)
}

// truncInt converts f toward zero, rejecting values int64 cannot hold.
func truncInt(f float64, raw any) (any, error) {
	if math.IsNaN(f) || f >= 1<<63 || f < -(1<<63) {
		return nil, fmt.Errorf("%w: int: %v is out of range", ErrTransform, raw)
	}
	return int64(f), nil
}

func floatTransform(v any) (any, error) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(foldDigits(s)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: float: %q is not a number", ErrTransform, s)
		}
		return f, nil
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return nil, transformErr("float", v)
}

func stringTransform(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, transformErr("string", v)
}

func firstTransform(v any) (any, error) {
	seq, ok := asSeq(v)
	if !ok {
		return nil, transformErr("first", v)
	}
	if len(seq) == 0 {
		return nil, nil
	}
	return seq[0], nil
}

func lastTransform(v any) (any, error) {
	seq, ok := asSeq(v)
	if !ok {
		return nil, transformErr("last", v)
	}
	if len(seq) == 0 {
		return nil, nil
	}
	return seq[len(seq)-1], nil
}

func lenTransform(v any) (any, error) {
	switch t := v.(type) {
	case []any:
		return int64(len(t)), nil
	case map[string]any:
		return int64(len(t)), nil
	case string:
		return int64(len([]rune(t))), nil
	}
	return nil, transformErr("len", v)
}

func compactTransform(v any) (any, error) {
	seq, ok := asSeq(v)
	if !ok {
		return nil, transformErr("compact", v)
	}
	return Compact(seq), nil
}

// htmlTextTransform returns the visible text of an HTML fragment.
func htmlTextTransform(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, transformErr("html_text", v)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("%w: html_text: %v", ErrTransform, err)
	}
	return strings.TrimSpace(doc.Text()), nil
}

// joinTransform joins a sequence of strings with arg. Null elements are skipped.
func joinTransform(sep string) (TransformFunc, error) {
	return func(v any) (any, error) {
		seq, ok := asSeq(v)
		if !ok {
			return nil, transformErr("join", v)
		}
		parts := make([]string, 0, len(seq))
		for _, el := range seq {
			if el == nil {
				continue
			}
			s, ok := el.(string)
			if !ok {
				return nil, transformErr("join element", el)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, sep), nil
	}, nil
}

// concatTransform joins the string member arg of each mapping in a sequence
// with single spaces and trims the result. Missing members count as "".
func concatTransform(key string) (TransformFunc, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: concat needs a member name", ErrSpec)
	}
	return func(v any) (any, error) {
		seq, ok := asSeq(v)
		if !ok {
			return nil, transformErr("concat", v)
		}
		parts := make([]string, 0, len(seq))
		for _, el := range seq {
			m, ok := asMap(el)
			if !ok {
				return nil, transformErr("concat element", el)
			}
			s, _ := m[key].(string)
			parts = append(parts, s)
		}
		return strings.TrimSpace(strings.Join(parts, " ")), nil
	}, nil
}

func prefixTransform(prefix string) (TransformFunc, error) {
	return func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, transformErr("prefix", v)
		}
		return prefix + s, nil
	}, nil
}

// omitTransform copies a mapping without the comma-separated keys in arg.
func omitTransform(arg string) (TransformFunc, error) {
	drop := map[string]struct{}{}
	for _, k := range strings.Split(arg, ",") {
		if k = strings.TrimSpace(k); k != "" {
			drop[k] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil, fmt.Errorf("%w: omit needs at least one key", ErrSpec)
	}
	return func(v any) (any, error) {
		m, ok := asMap(v)
		if !ok {
			return nil, transformErr("omit", v)
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			if _, skip := drop[k]; skip {
				continue
			}
			out[k] = val
		}
		return out, nil
	}, nil
}

func mapDigit(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	}
	return r
}

// foldDigits rewrites Persian and Arabic-Indic digits as ASCII digits.
func foldDigits(s string) string {
	out, _, err := transform.String(runes.Map(mapDigit), s)
	if err != nil {
		return s
	}
	return out
}
