package extract

import (
	"fmt"
	"strconv"
	"strings"
)

type stepKind uint8

const (
	stepKey stepKind = iota
	stepIndex
	stepEach
)

// Step is one accessor in a Path.
type Step struct {
	kind  stepKind
	key   string
	index int
}

// Key selects a member of a mapping.
func Key(name string) Step { return Step{kind: stepKey, key: name} }

// Index selects a sequence element. Negative values count from the end.
func Index(i int) Step { return Step{kind: stepIndex, index: i} }

// Each applies the remaining steps to every element of a sequence.
func Each() Step { return Step{kind: stepEach} }

func (s Step) String() string {
	switch s.kind {
	case stepIndex:
		return "[" + strconv.Itoa(s.index) + "]"
	case stepEach:
		return "[*]"
	default:
		if s.key == "" || strings.ContainsAny(s.key, ".[]\"") {
			return "[" + strconv.Quote(s.key) + "]"
		}
		return s.key
	}
}

// Path is an ordered list of accessors. The empty path addresses the root.
type Path []Step

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		str := s.String()
		if i > 0 && s.kind == stepKey && !strings.HasPrefix(str, "[") {
			b.WriteByte('.')
		}
		b.WriteString(str)
	}
	return b.String()
}

// ParsePath parses the dotted path syntax used by spec files:
//
//	data.products[0].url.uri
//	data.items[*].category.title_fa
//	page["widget-list"][-1]
//
// Keys are separated by dots; [n] indexes a sequence, [*] distributes over it,
// and ["..."] quotes keys that contain dots or brackets.
func ParsePath(s string) (Path, error) {
	const (
		start = iota
		afterKey
		afterBracket
		afterDot
	)

	p := Path{}
	state := start
	i := 0
	for i < len(s) {
		switch c := s[i]; c {
		case '.':
			if state != afterKey && state != afterBracket {
				return nil, badPath(s, i, "unexpected '.'")
			}
			state = afterDot
			i++

		case '[':
			if state == afterDot {
				return nil, badPath(s, i, "'[' after '.'")
			}
			step, n, err := parseBracket(s, i)
			if err != nil {
				return nil, err
			}
			p = append(p, step)
			state = afterBracket
			i += n

		case ']':
			return nil, badPath(s, i, "unexpected ']'")

		default:
			if state != start && state != afterDot {
				return nil, badPath(s, i, "missing '.' before key")
			}
			j := i
			for j < len(s) && s[j] != '.' && s[j] != '[' && s[j] != ']' {
				j++
			}
			p = append(p, Key(s[i:j]))
			state = afterKey
			i = j
		}
	}
	if state == afterDot {
		return nil, badPath(s, len(s), "trailing '.'")
	}
	return p, nil
}

// MustPath is ParsePath for paths known at compile time.
func MustPath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// parseBracket parses "[...]" starting at s[i] and returns the step and the
// number of bytes consumed.
func parseBracket(s string, i int) (Step, int, error) {
	rest := s[i+1:]
	if strings.HasPrefix(rest, `"`) {
		end := strings.Index(rest, `"]`)
		for end >= 0 && end > 0 && rest[end-1] == '\\' {
			next := strings.Index(rest[end+1:], `"]`)
			if next < 0 {
				end = -1
				break
			}
			end += next + 1
		}
		if end <= 0 {
			return Step{}, 0, badPath(s, i, "unterminated quoted key")
		}
		key, err := strconv.Unquote(rest[:end+1])
		if err != nil {
			return Step{}, 0, badPath(s, i, "invalid quoted key")
		}
		return Key(key), end + 3, nil
	}

	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return Step{}, 0, badPath(s, i, "unclosed '['")
	}
	inner := strings.TrimSpace(rest[:end])
	if inner == "*" {
		return Each(), end + 2, nil
	}
	n, err := strconv.Atoi(inner)
	if err != nil {
		return Step{}, 0, badPath(s, i, fmt.Sprintf("bad index %q", inner))
	}
	return Index(n), end + 2, nil
}

func badPath(s string, pos int, msg string) error {
	return fmt.Errorf("%w: %q at offset %d: %s", ErrBadPath, s, pos, msg)
}
