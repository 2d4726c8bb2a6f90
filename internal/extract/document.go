package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Record is the output of one extraction. Nested composite fields are Records
// as well; distributed fields are []any.
type Record = map[string]any

// Decode parses a single JSON document from r.
//
// Numbers are decoded as json.Number so a resolved scalar compares equal to
// the text that was received (no float64 rounding of large IDs).
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode json: empty document")
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return doc, nil
}

// DecodeBytes is Decode over an in-memory body.
func DecodeBytes(b []byte) (any, error) {
	return Decode(bytes.NewReader(b))
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSeq(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}
