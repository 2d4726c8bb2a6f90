package extract

import (
	"encoding/json"
	"reflect"
	"testing"
)

func mustDecode(t *testing.T, s string) any {
	t.Helper()
	doc, err := DecodeBytes([]byte(s))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	return doc
}

func TestDecode_KeepsNumbersExact(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{"id": 9007199254740993}`)
	got, ok := Lookup(doc, MustPath("id"))
	if !ok || got != json.Number("9007199254740993") {
		t.Fatalf("expected exact json.Number, got %#v ok=%v", got, ok)
	}
}

func TestDecode_Empty(t *testing.T) {
	t.Parallel()

	if _, err := DecodeBytes(nil); err == nil {
		t.Fatalf("expected error for empty body")
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{
		"data": {
			"products": [
				{"id": 1, "images": {"main": {"url": ["a.jpg", "b.jpg"]}}},
				{"id": 2, "images": null}
			],
			"empty": [],
			"nothing": null
		}
	}`)

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "root", path: "", want: doc, wantOK: true},
		{name: "nested scalar", path: "data.products[0].id", want: json.Number("1"), wantOK: true},
		{name: "negative index", path: "data.products[-1].id", want: json.Number("2"), wantOK: true},
		{name: "index into url list", path: "data.products[0].images.main.url[1]", want: "b.jpg", wantOK: true},
		{name: "present null", path: "data.nothing", want: nil, wantOK: true},
		{name: "missing key", path: "data.missing", wantOK: false},
		{name: "through null", path: "data.products[1].images.main", wantOK: false},
		{name: "index out of range", path: "data.products[5]", wantOK: false},
		{name: "key on sequence", path: "data.products.id", wantOK: false},
		{name: "index on mapping", path: "data[0]", wantOK: false},
		{name: "key on scalar", path: "data.products[0].id.x", wantOK: false},
		{name: "explicit each", path: "data.products[*].id", want: []any{json.Number("1"), json.Number("2")}, wantOK: true},
		{name: "each skips unresolved", path: "data.products[*].images.main.url[0]", want: []any{"a.jpg"}, wantOK: true},
		{name: "each over empty", path: "data.empty[*].id", want: []any{}, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(doc, MustPath(tt.path))
			if ok != tt.wantOK {
				t.Fatalf("Lookup(%q) ok=%v want %v (value %#v)", tt.path, ok, tt.wantOK, got)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Lookup(%q) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestLookupEach_DistributesImplicitly(t *testing.T) {
	t.Parallel()

	doc := mustDecode(t, `{"sections": [
		{"items": [{"url": "a"}, {"url": "b"}]},
		{"items": [{"url": "c"}, {"other": true}]}
	]}`)

	got, ok := LookupEach(doc, MustPath("sections.items.url"))
	if !ok {
		t.Fatalf("expected ok")
	}
	want := []any{[]any{"a", "b"}, []any{"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}

	if _, ok := Lookup(doc, MustPath("sections.items.url")); ok {
		t.Fatalf("strict Lookup must not distribute")
	}
}
