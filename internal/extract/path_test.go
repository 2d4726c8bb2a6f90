package extract

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePath_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Path
	}{
		{in: "", want: Path{}},
		{in: "data", want: Path{Key("data")}},
		{in: "data.products[0].url.uri", want: Path{Key("data"), Key("products"), Index(0), Key("url"), Key("uri")}},
		{in: "items[*].id", want: Path{Key("items"), Each(), Key("id")}},
		{in: "[0]", want: Path{Index(0)}},
		{in: "images[-1]", want: Path{Key("images"), Index(-1)}},
		{in: `a["b.c"].d`, want: Path{Key("a"), Key("b.c"), Key("d")}},
		{in: `["@type"]`, want: Path{Key("@type")}},
		{in: "page-size", want: Path{Key("page-size")}},
		{in: "m[1][2]", want: Path{Key("m"), Index(1), Index(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			if err != nil {
				t.Fatalf("ParsePath(%q): %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got, cmp.AllowUnexported(Step{})); diff != "" {
				t.Fatalf("ParsePath(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParsePath_Errors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{".a", "a.", "a..b", "a[", "a[x]", "a]", "a.[0]", "a[0]b", `a["b`} {
		if _, err := ParsePath(in); !errors.Is(err, ErrBadPath) {
			t.Fatalf("ParsePath(%q): expected ErrBadPath, got %v", in, err)
		}
	}
}

func TestPathString_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"data.items[*].id", `a["b.c"][2]`, "x[-1].y"} {
		p := MustPath(in)
		again, err := ParsePath(p.String())
		if err != nil {
			t.Fatalf("reparse %q (%q): %v", in, p.String(), err)
		}
		if diff := cmp.Diff(p, again, cmp.AllowUnexported(Step{})); diff != "" {
			t.Fatalf("round trip %q mismatch:\n%s", in, diff)
		}
	}
}

func TestMustPath_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MustPath("a..b")
}
