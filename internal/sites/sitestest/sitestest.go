// Package sitestest provides a canned sites.Fetcher for site tests.
package sitestest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"scrape/internal/extract"
)

// Call is one request seen by Fetcher.
type Call struct {
	Method string
	URL    string
	Query  url.Values
	Body   any
}

// Fetcher answers requests from fixed JSON bodies keyed by Key(method, url).
// Query strings are not part of the key; inspect Calls to assert on them.
type Fetcher struct {
	Bodies map[string]string
	Errors map[string]error

	mu    sync.Mutex
	calls []Call
}

// Key builds the lookup key for a request.
func Key(method, rawURL string) string {
	return method + " " + rawURL
}

func (f *Fetcher) Get(ctx context.Context, rawURL string, q url.Values) (any, error) {
	return f.answer(ctx, Call{Method: "GET", URL: rawURL, Query: q})
}

func (f *Fetcher) PostJSON(ctx context.Context, rawURL string, body any) (any, error) {
	// Round-trip the body so tests compare what would go on the wire.
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	wire, err := extract.DecodeBytes(b)
	if err != nil {
		return nil, err
	}
	return f.answer(ctx, Call{Method: "POST", URL: rawURL, Body: wire})
}

// Calls returns the requests seen so far, in order.
func (f *Fetcher) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fetcher) answer(ctx context.Context, c Call) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := Key(c.Method, c.URL)
	if err, ok := f.Errors[key]; ok {
		return nil, err
	}
	body, ok := f.Bodies[key]
	if !ok {
		return nil, fmt.Errorf("sitestest: no response for %s", key)
	}
	return extract.DecodeBytes([]byte(body))
}

// Normalize round-trips v through JSON so records built in Go compare equal
// to documents decoded from test fixtures.
func Normalize(t testing.TB, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := extract.DecodeBytes(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

// Doc decodes a JSON fixture.
func Doc(t testing.TB, s string) any {
	t.Helper()
	out, err := extract.DecodeBytes([]byte(s))
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return out
}
