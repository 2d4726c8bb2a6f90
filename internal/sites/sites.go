// Package sites holds what the per-site scrapers share: the HTTP dependency,
// operation parameters, and the result shape commands print and store.
package sites

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"scrape/internal/extract"
)

// ErrNoResults reports a well-formed response that carried nothing to
// extract. Commands treat it as an empty, successful run.
var ErrNoResults = errors.New("no results")

// Fetcher performs JSON requests. *fetch.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, q url.Values) (any, error)
	PostJSON(ctx context.Context, rawURL string, body any) (any, error)
}

// Params are the inputs an operation may use. Each operation documents which
// ones it reads.
type Params struct {
	Query    string
	Category string
	City     string
	Page     int
	Limit    int
	Filters  map[string]any
	Token    string
	URL      string
}

// Result is the outcome of one operation.
//
// Output is what commands print; Records are what storage persists (one per
// result, or a single record for object-shaped outputs). FieldErrors joins
// any non-fatal transform failures met while assembling.
type Result struct {
	Output      any
	Records     []extract.Record
	FieldErrors error
}

// Operation runs one site call.
type Operation func(ctx context.Context, p Params) (Result, error)

// Site is a named set of operations.
type Site struct {
	Name       string
	Operations map[string]Operation
}

// OperationNames lists the operations of s, sorted.
func (s Site) OperationNames() []string {
	out := make([]string, 0, len(s.Operations))
	for k := range s.Operations {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the named operation.
func (s Site) Lookup(op string) (Operation, error) {
	fn, ok := s.Operations[op]
	if !ok {
		return nil, fmt.Errorf("%s: unknown operation %q (have %s)", s.Name, op, strings.Join(s.OperationNames(), ", "))
	}
	return fn, nil
}

// Numbered keys records as result_1, result_2, ... in order.
func Numbered(recs []extract.Record) map[string]any {
	out := make(map[string]any, len(recs))
	for i, r := range recs {
		out["result_"+strconv.Itoa(i+1)] = r
	}
	return out
}

// Single wraps an object-shaped output as a Result.
func Single(rec extract.Record, fieldErrs error) Result {
	return Result{Output: rec, Records: []extract.Record{rec}, FieldErrors: fieldErrs}
}

// List wraps a record list printed as a JSON array.
func List(recs []extract.Record, fieldErrs error) Result {
	return Result{Output: recs, Records: recs, FieldErrors: fieldErrs}
}

// NumberedList wraps a record list printed as {"result_N": ...}.
func NumberedList(recs []extract.Record, fieldErrs error) Result {
	return Result{Output: Numbered(recs), Records: recs, FieldErrors: fieldErrs}
}

// CountErrors returns how many errors err joins (0 for nil, 1 for a plain
// error).
func CountErrors(err error) int {
	if err == nil {
		return 0
	}
	var j interface{ Unwrap() []error }
	if errors.As(err, &j) {
		n := 0
		for _, e := range j.Unwrap() {
			n += CountErrors(e)
		}
		return n
	}
	return 1
}

// Limit truncates recs to n when n > 0.
func Limit(recs []extract.Record, n int) []extract.Record {
	if n > 0 && len(recs) > n {
		return recs[:n]
	}
	return recs
}
