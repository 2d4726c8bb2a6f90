package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"scrape/internal/extract"
	"scrape/internal/fetch"
	"scrape/internal/metrics"
	"scrape/internal/sites"
	"scrape/internal/sites/sitestest"
)

// countingBackend records counter totals by metric name.
type countingBackend struct {
	mu       sync.Mutex
	counters map[string]float64
	flushed  int
	closed   bool
}

func (b *countingBackend) IncCounter(name string, delta float64, _ metrics.Labels) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counters == nil {
		b.counters = map[string]float64{}
	}
	b.counters[name] += delta
}

func (b *countingBackend) ObserveHistogram(string, float64, metrics.Labels) {}

func (b *countingBackend) Flush() error {
	b.mu.Lock()
	b.flushed++
	b.mu.Unlock()
	return nil
}

func (b *countingBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

const searchURL = "https://api.digikala.com/v1/search/"

const twoProducts = `{"data": {"products": [
	{"id": 1, "title_fa": "اول", "url": {"uri": "/product/dkp-1/"}},
	{"id": 2, "title_fa": "دوم"}
]}}`

func fakeDeps(f *sitestest.Fetcher, stdout, stderr *bytes.Buffer) deps {
	return deps{
		Stdout:     stdout,
		Stderr:     stderr,
		NewFetcher: func(fetch.Options) sites.Fetcher { return f },
		Now:        func() time.Time { return time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		args      []string
		wantErr   string
		wantField func(t *testing.T, cfg runConfig)
	}{
		{name: "missing_site", args: []string{}, wantErr: "missing required -site"},
		{name: "unknown_site", args: []string{"-site", "amazon", "-op", "x"}, wantErr: `unknown -site "amazon"`},
		{name: "missing_op", args: []string{"-site", "divar"}, wantErr: "missing required -op"},
		{name: "bad_page", args: []string{"-site", "divar", "-op", "search", "-page", "0"}, wantErr: "-page must be >= 1"},
		{name: "bad_limit", args: []string{"-site", "divar", "-op", "search", "-limit", "-1"}, wantErr: "-limit must be >= 0"},
		{name: "bad_attempts", args: []string{"-site", "divar", "-op", "search", "-max_attempts", "0"}, wantErr: "-max_attempts must be > 0"},
		{name: "store_without_dsn", args: []string{"-site", "divar", "-op", "search", "-store", "sqlite"}, wantErr: "-store needs -dsn"},
		{name: "bad_metrics", args: []string{"-site", "divar", "-op", "search", "-metrics", "statsd"}, wantErr: `unknown -metrics "statsd"`},
		{name: "bad_log_level", args: []string{"-site", "divar", "-op", "search", "-log_level", "loud"}, wantErr: "-log_level"},
		{name: "bad_filters_json", args: []string{"-site", "divar", "-op", "search", "-filters", "{"}, wantErr: "-filters"},
		{name: "filters_not_object", args: []string{"-site", "divar", "-op", "search", "-filters", "[1]"}, wantErr: "must be a JSON object"},
		{name: "help", args: []string{"-h"}, wantErr: "Usage of scrape"},
		{
			name: "defaults",
			args: []string{"-site", "digikala", "-op", "search", "-q", "x"},
			wantField: func(t *testing.T, cfg runConfig) {
				if cfg.Params.Page != 1 || cfg.Params.Limit != 0 {
					t.Fatalf("Page=%d Limit=%d, want 1 and 0", cfg.Params.Page, cfg.Params.Limit)
				}
				if cfg.MaxAttempts != 4 || cfg.Timeout != 30*time.Second {
					t.Fatalf("MaxAttempts=%d Timeout=%v", cfg.MaxAttempts, cfg.Timeout)
				}
				if cfg.JobName != "scrape" || cfg.Out != "" {
					t.Fatalf("JobName=%q Out=%q", cfg.JobName, cfg.Out)
				}
			},
		},
		{
			name: "filters_and_level",
			args: []string{"-site", "digikala", "-op", "search", "-filters", `{"price": {"min": 10}}`, "-log_level", "debug"},
			wantField: func(t *testing.T, cfg runConfig) {
				lo, ok := extract.Lookup(cfg.Params.Filters, extract.MustPath("price.min"))
				if !ok || lo != json.Number("10") {
					t.Fatalf("filters=%v", cfg.Params.Filters)
				}
				if cfg.LogLevel.String() != "DEBUG" {
					t.Fatalf("LogLevel=%v", cfg.LogLevel)
				}
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseFlags(tc.args)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("parseFlags() err=%v, want contains %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags() err=%v, want nil", err)
			}
			if tc.wantField != nil {
				tc.wantField(t, cfg)
			}
		})
	}
}

func TestRun_WritesOutputAndStores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.json")
	storeDir := filepath.Join(dir, "store")

	f := &sitestest.Fetcher{Bodies: map[string]string{sitestest.Key("GET", searchURL): twoProducts}}
	var out, errOut bytes.Buffer
	args := []string{"-site", "digikala", "-op", "search", "-q", "ماشین", "-o", outPath, "-store", "file", "-dsn", storeDir}

	if code := run(context.Background(), args, fakeDeps(f, &out, &errOut)); code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%s", code, errOut.String())
	}
	if out.Len() != 0 {
		t.Fatalf("stdout=%q, want empty when -o is set", out.String())
	}

	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(b), `"title_fa": "اول"`) {
		t.Fatalf("output is not unescaped 4-space JSON:\n%s", b)
	}
	got := sitestest.Doc(t, string(b)).([]any)
	if len(got) != 2 {
		t.Fatalf("output records=%d want 2", len(got))
	}

	stored, err := os.ReadFile(filepath.Join(storeDir, "digikala_search.json"))
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	entries := sitestest.Doc(t, string(stored)).([]any)
	if len(entries) != 2 {
		t.Fatalf("stored entries=%d want 2", len(entries))
	}
	q, _ := extract.Lookup(entries[0], extract.MustPath("query"))
	if q != "ماشین" {
		t.Fatalf("stored query=%v", q)
	}

	// A second identical run adds nothing.
	if code := run(context.Background(), args, fakeDeps(f, &out, &errOut)); code != 0 {
		t.Fatalf("second run()=%d", code)
	}
	if !strings.Contains(errOut.String(), `"inserted":0`) {
		t.Fatalf("stderr=%s, want inserted 0 on rerun", errOut.String())
	}
}

func TestRun_Stdout(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("GET", "https://api.divar.ir/v8/posts-v2/web/tok"): `{"sections": [
			{"section_name": "TITLE", "widgets": [{"data": {"title": "گیتار"}}]}
		]}`,
	}}
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-site", "divar", "-op", "post", "-token", "tok"}, fakeDeps(f, &out, &errOut))
	if code != 0 {
		t.Fatalf("run()=%d, want 0; stderr=%s", code, errOut.String())
	}
	got := sitestest.Doc(t, out.String())
	title, _ := extract.Lookup(got, extract.MustPath("title"))
	if title != "گیتار" {
		t.Fatalf("stdout=%s", out.String())
	}
}

func TestRun_NoResultsIsSuccess(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.json")
	f := &sitestest.Fetcher{Bodies: map[string]string{
		sitestest.Key("GET", searchURL): `{"data": {"products": []}}`,
	}}
	var out, errOut bytes.Buffer
	code := run(context.Background(), []string{"-site", "digikala", "-op", "search", "-q", "x", "-o", outPath}, fakeDeps(f, &out, &errOut))
	if code != 0 {
		t.Fatalf("run()=%d, want 0", code)
	}
	if !strings.Contains(errOut.String(), "no results") {
		t.Fatalf("stderr=%s, want a no results warning", errOut.String())
	}
	if _, err := os.Stat(outPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output written for empty run: %v", err)
	}
}

func TestRun_Errors(t *testing.T) {
	t.Parallel()

	f := &sitestest.Fetcher{Errors: map[string]error{
		sitestest.Key("GET", searchURL): errors.New("connection reset"),
	}}

	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr string
	}{
		{name: "fetch_failure", args: []string{"-site", "digikala", "-op", "search", "-q", "x"}, want: 1, wantErr: "connection reset"},
		{name: "unknown_op", args: []string{"-site", "digikala", "-op", "reviews"}, want: 2, wantErr: `unknown operation "reviews"`},
		{name: "unknown_store", args: []string{"-site", "digikala", "-op", "search", "-store", "redis", "-dsn", "x"}, want: 2, wantErr: "open store"},
		{name: "flags", args: []string{}, want: 2, wantErr: "missing required -site"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out, errOut bytes.Buffer
			if code := run(context.Background(), tc.args, fakeDeps(f, &out, &errOut)); code != tc.want {
				t.Fatalf("run()=%d, want %d; stderr=%s", code, tc.want, errOut.String())
			}
			if !strings.Contains(errOut.String(), tc.wantErr) {
				t.Fatalf("stderr=%s, want contains %q", errOut.String(), tc.wantErr)
			}
		})
	}
}

func TestRun_NilFetcherFactory(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	if code := run(context.Background(), []string{"-site", "divar", "-op", "post"}, deps{Stderr: &errOut}); code != 2 {
		t.Fatalf("run()=%d, want 2", code)
	}
}

// Not parallel: installs the process-wide metrics backend.
func TestRun_DatadogMetrics(t *testing.T) {
	f := &sitestest.Fetcher{Bodies: map[string]string{sitestest.Key("GET", searchURL): twoProducts}}
	backend := &countingBackend{}
	var gotTags []string

	d := fakeDeps(f, &bytes.Buffer{}, &bytes.Buffer{})
	d.BackendFactory = func(_ context.Context, jobName string, tags []string, _ time.Duration) (backendCloser, error) {
		if jobName != "nightly" {
			t.Errorf("jobName=%q", jobName)
		}
		gotTags = tags
		return backend, nil
	}

	args := []string{"-site", "digikala", "-op", "search", "-q", "x", "-metrics", "datadog", "-name", "nightly", "-dd_tags", "env:test"}
	if code := run(context.Background(), args, d); code != 0 {
		t.Fatalf("run()=%d, want 0", code)
	}

	if diff := cmp.Diff([]string{"env:test", "tool:scrape", "site:digikala"}, gotTags); diff != "" {
		t.Fatalf("tags (-want +got):\n%s", diff)
	}
	if got := backend.counters[metrics.RecordsTotal]; got != 2 {
		t.Fatalf("records counter=%v want 2", got)
	}
	if backend.flushed == 0 || !backend.closed {
		t.Fatalf("flushed=%d closed=%v", backend.flushed, backend.closed)
	}

	// The backend is uninstalled when run returns.
	metrics.RecordExtraction("digikala", "search", 5, 0)
	if got := backend.counters[metrics.RecordsTotal]; got != 2 {
		t.Fatalf("records counter after run=%v want 2", got)
	}

	d.BackendFactory = func(context.Context, string, []string, time.Duration) (backendCloser, error) {
		return nil, errors.New("no api key")
	}
	if code := run(context.Background(), args, d); code != 2 {
		t.Fatalf("run() with failing backend=%d, want 2", code)
	}
}
