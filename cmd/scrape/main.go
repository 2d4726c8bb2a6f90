// Command scrape runs one site operation, prints or writes the extracted
// JSON, and optionally stores the records.
//
// Usage:
//
//	scrape -site digikala -op search -q "ماشین کنترلی" -filters '{"has_selling_stock": true}' -o out.json
//	scrape -site divar -op post -token Aa5BgqFj
//	scrape -site jabama -op search -q city-ramsar -limit 3 -store sqlite -dsn scrape.db
//
// Operations per site:
//
//	digikala: autocomplete (-q), search (-q -page -filters -limit), product (-url)
//	divar:    suggestions (-q -city), filters (-q -category -city),
//	          search (-q -category -city -filters -limit), post (-token)
//	jabama:   suggestions (-q), filters (-q keyword), search (-q keyword -filters -limit)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"scrape/internal/extract"
	"scrape/internal/fetch"
	"scrape/internal/metrics"
	"scrape/internal/metrics/datadog"
	"scrape/internal/sites"
	"scrape/internal/sites/digikala"
	"scrape/internal/sites/divar"
	"scrape/internal/sites/jabama"
	"scrape/internal/storage"
	_ "scrape/internal/storage/all"
	"scrape/internal/storage/file"
)

// backendCloser is the metrics backend this command manages.
type backendCloser interface {
	metrics.Backend
	Flush() error
	Close() error
}

// deps are external seams for testability.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	NewFetcher     func(opts fetch.Options) sites.Fetcher
	Now            func() time.Time
}

// runConfig holds the parsed flags and derived values for a run.
type runConfig struct {
	Site   string
	Op     string
	Params sites.Params

	Out       string
	StoreKind string
	DSN       string

	Metrics    string
	JobName    string
	DDTagsCSV  string
	FlushEvery time.Duration

	Timeout     time.Duration
	MaxAttempts int
	LogLevel    slog.Level
}

// siteNames lists the sites -site accepts.
var siteNames = []string{"digikala", "divar", "jabama"}

func newSite(name string, f sites.Fetcher) (sites.Site, error) {
	switch name {
	case "digikala":
		return digikala.New(f).Site(), nil
	case "divar":
		return divar.New(f).Site(), nil
	case "jabama":
		return jabama.New(f).Site(), nil
	}
	return sites.Site{}, fmt.Errorf("unknown site %q (have %s)", name, strings.Join(siteNames, ", "))
}

func main() {
	code := run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		NewFetcher: func(opts fetch.Options) sites.Fetcher { return fetch.New(opts) },
		Now:        time.Now,
	})
	os.Exit(code)
}

// run executes one operation and returns an exit code.
//
// Exit codes:
//   - 0: success, including a run that found nothing.
//   - 1: the request, output write, or store failed.
//   - 2: configuration/initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewFetcher == nil {
		fmt.Fprintln(d.Stderr, "internal error: NewFetcher is nil")
		return 2
	}

	cfg, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(d.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	logger = logger.With("site", cfg.Site, "op", cfg.Op)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics == "datadog" {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.DDTagsCSV), "tool:scrape", "site:"+cfg.Site)
		backend, err := d.BackendFactory(ctx, cfg.JobName, tags, cfg.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			if err := metrics.Flush(); err != nil {
				logger.Warn("metrics flush failed", "error", err.Error())
			}
			_ = backend.Close()
			metrics.SetBackend(nil)
		}()
	}

	fetcher := d.NewFetcher(fetch.Options{
		Site:        cfg.Site,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})
	site, err := newSite(cfg.Site, fetcher)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	op, err := site.Lookup(cfg.Op)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	var sink storage.Sink
	if cfg.StoreKind != "" {
		sink, err = storage.New(ctx, storage.Config{Kind: cfg.StoreKind, DSN: cfg.DSN})
		if err != nil {
			fmt.Fprintf(d.Stderr, "open store: %v\n", err)
			return 2
		}
		defer sink.Close()
		if err := sink.EnsureSchema(ctx); err != nil {
			fmt.Fprintf(d.Stderr, "ensure schema: %v\n", err)
			return 2
		}
	}

	start := d.Now()
	res, err := op(ctx, cfg.Params)
	if errors.Is(err, sites.ErrNoResults) {
		logger.Warn("no results", "query", batchQuery(cfg.Params))
		metrics.RecordExtraction(cfg.Site, cfg.Op, 0, 0)
		return 0
	}
	if err != nil {
		logger.Error("operation failed", "error", err.Error())
		return 1
	}

	fieldErrs := sites.CountErrors(res.FieldErrors)
	if fieldErrs > 0 {
		logger.Warn("field errors", "count", fieldErrs, "error", res.FieldErrors.Error())
	}
	metrics.RecordExtraction(cfg.Site, cfg.Op, len(res.Records), fieldErrs)

	if err := writeOutput(cfg.Out, d.Stdout, res.Output); err != nil {
		logger.Error("write output failed", "path", cfg.Out, "error", err.Error())
		return 1
	}

	if sink != nil && len(res.Records) > 0 {
		n, err := sink.SaveRecords(ctx, storage.Batch{
			RunID:     storage.NewRunID(),
			Site:      cfg.Site,
			Operation: cfg.Op,
			Query:     batchQuery(cfg.Params),
			FetchedAt: start,
			Records:   res.Records,
		})
		if err != nil {
			logger.Error("store failed", "store", cfg.StoreKind, "error", err.Error())
			return 1
		}
		logger.Info("stored", "store", cfg.StoreKind, "inserted", n, "records", len(res.Records))
	}

	logger.Info("done",
		"records", len(res.Records),
		"field_errors", fieldErrs,
		"duration_ms", d.Now().Sub(start).Milliseconds(),
	)
	return 0
}

// parseFlags parses command arguments into a validated runConfig.
func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("scrape", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var (
		cfg         runConfig
		filtersJSON string
		logLevel    string
	)
	fs.StringVar(&cfg.Site, "site", "", "Site to scrape: "+strings.Join(siteNames, ", "))
	fs.StringVar(&cfg.Op, "op", "", "Operation to run (see package doc)")
	fs.StringVar(&cfg.Params.Query, "q", "", "Search query or destination keyword")
	fs.StringVar(&cfg.Params.Category, "category", "", "Category slug (divar)")
	fs.StringVar(&cfg.Params.City, "city", "", "City id (divar, default 1)")
	fs.IntVar(&cfg.Params.Page, "page", 1, "Result page (digikala search)")
	fs.IntVar(&cfg.Params.Limit, "limit", 0, "Max results (0 means the site default)")
	fs.StringVar(&filtersJSON, "filters", "", "Search filters as a JSON object")
	fs.StringVar(&cfg.Params.Token, "token", "", "Post token (divar post)")
	fs.StringVar(&cfg.Params.URL, "url", "", "Product page URL (digikala product)")

	fs.StringVar(&cfg.Out, "o", "", "Output JSON file (default stdout)")
	fs.StringVar(&cfg.StoreKind, "store", "", "Also store records: "+strings.Join(storage.Kinds(), ", "))
	fs.StringVar(&cfg.DSN, "dsn", "", "Store DSN (a directory for -store file)")

	fs.StringVar(&cfg.Metrics, "metrics", "", `Metrics backend: "" (off) or datadog`)
	fs.StringVar(&cfg.JobName, "name", "scrape", "Logical job name used in metrics")
	fs.StringVar(&cfg.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,team:data)")
	fs.DurationVar(&cfg.FlushEvery, "metrics_flush", time.Minute, "Datadog flush interval")

	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "HTTP timeout per attempt")
	fs.IntVar(&cfg.MaxAttempts, "max_attempts", 4, "Max attempts per request (including the first)")
	fs.StringVar(&logLevel, "log_level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if cfg.Site == "" {
		return runConfig{}, errors.New("missing required -site")
	}
	if !contains(siteNames, cfg.Site) {
		return runConfig{}, fmt.Errorf("unknown -site %q (have %s)", cfg.Site, strings.Join(siteNames, ", "))
	}
	if cfg.Op == "" {
		return runConfig{}, errors.New("missing required -op")
	}
	if cfg.Params.Page < 1 {
		return runConfig{}, errors.New("-page must be >= 1")
	}
	if cfg.Params.Limit < 0 {
		return runConfig{}, errors.New("-limit must be >= 0")
	}
	if cfg.MaxAttempts <= 0 {
		return runConfig{}, errors.New("-max_attempts must be > 0")
	}
	if cfg.Timeout <= 0 {
		return runConfig{}, errors.New("-timeout must be > 0")
	}
	if cfg.StoreKind != "" && cfg.DSN == "" {
		return runConfig{}, errors.New("-store needs -dsn")
	}
	if cfg.Metrics != "" && cfg.Metrics != "datadog" {
		return runConfig{}, fmt.Errorf("unknown -metrics %q", cfg.Metrics)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return runConfig{}, fmt.Errorf("-log_level: %v", err)
	}

	if filtersJSON != "" {
		filters, err := parseFilters(filtersJSON)
		if err != nil {
			return runConfig{}, err
		}
		cfg.Params.Filters = filters
	}
	return cfg, nil
}

func parseFilters(s string) (map[string]any, error) {
	v, err := extract.DecodeBytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("-filters: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("-filters must be a JSON object, got %T", v)
	}
	return m, nil
}

func writeOutput(path string, stdout io.Writer, v any) error {
	if path == "" || path == "-" {
		return file.Encode(stdout, v)
	}
	return file.WriteJSON(path, v)
}

// batchQuery is the input that identifies a run in storage.
func batchQuery(p sites.Params) string {
	for _, s := range []string{p.Query, p.Token, p.URL} {
		if s != "" {
			return s
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	i := sort.SearchStrings(list, s)
	return i < len(list) && list[i] == s
}
