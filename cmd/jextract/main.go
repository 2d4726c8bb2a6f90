// Command jextract reads JSON (from stdin, a URL, or a directory of files),
// applies an extraction spec file, and prints JSON.
//
// Usage (stdin):
//
//	cat response.json | jextract -spec products.json
//
// Usage (fetch URL):
//
//	jextract -url "https://api.digikala.com/v1/search/?q=laptop" -spec products.json
//
// Usage (directory mode, one document per file):
//
//	jextract -dir ./responses -spec products.json
//
// Record-list mode without editing the spec file:
//
//	cat response.json | jextract -spec product.json -list data.products
//
// Debug (print the first value stored under a key, at any depth):
//
//	cat response.json | jextract -find list_widgets
//
// Debug (print every object whose key holds a value; the value is read as
// JSON when it parses, as text otherwise):
//
//	cat response.json | jextract -match widget_type=POST_ROW
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scrape/internal/extract"
	"scrape/internal/fetch"
	"scrape/internal/storage/file"
)

// sourceFileField is added to every record in -dir mode.
const sourceFileField = "source_file"

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// run returns a Unix-style exit code:
//   - 0 for success
//   - 2 for usage/config errors
//   - 1 for operational/runtime errors
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("jextract", flag.ContinueOnError)
	fs.SetOutput(stderr)

	specPath := fs.String("spec", "", "Path to extraction spec JSON file (required unless -find)")
	listPath := fs.String("list", "", "Optional: extract one record per element of the sequence at this path")
	findKey := fs.String("find", "", "Debug: print the first value stored under this key, at any depth")
	matchFlag := fs.String("match", "", "Debug: print every object where key=value, at any depth")
	urlFlag := fs.String("url", "", "Optional: fetch JSON from URL instead of stdin")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	dirFlag := fs.String("dir", "", "Optional: directory of .json files to extract (one document per file)")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	load := func() (any, error) {
		if *urlFlag != "" {
			c := fetch.New(fetch.Options{
				Site:        "jextract",
				Timeout:     *timeout,
				MaxAttempts: 1,
				HTTPClient:  httpClient,
			})
			return c.Get(ctx, *urlFlag, nil)
		}
		return extract.Decode(stdin)
	}

	if *findKey != "" {
		doc, err := load()
		if err != nil {
			fmt.Fprintf(stderr, "load json: %v\n", err)
			return 1
		}
		v, ok := extract.FindKey(doc, *findKey)
		if !ok {
			fmt.Fprintf(stderr, "key %q not found\n", *findKey)
			return 1
		}
		if err := file.Encode(stdout, v); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	if *matchFlag != "" {
		key, raw, ok := strings.Cut(*matchFlag, "=")
		if !ok || key == "" {
			fmt.Fprintf(stderr, "-match wants key=value, got %q\n", *matchFlag)
			return 2
		}
		doc, err := load()
		if err != nil {
			fmt.Fprintf(stderr, "load json: %v\n", err)
			return 1
		}
		hits := extract.FindAll(doc, extract.KeyEquals(key, matchValue(raw)))
		if len(hits) == 0 {
			fmt.Fprintf(stderr, "no object with %s\n", *matchFlag)
			return 1
		}
		if err := file.Encode(stdout, hits); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	if *specPath == "" {
		fmt.Fprintf(stderr, "missing -spec\n")
		return 2
	}
	sf, err := extract.LoadSpecFile(*specPath)
	if err != nil {
		fmt.Fprintf(stderr, "load spec: %v\n", err)
		return 2
	}
	if *listPath != "" {
		p, err := extract.ParsePath(*listPath)
		if err != nil {
			fmt.Fprintf(stderr, "-list: %v\n", err)
			return 2
		}
		sf.IsList, sf.List, sf.ListFind = true, p, ""
	}

	if *dirFlag != "" {
		for _, n := range sf.Spec.Names() {
			if n == sourceFileField {
				fmt.Fprintf(stderr, "-dir: spec declares %q, which -dir sets on every record\n", sourceFileField)
				return 2
			}
		}
		out, err := extractDir(*dirFlag, sf, stderr)
		if err != nil {
			fmt.Fprintf(stderr, "dir extract: %v\n", err)
			return 1
		}
		if err := file.Encode(stdout, out); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	doc, err := load()
	if err != nil {
		fmt.Fprintf(stderr, "load json: %v\n", err)
		return 1
	}
	out, ferr := sf.Apply(doc)
	if ferr != nil {
		fmt.Fprintf(stderr, "warning: %v\n", ferr)
	}
	if err := file.Encode(stdout, out); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

// extractDir applies sf to every .json file in dir and returns one flat list.
// Each record gets a sourceFileField member with the file's base name.
func extractDir(dir string, sf *extract.SpecFile, stderr io.Writer) ([]extract.Record, error) {
	paths, err := file.ListJSON(dir)
	if err != nil {
		return nil, err
	}

	out := []extract.Record{}
	for _, p := range paths {
		doc, err := decodeFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		v, ferr := sf.Apply(doc)
		if ferr != nil {
			fmt.Fprintf(stderr, "warning: %s: %v\n", filepath.Base(p), ferr)
		}

		var recs []extract.Record
		switch t := v.(type) {
		case extract.Record:
			recs = []extract.Record{t}
		case []extract.Record:
			recs = t
		}
		for _, r := range recs {
			r[sourceFileField] = filepath.Base(p)
			out = append(out, r)
		}
	}
	return out, nil
}

func decodeFile(path string) (any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extract.Decode(f)
}

// matchValue reads a -match value as a JSON scalar when it parses as one, so
// id=42 matches a number and widget_type=POST_ROW a string.
func matchValue(raw string) any {
	if !json.Valid([]byte(raw)) {
		return raw
	}
	v, err := extract.DecodeBytes([]byte(raw))
	if err != nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, []any:
		return raw
	}
	return v
}
