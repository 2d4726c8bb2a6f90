// Package file is the filesystem backend: one JSON document per
// (site, operation) under a directory, rewritten atomically on every save.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"scrape/internal/storage"
)

func init() {
	storage.Register("file", New)
}

// Sink stores rows as <dir>/<site>_<operation>.json.
type Sink struct {
	dir string
	mu  sync.Mutex
}

// entry is the stored form of a row. Payload is kept as raw JSON so the file
// shows records exactly as assembled.
type entry struct {
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	Seq       int             `json:"seq"`
	RowHash   string          `json:"row_hash"`
	FetchedAt string          `json:"fetched_at"`
	Payload   json.RawMessage `json:"payload"`
}

// New opens a file sink rooted at cfg.DSN.
func New(_ context.Context, cfg storage.Config) (storage.Sink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("file: DSN must be a directory")
	}
	return &Sink{dir: cfg.DSN}, nil
}

func (s *Sink) EnsureSchema(context.Context) error {
	return os.MkdirAll(s.dir, 0o755)
}

func (s *Sink) Close() error { return nil }

// SaveRecords merges the batch into the existing document, skipping rows whose
// hash is already present.
func (s *Sink) SaveRecords(ctx context.Context, b storage.Batch) (int64, error) {
	rows, err := b.Rows()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(b.Site, b.Operation))
	existing, err := readEntries(path)
	if err != nil {
		return 0, err
	}

	have := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		have[e.RowHash] = struct{}{}
	}

	var added int64
	for _, r := range rows {
		if _, ok := have[r.RowHash]; ok {
			continue
		}
		have[r.RowHash] = struct{}{}
		existing = append(existing, entry{
			RunID:     r.RunID,
			Query:     r.Query,
			Seq:       r.Seq,
			RowHash:   r.RowHash,
			FetchedAt: r.FetchedAt.Format(time.RFC3339Nano),
			Payload:   json.RawMessage(r.Payload),
		})
		added++
	}
	if added == 0 {
		return 0, nil
	}

	if err := WriteJSON(path, existing); err != nil {
		return 0, err
	}
	return added, nil
}

func readEntries(path string) ([]entry, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []entry
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("file: %s: %w", path, err)
	}
	return out, nil
}

func fileName(site, op string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			}
			return '_'
		}, s)
	}
	return clean(site) + "_" + clean(op) + ".json"
}

// Encode writes v as UTF-8 JSON with 4-space indentation and no HTML or
// non-ASCII escaping.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

// WriteJSON writes v to path atomically: a temp file in the same directory is
// renamed into place only after a complete write.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return err
	}
	_, err := writeAtomic(path, &buf)
	return err
}

func writeAtomic(outputPath string, r io.Reader) (int64, error) {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".scrape-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()

	if copyErr != nil {
		_ = os.Remove(tmpName)
		return n, copyErr
	}
	if closeErr != nil {
		_ = os.Remove(tmpName)
		return n, closeErr
	}
	if err := os.Rename(tmpName, outputPath); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

// ListJSON returns the .json files directly under dir, sorted.
func ListJSON(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
