// Package storage persists assembled records.
//
// Every backend stores one row per record in a single table (Table) keyed
// for idempotency on (site, operation, row_hash): saving the same batch twice
// inserts nothing the second time.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"scrape/internal/extract"

	"github.com/google/uuid"
)

// Table is the destination table for SQL backends.
const Table = "scrape_records"

// Columns lists the insert column order shared by SQL backends.
var Columns = []string{"run_id", "site", "operation", "query", "seq", "row_hash", "payload", "fetched_at"}

// DedupeColumns is the idempotency key.
var DedupeColumns = []string{"site", "operation", "row_hash"}

// Config selects a backend. DSN is backend-specific: a file path or
// directory for "file", a connection string otherwise.
type Config struct {
	Kind string
	DSN  string
}

// Batch is the output of one operation run.
type Batch struct {
	RunID     string
	Site      string
	Operation string
	Query     string
	FetchedAt time.Time
	Records   []extract.Record
}

// Row is one stored record.
type Row struct {
	RunID     string
	Site      string
	Operation string
	Query     string
	Seq       int
	RowHash   string
	Payload   []byte
	FetchedAt time.Time
}

// Values returns the row in Columns order.
func (r Row) Values() []any {
	return []any{r.RunID, r.Site, r.Operation, r.Query, r.Seq, r.RowHash, string(r.Payload), r.FetchedAt}
}

// Rows encodes the batch. Seq is 1-based and matches the result_N numbering
// of the printed output. Records with the same hash keep only their first
// occurrence.
func (b Batch) Rows() ([]Row, error) {
	if b.Site == "" || b.Operation == "" {
		return nil, fmt.Errorf("storage: batch needs site and operation")
	}
	runID := b.RunID
	if runID == "" {
		runID = NewRunID()
	}
	at := b.FetchedAt
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	out := make([]Row, 0, len(b.Records))
	seen := make(map[string]struct{}, len(b.Records))
	for i, rec := range b.Records {
		payload, err := CanonicalJSON(rec)
		if err != nil {
			return nil, fmt.Errorf("storage: record %d: %w", i+1, err)
		}
		h := hashBytes(payload)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, Row{
			RunID:     runID,
			Site:      b.Site,
			Operation: b.Operation,
			Query:     b.Query,
			Seq:       i + 1,
			RowHash:   h,
			Payload:   payload,
			FetchedAt: at,
		})
	}
	return out, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string { return uuid.NewString() }

// Sink stores batches.
type Sink interface {
	// EnsureSchema creates the destination if it does not exist.
	EnsureSchema(ctx context.Context) error

	// SaveRecords stores the batch and returns the number of new rows.
	SaveRecords(ctx context.Context, b Batch) (int64, error)

	// Close releases backend resources. Call once.
	Close() error
}

// Factory opens a Sink.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. It is called from init in
// backend packages and panics on empty, nil or duplicate registrations.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Kinds lists registered backends.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (have %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}
