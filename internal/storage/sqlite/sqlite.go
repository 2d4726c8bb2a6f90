// Package sqlite stores records in a SQLite database via the pure-Go
// modernc.org/sqlite driver.
//
// SQLite has no native timestamp type; fetched_at is stored as RFC3339Nano
// TEXT so it round-trips exactly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scrape/internal/storage"
)

// rowsPerStatement keeps each INSERT well under SQLite's bound-variable limit.
const rowsPerStatement = 500

// Repo implements storage.Sink for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens cfg.DSN (a file path or "file::memory:?cache=shared").
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	return Open(ctx, cfg.DSN)
}

// Open is New with a concrete return type.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// EnsureSchema creates the records table and its indexes if missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildCreateSQL() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
	}
	return nil
}

// SaveRecords inserts the batch in one transaction with INSERT OR IGNORE, so
// rows already stored under the same (site, operation, row_hash) are skipped.
func (r *Repo) SaveRecords(ctx context.Context, b storage.Batch) (int64, error) {
	rows, err := b.Rows()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for start := 0; start < len(rows); start += rowsPerStatement {
		end := start + rowsPerStatement
		if end > len(rows) {
			end = len(rows)
		}
		q, args := buildInsertSQL(rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert: %w", err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

// Load returns stored rows for one site and operation in insertion order.
func (r *Repo) Load(ctx context.Context, site, operation string) ([]storage.Row, error) {
	q := fmt.Sprintf(
		`SELECT %s FROM %s WHERE "site" = ? AND "operation" = ? ORDER BY "id"`,
		joinIdentList(storage.Columns), storage.Table,
	)
	rs, err := r.db.QueryContext(ctx, q, site, operation)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []storage.Row
	for rs.Next() {
		var (
			row     storage.Row
			payload string
			fetched string
		)
		if err := rs.Scan(&row.RunID, &row.Site, &row.Operation, &row.Query, &row.Seq, &row.RowHash, &payload, &fetched); err != nil {
			return nil, err
		}
		row.Payload = []byte(payload)
		if row.FetchedAt, err = parseSQLiteTime(fetched); err != nil {
			return nil, fmt.Errorf("sqlite: fetched_at=%q: %w", fetched, err)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func buildCreateSQL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.Table + ` (
  "id" INTEGER PRIMARY KEY AUTOINCREMENT,
  "run_id" TEXT NOT NULL,
  "site" TEXT NOT NULL,
  "operation" TEXT NOT NULL,
  "query" TEXT NOT NULL DEFAULT '',
  "seq" INTEGER NOT NULL,
  "row_hash" TEXT NOT NULL,
  "payload" TEXT NOT NULL,
  "fetched_at" TEXT NOT NULL,
  UNIQUE ("site", "operation", "row_hash")
);`,
		`CREATE INDEX IF NOT EXISTS ` + storage.Table + `_run_id ON ` + storage.Table + ` ("run_id");`,
	}
}

// buildInsertSQL builds one multi-row INSERT OR IGNORE.
func buildInsertSQL(rows []storage.Row) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(storage.Columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(storage.Table)
	b.WriteString(" (")
	b.WriteString(joinIdentList(storage.Columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(storage.Columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		vals := row.Values()
		vals[len(vals)-1] = formatSQLiteTime(row.FetchedAt)
		args = append(args, vals...)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime accepts what we write (RFC3339Nano) plus the space-separated
// forms other SQLite tools produce. Zone-less values are UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
