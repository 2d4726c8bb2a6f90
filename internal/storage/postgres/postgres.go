// Package postgres stores records in PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"scrape/internal/storage"
)

// rowsPerStatement keeps each INSERT under the 65535 bind-parameter limit.
const rowsPerStatement = 1000

// Repo implements storage.Sink for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

// EnsureSchema creates the records table and its run index.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, stmt := range buildCreateSQL() {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// SaveRecords inserts the batch in one transaction. Duplicates of stored rows
// are dropped by ON CONFLICT DO NOTHING.
func (r *Repo) SaveRecords(ctx context.Context, b storage.Batch) (int64, error) {
	rows, err := b.Rows()
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var affected int64
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for start := 0; start < len(rows); start += rowsPerStatement {
			end := min(start+rowsPerStatement, len(rows))
			q, args := buildInsertSQL(rows[start:end])
			tag, err := tx.Exec(ctx, q, args...)
			if err != nil {
				return fmt.Errorf("postgres: insert: %w", err)
			}
			affected += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func buildCreateSQL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + storage.Table + ` (
  id BIGSERIAL PRIMARY KEY,
  run_id UUID NOT NULL,
  site TEXT NOT NULL,
  operation TEXT NOT NULL,
  query TEXT NOT NULL DEFAULT '',
  seq INTEGER NOT NULL,
  row_hash CHAR(64) NOT NULL,
  payload JSONB NOT NULL,
  fetched_at TIMESTAMPTZ NOT NULL,
  UNIQUE (site, operation, row_hash)
);`,
		`CREATE INDEX IF NOT EXISTS ` + storage.Table + `_run_id_idx ON ` + storage.Table + ` (run_id);`,
	}
}

// buildInsertSQL constructs one multi-row INSERT with numbered placeholders
// and ON CONFLICT on the dedupe key. It is pure so placeholder numbering can be
// tested without a database.
func buildInsertSQL(rows []storage.Row) (string, []any) {
	cols := storage.Columns

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(storage.Table)
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(cols))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row.Values() {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("$%d", p))
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (")
	for i, c := range storage.DedupeColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") DO NOTHING;")
	return b.String(), args
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}
