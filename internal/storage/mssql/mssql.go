// Package mssql stores records in Microsoft SQL Server through database/sql.
//
// The package does not import a driver. The "sqlserver" driver is registered
// by internal/storage/all, which commands import.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"scrape/internal/storage"
)

// rowsPerStatement keeps each INSERT under SQL Server's 2100-parameter limit.
const rowsPerStatement = 250

// Repo implements storage.Sink for SQL Server.
//
// Idempotency uses INSERT ... SELECT ... WHERE NOT EXISTS against the
// (site, operation, row_hash) key. Within a batch duplicates are already
// removed by storage.Batch.Rows, so a single statement never inserts the same
// key twice.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(16)
	raw.SetMaxIdleConns(16)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases the database handle.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the records table when missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, buildCreateSQL()); err != nil {
		return fmt.Errorf("mssql: %w", err)
	}
	return nil
}

// SaveRecords inserts the batch in one transaction, skipping stored keys.
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
		end := min(start+rowsPerStatement, len(rows))
		q, args := buildInsertNotExistsSQL(rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: insert: %w", err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func buildCreateSQL() string {
	defs := strings.Join([]string{
		"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[run_id] UNIQUEIDENTIFIER NOT NULL",
		"[site] NVARCHAR(64) NOT NULL",
		"[operation] NVARCHAR(64) NOT NULL",
		"[query] NVARCHAR(400) NOT NULL DEFAULT N''",
		"[seq] INT NOT NULL",
		"[row_hash] CHAR(64) NOT NULL",
		"[payload] NVARCHAR(MAX) NOT NULL",
		"[fetched_at] DATETIMEOFFSET NOT NULL",
		"CONSTRAINT [uq_scrape_records_key] UNIQUE ([site], [operation], [row_hash])",
	}, ", ")
	return wrapCreateIfMissing(storage.Table, defs)
}

// wrapCreateIfMissing guards CREATE TABLE with OBJECT_ID since SQL Server has
// no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// buildInsertNotExistsSQL materializes the rows as a VALUES derived table and
// inserts those whose dedupe key is not stored yet.
func buildInsertNotExistsSQL(rows []storage.Row) (string, []any) {
	cols := storage.Columns
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(storage.Table))
	b.WriteString(" (")
	b.WriteString(identList("", cols))
	b.WriteString(") SELECT ")
	b.WriteString(identList("v.", cols))
	b.WriteString(" FROM (VALUES ")

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
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, v)
			p++
		}
		b.WriteString(")")
	}

	b.WriteString(") AS v(")
	b.WriteString(identList("", cols))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(storage.Table))
	b.WriteString(" t WHERE ")
	for i, dc := range storage.DedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String(), args
}

func identList(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name:
// "dbo.scrape_records" -> [dbo].[scrape_records].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
