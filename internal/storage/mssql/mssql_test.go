package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"scrape/internal/extract"
	"scrape/internal/storage"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

type fakeTx struct {
	stmts      []string
	argCounts  []int
	committed  bool
	rolledBack bool
	failOn     int
}

func (f *fakeTx) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.stmts = append(f.stmts, q)
	f.argCounts = append(f.argCounts, len(args))
	if f.failOn > 0 && len(f.stmts) == f.failOn {
		return nil, errors.New("deadlock")
	}
	return fakeResult{n: int64(len(args) / len(storage.Columns))}, nil
}

func (f *fakeTx) Commit() error   { f.committed = true; return nil }
func (f *fakeTx) Rollback() error { f.rolledBack = true; return nil }

type fakeDB struct {
	tx    *fakeTx
	execs []string
}

func (f *fakeDB) ExecContext(_ context.Context, q string, _ ...any) (sql.Result, error) {
	f.execs = append(f.execs, q)
	return fakeResult{}, nil
}

func (f *fakeDB) BeginTx(context.Context, *sql.TxOptions) (txConn, error) { return f.tx, nil }
func (f *fakeDB) Close() error                                            { return nil }

func batchOf(n int) storage.Batch {
	recs := make([]extract.Record, n)
	for i := range recs {
		recs[i] = extract.Record{"i": i}
	}
	return storage.Batch{RunID: "6f1c8a52-0d7e-4f4b-9c11-2d5a0a4f6b10", Site: "divar", Operation: "search", Records: recs}
}

func TestSaveRecords_ChunksInOneTransaction(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	r := &Repo{db: &fakeDB{tx: tx}}

	n, err := r.SaveRecords(context.Background(), batchOf(rowsPerStatement+3))
	if err != nil {
		t.Fatalf("SaveRecords() err=%v", err)
	}
	if n != int64(rowsPerStatement+3) {
		t.Fatalf("affected=%d", n)
	}
	if len(tx.stmts) != 2 || !tx.committed {
		t.Fatalf("stmts=%d committed=%v", len(tx.stmts), tx.committed)
	}
	if tx.argCounts[0] != rowsPerStatement*len(storage.Columns) || tx.argCounts[0] > 2100 {
		t.Fatalf("first chunk args=%d", tx.argCounts[0])
	}
}

func TestSaveRecords_ErrorRollsBack(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{failOn: 1}
	r := &Repo{db: &fakeDB{tx: tx}}

	if _, err := r.SaveRecords(context.Background(), batchOf(3)); err == nil || !strings.Contains(err.Error(), "deadlock") {
		t.Fatalf("SaveRecords() err=%v, want deadlock", err)
	}
	if tx.committed || !tx.rolledBack {
		t.Fatalf("committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
}

func TestSaveRecords_EmptyBatchNoTransaction(t *testing.T) {
	t.Parallel()

	r := &Repo{db: &fakeDB{}}
	n, err := r.SaveRecords(context.Background(), storage.Batch{Site: "s", Operation: "o"})
	if err != nil || n != 0 {
		t.Fatalf("SaveRecords()=(%d,%v)", n, err)
	}
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	db := &fakeDB{}
	r := &Repo{db: db}
	if err := r.EnsureSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(db.execs) != 1 || !strings.HasPrefix(db.execs[0], "IF OBJECT_ID(N'scrape_records', N'U') IS NULL BEGIN CREATE TABLE [scrape_records] (") {
		t.Fatalf("execs=%q", db.execs)
	}
	if !strings.Contains(db.execs[0], "UNIQUE ([site], [operation], [row_hash])") {
		t.Fatalf("missing unique key: %s", db.execs[0])
	}
}

func TestBuildInsertNotExistsSQL(t *testing.T) {
	t.Parallel()

	rows, err := batchOf(2).Rows()
	if err != nil {
		t.Fatal(err)
	}
	q, args := buildInsertNotExistsSQL(rows)

	for _, want := range []string{
		"INSERT INTO [scrape_records] ([run_id], [site],",
		"SELECT v.[run_id], v.[site],",
		"(@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8), (@p9,",
		"@p16) AS v([run_id]",
		"WHERE NOT EXISTS (SELECT 1 FROM [scrape_records] t WHERE t.[site] = v.[site] AND t.[operation] = v.[operation] AND t.[row_hash] = v.[row_hash])",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("sql missing %q:\n%s", want, q)
		}
	}
	if len(args) != 16 {
		t.Fatalf("args=%d", len(args))
	}
}

func TestMSSQLIdent(t *testing.T) {
	t.Parallel()

	if got := mssqlIdent("a]b"); got != "[a]]b]" {
		t.Fatalf("mssqlIdent()=%s", got)
	}
	if got := mssqlTableIdent("dbo . scrape_records"); got != "[dbo].[scrape_records]" {
		t.Fatalf("mssqlTableIdent()=%s", got)
	}
}
