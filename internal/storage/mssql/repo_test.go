package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"nutrimerge/internal/storage"
)

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 0, nil }

type fakeTx struct {
	stmts     []string
	argCounts []int
	execErr   error
	commits   int
	rollbacks int
}

func (f *fakeTx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.stmts = append(f.stmts, q)
	f.argCounts = append(f.argCounts, len(args))
	return fakeResult{}, nil
}

func (f *fakeTx) Commit() error   { f.commits++; return nil }
func (f *fakeTx) Rollback() error { f.rollbacks++; return nil }

type fakeDB struct {
	stmts  []string
	tx     *fakeTx
	closed int
}

func (f *fakeDB) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	f.stmts = append(f.stmts, q)
	return fakeResult{}, nil
}

func (f *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return f.tx, nil
}

func (f *fakeDB) Close() error { f.closed++; return nil }

func TestEnsureTable_RecreateAndGuard(t *testing.T) {
	db := &fakeDB{}
	r := &Repo{db: db}

	spec := storage.TableSpec{
		Name:     "dbo.nutrition",
		Recreate: true,
		Columns: []storage.ColumnSpec{
			{Name: "product_name", Type: storage.TypeText},
			{Name: "energy_kcal", Type: storage.TypeFloat},
		},
	}
	if err := r.EnsureTable(context.Background(), spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	want := []string{
		"IF OBJECT_ID(N'dbo.nutrition', N'U') IS NOT NULL DROP TABLE [dbo].[nutrition];",
		"IF OBJECT_ID(N'dbo.nutrition', N'U') IS NULL BEGIN CREATE TABLE [dbo].[nutrition] ([product_name] NVARCHAR(MAX) NULL, [energy_kcal] FLOAT NULL); END;",
	}
	if strings.Join(db.stmts, "\n") != strings.Join(want, "\n") {
		t.Fatalf("stmts:\n%s\nwant:\n%s", strings.Join(db.stmts, "\n"), strings.Join(want, "\n"))
	}
}

func TestInsertRows_ChunksUnderParamLimit(t *testing.T) {
	tx := &fakeTx{}
	r := &Repo{db: &fakeDB{tx: tx}}

	// 300 columns -> 6 rows per statement under the 2000 limit.
	cols := make([]string, 300)
	for i := range cols {
		cols[i] = "c"
	}
	rows := make([][]any, 13)
	for i := range rows {
		rows[i] = make([]any, len(cols))
	}

	n, err := r.InsertRows(context.Background(), "t", cols, rows)
	if err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if n != 13 {
		t.Fatalf("n=%d", n)
	}
	if len(tx.stmts) != 3 {
		t.Fatalf("statements=%d want 3", len(tx.stmts))
	}
	for i, c := range tx.argCounts {
		if c > maxParams {
			t.Fatalf("statement %d has %d params", i, c)
		}
	}
	if tx.commits != 1 || tx.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d", tx.commits, tx.rollbacks)
	}
}

func TestInsertRows_ErrorRollsBack(t *testing.T) {
	boom := errors.New("boom")
	tx := &fakeTx{execErr: boom}
	r := &Repo{db: &fakeDB{tx: tx}}

	_, err := r.InsertRows(context.Background(), "t", []string{"a"}, [][]any{{1}})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if tx.commits != 0 || tx.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d", tx.commits, tx.rollbacks)
	}
}

func TestInsertRows_EmptyIsNoop(t *testing.T) {
	r := &Repo{db: &fakeDB{}}
	n, err := r.InsertRows(context.Background(), "t", []string{"a"}, nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestBuildBulkInsertSQL(t *testing.T) {
	q, args, err := buildBulkInsertSQL("t", []string{"a", "b]"}, [][]any{{1, 2}, {3, 4}})
	if err != nil {
		t.Fatalf("buildBulkInsertSQL: %v", err)
	}
	want := "INSERT INTO [t] ([a], [b]]]) VALUES (@p1, @p2), (@p3, @p4)"
	if q != want {
		t.Fatalf("q=%s\nwant %s", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args=%v", args)
	}
}

func TestClose_NilSafe(t *testing.T) {
	var r *Repo
	r.Close()

	db := &fakeDB{}
	(&Repo{db: db}).Close()
	if db.closed != 1 {
		t.Fatalf("closed=%d", db.closed)
	}
}
