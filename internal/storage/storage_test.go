package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nutrimerge/internal/table"
)

type fakeRepo struct {
	maxParams int
	spec      TableSpec
	ensureErr error
	insertErr error
	calls     [][][]any
	columns   []string
	closed    int
}

func (f *fakeRepo) Close() { f.closed++ }

func (f *fakeRepo) EnsureTable(ctx context.Context, spec TableSpec) error {
	f.spec = spec
	return f.ensureErr
}

func (f *fakeRepo) InsertRows(ctx context.Context, tbl string, columns []string, rows [][]any) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.columns = columns
	f.calls = append(f.calls, rows)
	return int64(len(rows)), nil
}

func (f *fakeRepo) MaxParams() int { return f.maxParams }

func TestRegisterAndNew(t *testing.T) {
	fr := &fakeRepo{}
	Register("fake-test", func(ctx context.Context, cfg Config) (Repository, error) {
		if cfg.DSN != "dsn" {
			t.Errorf("dsn=%q", cfg.DSN)
		}
		return fr, nil
	})

	got, err := New(context.Background(), Config{Kind: "fake-test", DSN: "dsn"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got != fr {
		t.Fatalf("unexpected repo %#v", got)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() missing fake-test: %v", Kinds())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage kind=nope") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestRegister_Panics(t *testing.T) {
	f := func(ctx context.Context, cfg Config) (Repository, error) { return nil, nil }
	Register("dup-test", f)

	tests := []struct {
		name string
		kind string
		f    factory
	}{
		{"empty kind", "", f},
		{"nil factory", "nil-test", nil},
		{"duplicate", "dup-test", f},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tt.kind, tt.f)
		})
	}
}

func TestTableSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TableSpec
		wantErr string
	}{
		{"ok", TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: TypeText}}}, ""},
		{"no name", TableSpec{Columns: []ColumnSpec{{Name: "a", Type: TypeText}}}, "name is empty"},
		{"no columns", TableSpec{Name: "t"}, "no columns"},
		{"blank column", TableSpec{Name: "t", Columns: []ColumnSpec{{Name: " ", Type: TypeText}}}, "has no name"},
		{"dup ci", TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "A", Type: TypeText}, {Name: "a", Type: TypeText}}}, "duplicate"},
		{"bad type", TableSpec{Name: "t", Columns: []ColumnSpec{{Name: "a", Type: "int"}}}, "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected err: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err=%v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRowsPerStatement(t *testing.T) {
	tests := []struct {
		maxParams, width, want, exp int
	}{
		{2000, 10, 500, 200},
		{2000, 10, 50, 50},
		{2000, 3000, 50, 1},
		{65535, 7, 0, 9362},
		{0, 5, 0, 1},
		{0, 5, 20, 20},
	}
	for _, tt := range tests {
		if got := RowsPerStatement(tt.maxParams, tt.width, tt.want); got != tt.exp {
			t.Errorf("RowsPerStatement(%d,%d,%d)=%d want %d", tt.maxParams, tt.width, tt.want, got, tt.exp)
		}
	}
}

func TestSpecForTable(t *testing.T) {
	tb := table.New("product_name", "energy_kcal", "proteins_g", "code")
	spec := SpecForTable("nutrition_unified", tb)

	if !spec.Recreate || spec.Name != "nutrition_unified" {
		t.Fatalf("unexpected spec header: %+v", spec)
	}
	want := []string{TypeText, TypeFloat, TypeFloat, TypeText}
	for i, c := range spec.Columns {
		if c.Type != want[i] {
			t.Errorf("column %s type=%s want %s", c.Name, c.Type, want[i])
		}
	}
}

func TestWriteTable_BatchesAndConverts(t *testing.T) {
	tb := table.New("name", "energy_kcal")
	_ = tb.Append([]any{"apple", "52"})
	_ = tb.Append([]any{"bread", 265.0})
	_ = tb.Append([]any{nil, "n/a"})
	_ = tb.Append([]any{int64(7), nil})
	_ = tb.Append([]any{true, "1,5"})

	// 2 columns under 4 params -> 2 rows per statement even though 10 were asked.
	fr := &fakeRepo{maxParams: 4}
	spec := SpecForTable("t", tb)

	n, err := WriteTable(context.Background(), fr, "fake", spec, tb, 10)
	if err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	if n != 5 {
		t.Fatalf("n=%d want 5", n)
	}
	if len(fr.calls) != 3 {
		t.Fatalf("batches=%d want 3", len(fr.calls))
	}
	if fr.spec.Name != "t" {
		t.Fatalf("EnsureTable not called with spec")
	}

	var rows [][]any
	for _, c := range fr.calls {
		rows = append(rows, c...)
	}
	want := [][]any{
		{"apple", 52.0},
		{"bread", 265.0},
		{nil, nil},
		{"7", nil},
		{"True", 1.5},
	}
	for i := range want {
		for j := range want[i] {
			if rows[i][j] != want[i][j] {
				t.Errorf("row %d col %d = %#v want %#v", i, j, rows[i][j], want[i][j])
			}
		}
	}
}

func TestWriteTable_Errors(t *testing.T) {
	tb := table.New("a")
	_ = tb.Append([]any{"x"})
	spec := SpecForTable("t", tb)

	t.Run("width mismatch", func(t *testing.T) {
		bad := spec
		bad.Columns = append(append([]ColumnSpec(nil), spec.Columns...), ColumnSpec{Name: "b", Type: TypeText})
		if _, err := WriteTable(context.Background(), &fakeRepo{}, "k", bad, tb, 10); err == nil {
			t.Fatalf("expected width mismatch error")
		}
	})

	t.Run("ensure error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := WriteTable(context.Background(), &fakeRepo{ensureErr: boom}, "k", spec, tb, 10)
		if !errors.Is(err, boom) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("insert error", func(t *testing.T) {
		boom := errors.New("insert failed")
		_, err := WriteTable(context.Background(), &fakeRepo{insertErr: boom}, "k", spec, tb, 10)
		if !errors.Is(err, boom) || !strings.Contains(err.Error(), "rows 0-0") {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WriteTable(ctx, &fakeRepo{}, "k", spec, tb, 10)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v", err)
		}
	})
}
