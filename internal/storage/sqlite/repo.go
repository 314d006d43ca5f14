// Package sqlite is the embedded storage backend. It uses the pure-Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
//
// Besides the unified-table sink, the Open Food Facts dump is staged into a
// sqlite file and projected with Query.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"nutrimerge/internal/storage"
	"nutrimerge/internal/table"
)

// maxParams matches SQLITE_MAX_VARIABLE_NUMBER in current builds.
const maxParams = 32766

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open opens and pings the database at dsn. A file path creates the file if
// needed; modernc pragmas may be passed as query parameters
// ("off.db?_pragma=synchronous(OFF)").
func Open(ctx context.Context, dsn string) (*Repo, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) MaxParams() int { return maxParams }

// EnsureTable creates spec.Name. With spec.Recreate the table is dropped
// first.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Recreate {
		if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(spec.Name)); err != nil {
			return fmt.Errorf("drop table %s: %w", spec.Name, err)
		}
	}
	if _, err := r.db.ExecContext(ctx, buildCreateSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}
	return nil
}

// InsertRows writes rows inside one transaction, several rows per statement.
func (r *Repo) InsertRows(ctx context.Context, tbl string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("sqlite: insert into %s without columns", tbl)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	per := storage.RowsPerStatement(maxParams, len(columns), len(rows))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(tbl, columns, rows[start:end])
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, err
		}
		total += int64(end - start)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Exec runs a statement that returns no rows.
func (r *Repo) Exec(ctx context.Context, q string, args ...any) error {
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// Query runs q and collects the result into a Table. TEXT values come back
// as strings, NULL as nil, numbers as int64 or float64.
func (r *Repo) Query(ctx context.Context, q string, args ...any) (*table.Table, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := table.New(cols...)

	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		if err := out.Append(vals); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func buildCreateSQL(spec storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(sqlIdent(spec.Name))
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(sqlType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

func sqlType(t string) string {
	if t == storage.TypeFloat {
		return "REAL"
	}
	return "TEXT"
}

func buildInsertSQL(tbl string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(tbl))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

// sqlIdent quotes an identifier for SQLite. Column names from the datasets
// contain spaces, dots and dashes ("energy-kcal_100g").
func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
