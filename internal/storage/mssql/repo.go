// Package mssql is the Microsoft SQL Server storage backend.
//
// It does not register a database/sql driver itself: the application links
// one under the name "sqlserver" (internal/storage/all imports
// github.com/microsoft/go-mssqldb).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"nutrimerge/internal/storage"
)

// maxParams is the SQL Server limit of 2100 parameters per request, minus a
// margin the driver may use.
const maxParams = 2000

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	raw.SetMaxOpenConns(8)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) MaxParams() int { return maxParams }

// EnsureTable creates the table when OBJECT_ID reports it missing. With
// spec.Recreate an existing table is dropped first.
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	stmts, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertRows writes rows in one transaction with @pN placeholders, chunked
// under the parameter limit.
func (r *Repo) InsertRows(ctx context.Context, tbl string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: insert into %s without columns", tbl)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	per := storage.RowsPerStatement(maxParams, len(columns), len(rows))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildBulkInsertSQL(tbl, columns, rows[start:end])
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
	committed = true
	return total, nil
}

func buildCreateSQL(spec storage.TableSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []string
	if spec.Recreate {
		out = append(out, fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;",
			escapeLiteral(spec.Name), mssqlTableIdent(spec.Name),
		))
	}

	defs := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		defs[i] = mssqlIdent(c.Name) + " " + mssqlType(c.Type) + " NULL"
	}
	out = append(out, wrapCreateIfMissing(spec.Name, strings.Join(defs, ", ")))
	return out, nil
}

func mssqlType(t string) string {
	if t == storage.TypeFloat {
		return "FLOAT"
	}
	return "NVARCHAR(MAX)"
}

// wrapCreateIfMissing guards CREATE TABLE with an OBJECT_ID check since SQL
// Server has no CREATE TABLE IF NOT EXISTS.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(tableName),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func buildBulkInsertSQL(tbl string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(tbl))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			p++
		}
		b.WriteString(")")
		args = append(args, row...)
	}
	return b.String(), args, nil
}

// mssqlIdent bracket-quotes an identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified
// names: "dbo.nutrition" -> [dbo].[nutrition].
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is the subset of *sql.DB this package uses; tests substitute a fake.
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
