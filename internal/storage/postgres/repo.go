// Package postgres is the PostgreSQL storage backend, built on a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nutrimerge/internal/storage"
)

// maxParams is the wire-protocol limit on bind parameters (uint16).
const maxParams = 65535

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New opens a pool for cfg.DSN and pings it so a bad DSN fails before any
// table work.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
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
func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) MaxParams() int { return maxParams }

// EnsureTable creates the table, and its schema when the name is qualified
// ("nutrition.unified").
func (r *Repo) EnsureTable(ctx context.Context, spec storage.TableSpec) error {
	stmts, err := buildCreateSQL(spec)
	if err != nil {
		return err
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure table %s: %w", spec.Name, err)
		}
	}
	return nil
}

// InsertRows writes rows in one transaction, chunked under the parameter
// limit.
func (r *Repo) InsertRows(ctx context.Context, tbl string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("postgres: insert into %s without columns", tbl)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	per := storage.RowsPerStatement(maxParams, len(columns), len(rows))
	var total int64
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		q, args, err := buildInsertSQL(tbl, columns, rows[start:end])
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// buildCreateSQL returns the DDL statements for spec, in order: optional
// CREATE SCHEMA, optional DROP TABLE, CREATE TABLE.
func buildCreateSQL(spec storage.TableSpec) ([]string, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	var out []string

	schemaName, _ := splitQualifiedName(spec.Name)
	if schemaName != "" {
		out = append(out, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(schemaName))
	}
	qualified := pgTableIdent(spec.Name)
	if spec.Recreate {
		out = append(out, "DROP TABLE IF EXISTS "+qualified)
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(qualified)
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(pgType(c.Type))
	}
	b.WriteString(")")
	out = append(out, b.String())
	return out, nil
}

func pgType(t string) string {
	if t == storage.TypeFloat {
		return "double precision"
	}
	return "text"
}

// buildInsertSQL renders a multi-row INSERT with $n placeholders.
func buildInsertSQL(tbl string, columns []string, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(tbl))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
		args = append(args, row...)
	}
	return b.String(), args, nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}

func pgTableIdent(name string) string {
	s, t := splitQualifiedName(name)
	if s == "" {
		return pgIdent(t)
	}
	return pgx.Identifier{s, t}.Sanitize()
}

// splitQualifiedName splits "schema.table". Any other shape is a bare table
// name.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
