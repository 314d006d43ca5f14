package storage

import (
	"context"
	"fmt"

	"nutrimerge/internal/metrics"
	"nutrimerge/internal/schema"
	"nutrimerge/internal/table"
)

// SpecForTable derives a TableSpec from a unified table: canonical nutrient
// fields are float columns, everything else is text. The table is recreated
// on every run so its shape always follows the latest unified header.
func SpecForTable(name string, t *table.Table) TableSpec {
	spec := TableSpec{Name: name, Recreate: true}
	for _, c := range t.Columns {
		typ := TypeText
		if schema.IsCanonical(c) {
			typ = TypeFloat
		}
		spec.Columns = append(spec.Columns, ColumnSpec{Name: c, Type: typ})
	}
	return spec
}

// WriteTable creates spec in repo and copies every row of t into it.
//
// Float columns hold table.Float(cell) or NULL when the cell is not numeric.
// Text columns hold table.FormatCell(cell); absent cells stay NULL.
//
// Rows are sent in batches of at most batchSize, further capped so a single
// statement stays under repo.MaxParams(). Each batch is reported through
// metrics.RecordSinkBatch under kind.
//
// Errors:
//   - invalid spec or table/spec width mismatch
//   - any EnsureTable or InsertRows error, wrapped with the batch offset
func WriteTable(ctx context.Context, repo Repository, kind string, spec TableSpec, t *table.Table, batchSize int) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	if t.Width() != len(spec.Columns) {
		return 0, fmt.Errorf("table has %d columns, spec %s has %d", t.Width(), spec.Name, len(spec.Columns))
	}
	if err := repo.EnsureTable(ctx, spec); err != nil {
		return 0, fmt.Errorf("ensure table %s: %w", spec.Name, err)
	}

	cols := spec.ColumnNames()
	per := RowsPerStatement(repo.MaxParams(), len(cols), batchSize)

	var total int64
	for start := 0; start < t.Len(); start += per {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(start+per, t.Len())

		batch := make([][]any, 0, end-start)
		for _, row := range t.Rows[start:end] {
			batch = append(batch, convertRow(spec.Columns, row))
		}

		n, err := repo.InsertRows(ctx, spec.Name, cols, batch)
		if err != nil {
			return total, fmt.Errorf("insert rows %d-%d into %s: %w", start, end-1, spec.Name, err)
		}
		total += n
		metrics.RecordSinkBatch(kind, int(n))
	}
	return total, nil
}

func convertRow(cols []ColumnSpec, row []any) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		v := row[i]
		if v == nil {
			continue
		}
		switch c.Type {
		case TypeFloat:
			if f, ok := table.Float(v); ok {
				out[i] = f
			}
		default:
			out[i] = table.FormatCell(v)
		}
	}
	return out
}
