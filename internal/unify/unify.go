// Package unify merges per-source nutrition tables into one table on the
// canonical schema.
package unify

import (
	"fmt"

	"nutrimerge/internal/schema"
	"nutrimerge/internal/table"
)

// Unify renames every table with the default rename map and concatenates
// them. Same-table collisions are coalesced.
func Unify(tables ...*table.Table) (*table.Table, error) {
	return UnifyWith(schema.DefaultRenameMap(), schema.CollisionCoalesce, tables...)
}

// UnifyWith renames each table with m, then concatenates them row-wise.
//
// Output columns are the union of the renamed input columns in first-seen
// order across the input sequence. Rows keep input order. A cell whose
// column does not exist in the row's source table is nil. Nil tables are
// skipped; empty tables contribute their columns but no rows.
//
// No deduplication and no cross-source conflict resolution is done: every
// input row appears exactly once in the output.
func UnifyWith(m schema.RenameMap, policy schema.CollisionPolicy, tables ...*table.Table) (*table.Table, error) {
	renamed := make([]*table.Table, 0, len(tables))
	for i, t := range tables {
		if t == nil {
			continue
		}
		r, err := schema.Apply(t, m, policy)
		if err != nil {
			return nil, fmt.Errorf("unify: table %d: %w", i, err)
		}
		renamed = append(renamed, r)
	}

	out := &table.Table{}
	pos := map[string]int{}
	total := 0
	for _, t := range renamed {
		for _, c := range t.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
		total += t.Len()
	}

	out.Rows = make([][]any, 0, total)
	width := len(out.Columns)
	for _, t := range renamed {
		dst := make([]int, len(t.Columns))
		for j, c := range t.Columns {
			dst[j] = pos[c]
		}
		for _, r := range t.Rows {
			row := make([]any, width)
			for j, v := range r {
				row[dst[j]] = v
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
