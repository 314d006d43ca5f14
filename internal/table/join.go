package table

import "fmt"

// LeftJoin joins right onto left on the column key (present in both).
//
// Semantics:
//   - Every left row yields one output row per matching right row, in right
//     order. A left row without a match yields one row with nil right cells.
//   - The key column appears once, at its left position.
//   - Other column names present on both sides get the suffixes "_x" (left)
//     and "_y" (right).
//   - Key cells are compared with KeyString; nil keys never match.
func LeftJoin(left, right *Table, key string) (*Table, error) {
	li := left.Index(key)
	if li < 0 {
		return nil, fmt.Errorf("left join: key %q not in left columns", key)
	}
	ri := right.Index(key)
	if ri < 0 {
		return nil, fmt.Errorf("left join: key %q not in right columns", key)
	}

	inRight := make(map[string]bool, len(right.Columns))
	for _, c := range right.Columns {
		inRight[c] = true
	}
	inLeft := make(map[string]bool, len(left.Columns))
	for _, c := range left.Columns {
		inLeft[c] = true
	}

	out := &Table{}
	for _, c := range left.Columns {
		if c != key && inRight[c] {
			c += "_x"
		}
		out.Columns = append(out.Columns, c)
	}
	rightPos := make([]int, 0, len(right.Columns)-1)
	for j, c := range right.Columns {
		if j == ri {
			continue
		}
		if inLeft[c] {
			c += "_y"
		}
		out.Columns = append(out.Columns, c)
		rightPos = append(rightPos, j)
	}

	index := make(map[string][]int, right.Len())
	for j, r := range right.Rows {
		k := KeyString(r[ri])
		if k == "" {
			continue
		}
		index[k] = append(index[k], j)
	}

	width := len(out.Columns)
	for _, lr := range left.Rows {
		matches := index[KeyString(lr[li])]
		if KeyString(lr[li]) == "" {
			matches = nil
		}
		if len(matches) == 0 {
			row := make([]any, width)
			copy(row, lr)
			out.Rows = append(out.Rows, row)
			continue
		}
		for _, j := range matches {
			row := make([]any, width)
			copy(row, lr)
			rr := right.Rows[j]
			for n, p := range rightPos {
				row[len(lr)+n] = rr[p]
			}
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
