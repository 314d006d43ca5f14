// Package table provides the in-memory Dataset shared by loaders, the
// unifier and the writers.
//
// A Table is positional: Columns names each position and every row holds
// exactly len(Columns) cells. A nil cell means the value is absent.
package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Table is a named-column, positional-row dataset.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Empty returns a table with no columns and no rows. Optional sources that
// fail are replaced with Empty().
func Empty() *Table { return &Table{} }

// Len returns the number of rows. A nil table has zero rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Width returns the number of columns.
func (t *Table) Width() int {
	if t == nil {
		return 0
	}
	return len(t.Columns)
}

// Index returns the position of column name, or -1.
func (t *Table) Index(name string) int {
	if t == nil {
		return -1
	}
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row. The row must have exactly Width() cells.
func (t *Table) Append(row []any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("table: row has %d cells, want %d", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// AppendRecord adds a row from a column->value map. Keys not yet present are
// added as new columns (back-filling earlier rows with nil), in the order
// given by keys. This keeps first-seen column order for record-shaped
// sources such as JSON.
func (t *Table) AppendRecord(keys []string, rec map[string]any) {
	pos := make(map[string]int, len(t.Columns)+len(keys))
	for i, c := range t.Columns {
		pos[c] = i
	}
	for _, k := range keys {
		if _, ok := pos[k]; !ok {
			pos[k] = len(t.Columns)
			t.addColumn(k)
		}
	}
	row := make([]any, len(t.Columns))
	for _, k := range keys {
		row[pos[k]] = rec[k]
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) addColumn(name string) {
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i] = append(t.Rows[i], nil)
	}
}

// Get returns the cell at (row, column name) and whether the column exists.
func (t *Table) Get(row int, name string) (any, bool) {
	ix := t.Index(name)
	if ix < 0 || row < 0 || row >= t.Len() {
		return nil, false
	}
	return t.Rows[row][ix], true
}

// Record returns row i as a map. Absent cells are included with a nil value.
func (t *Table) Record(i int) map[string]any {
	out := make(map[string]any, len(t.Columns))
	for j, c := range t.Columns {
		out[c] = t.Rows[i][j]
	}
	return out
}

// Clone returns a deep copy of the table structure. Cell values are shared.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: append([]string(nil), t.Columns...),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}

// String reports the table shape, e.g. "(2412, 17)".
func (t *Table) String() string {
	return fmt.Sprintf("(%d, %d)", t.Len(), t.Width())
}

// FormatCell renders a cell for delimited text output. nil renders as "".
func FormatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case json.Number:
		return t.String()
	case []byte:
		return string(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

// KeyString converts a join-key cell to a canonical comparable string so that
// "123", int64(123) and 123.0 match.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return strconv.FormatInt(n, 10)
		}
		return t.String()
	default:
		return strings.TrimSpace(FormatCell(v))
	}
}

// ParseNumber parses a plain decimal number. With decimalComma, "12,5" is
// read as 12.5. Text that strconv would also accept but a data file never
// means as a number ("NaN", "Inf", hex floats) is rejected.
func ParseNumber(s string, decimalComma bool) (float64, bool) {
	if decimalComma && strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' && c != '-' && c != '+' && c != 'e' && c != 'E' {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Float coerces a cell to float64. Strings are parsed with ParseNumber,
// accepting a decimal comma. ok is false for nil and non-numeric cells.
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return ParseNumber(strings.TrimSpace(t), true)
	default:
		return 0, false
	}
}
