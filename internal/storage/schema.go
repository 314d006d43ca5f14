package storage

import (
	"fmt"
	"strings"
)

// Logical column types. Backends map them to their own SQL types.
const (
	TypeFloat = "float"
	TypeText  = "text"
)

// TableSpec describes a table to create.
type TableSpec struct {
	Name    string
	Columns []ColumnSpec
	// Recreate drops an existing table before creating it.
	Recreate bool
}

// ColumnSpec is one column of a TableSpec. Every column is nullable.
type ColumnSpec struct {
	Name string
	Type string // TypeFloat | TypeText
}

// ColumnNames returns the column names in order.
func (s TableSpec) ColumnNames() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Validate checks the spec is creatable: a name, at least one column, no
// empty or duplicate column names (compared case-insensitively, as most
// engines do), and known types.
func (s TableSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", s.Name)
	}
	seen := make(map[string]bool, len(s.Columns))
	for i, c := range s.Columns {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("table %s: column %d has no name", s.Name, i)
		}
		k := strings.ToLower(c.Name)
		if seen[k] {
			return fmt.Errorf("table %s: duplicate column %q", s.Name, c.Name)
		}
		seen[k] = true
		if c.Type != TypeFloat && c.Type != TypeText {
			return fmt.Errorf("table %s: column %q has unknown type %q", s.Name, c.Name, c.Type)
		}
	}
	return nil
}

// RowsPerStatement returns how many rows of width columns fit in one
// statement under maxParams, capped at want. It is at least 1.
func RowsPerStatement(maxParams, width, want int) int {
	if width <= 0 || maxParams <= 0 {
		return max(want, 1)
	}
	n := maxParams / width
	if want > 0 && n > want {
		n = want
	}
	if n < 1 {
		n = 1
	}
	return n
}
