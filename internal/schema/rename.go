package schema

import (
	"fmt"
	"strings"

	"nutrimerge/internal/table"
)

// CollisionPolicy decides what happens when two columns of the same table
// end up with the same name after renaming (for example a table holding
// both fat_100g and fat_g).
type CollisionPolicy int

const (
	// CollisionCoalesce merges the colliding columns into one, placed at the
	// position of the first; each row keeps the first non-nil value in
	// source column order.
	CollisionCoalesce CollisionPolicy = iota
	// CollisionReject fails with a *CollisionError.
	CollisionReject
)

// ParseCollisionPolicy maps the config spelling to a policy. Empty means
// coalesce.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "coalesce":
		return CollisionCoalesce, nil
	case "reject":
		return CollisionReject, nil
	default:
		return 0, fmt.Errorf("unknown collision policy %q", s)
	}
}

func (p CollisionPolicy) String() string {
	if p == CollisionReject {
		return "reject"
	}
	return "coalesce"
}

// CollisionError reports source columns that collapse onto one target.
type CollisionError struct {
	Target  string
	Sources []string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("columns %s all rename to %q", strings.Join(e.Sources, ", "), e.Target)
}

// Apply renames the columns of t that appear in m and returns a new table.
// Columns not in m pass through unchanged; when the table repeats such a name
// the later ones get ".1", ".2" suffixes so no column is lost. The row count
// never changes.
//
// Only renamed columns can collide: columns that m maps onto the same target,
// plus a column already carrying that target name, are coalesced or rejected
// according to policy.
func Apply(t *table.Table, m RenameMap, policy CollisionPolicy) (*table.Table, error) {
	if t == nil {
		return table.Empty(), nil
	}

	// output slot -> source positions, in column order
	names := make([]string, 0, len(t.Columns))
	slots := make([][]int, 0, len(t.Columns))
	bySlot := make(map[string]int, len(t.Columns))
	targets := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if canon, ok := m.Lookup(c); ok {
			targets[canon] = true
		}
	}
	collided := false
	for i, c := range t.Columns {
		canon, ok := m.Lookup(c)
		if !ok && targets[c] {
			// already spelled like a field another column renames onto
			canon, ok = c, true
		}
		if !ok {
			names = append(names, c)
			slots = append(slots, []int{i})
			continue
		}
		if s, seen := bySlot[canon]; seen {
			slots[s] = append(slots[s], i)
			collided = true
			continue
		}
		bySlot[canon] = len(slots)
		names = append(names, canon)
		slots = append(slots, []int{i})
	}
	names = UniqueNames(names)

	if !collided {
		out := t.Clone()
		out.Columns = names
		return out, nil
	}

	if policy == CollisionReject {
		for s, pos := range slots {
			if len(pos) > 1 {
				srcs := make([]string, len(pos))
				for i, p := range pos {
					srcs[i] = t.Columns[p]
				}
				return nil, &CollisionError{Target: names[s], Sources: srcs}
			}
		}
	}

	out := &table.Table{
		Columns: names,
		Rows:    make([][]any, len(t.Rows)),
	}
	for r, src := range t.Rows {
		row := make([]any, len(names))
		for j, pos := range slots {
			for _, p := range pos {
				if src[p] != nil {
					row[j] = src[p]
					break
				}
			}
		}
		out.Rows[r] = row
	}
	return out, nil
}
