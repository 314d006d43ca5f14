// Package schema defines the canonical nutrient vocabulary and the rename
// map that projects every source's column names onto it.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical nutrient fields, per 100 g of edible portion.
const (
	EnergyKcal    = "energy_kcal"
	ProteinsG     = "proteins_g"
	CarbohydrateG = "carbohydrates_g"
	FatG          = "fat_g"
	SugarsG       = "sugars_g"
	FibresG       = "fibres_g"
	SaltG         = "salt_g"
)

// CanonicalFields lists the canonical fields in output order.
var CanonicalFields = []string{EnergyKcal, ProteinsG, CarbohydrateG, FatG, SugarsG, FibresG, SaltG}

// IsCanonical reports whether name is a canonical nutrient field.
func IsCanonical(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}

// Entry is one source spelling of a canonical field.
type Entry struct {
	Source    string
	Canonical string
	// Origin names the dataset(s) that use this spelling. Informational.
	Origin string
}

// RenameMap is a versioned, many-to-one mapping from source column names to
// canonical fields. Bump Version whenever an entry changes so outputs can be
// traced back to the mapping that produced them.
type RenameMap struct {
	Version string
	Entries []Entry

	lookup map[string]string
}

// DefaultVersion identifies DefaultRenameMap.
const DefaultVersion = "2020.1"

// DefaultRenameMap covers the Open Food Facts "_100g" spellings, the
// singular "_g" spellings used by Livsmedelsverket-style exports and the
// canonical names themselves.
func DefaultRenameMap() RenameMap {
	m, err := NewRenameMap(DefaultVersion, []Entry{
		{Source: "energy_kcal", Canonical: EnergyKcal, Origin: "openfoodfacts dump projection"},
		{Source: "proteins_100g", Canonical: ProteinsG, Origin: "openfoodfacts"},
		{Source: "protein_g", Canonical: ProteinsG, Origin: "generic"},
		{Source: "carbohydrates_100g", Canonical: CarbohydrateG, Origin: "openfoodfacts"},
		{Source: "carbohydrate_g", Canonical: CarbohydrateG, Origin: "generic"},
		{Source: "fat_100g", Canonical: FatG, Origin: "openfoodfacts"},
		{Source: "fat_g", Canonical: FatG, Origin: "canonical"},
		{Source: "sugars_100g", Canonical: SugarsG, Origin: "openfoodfacts"},
		{Source: "sugar_g", Canonical: SugarsG, Origin: "generic"},
		{Source: "fiber_100g", Canonical: FibresG, Origin: "openfoodfacts"},
		{Source: "fiber_g", Canonical: FibresG, Origin: "generic"},
		{Source: "salt_100g", Canonical: SaltG, Origin: "openfoodfacts"},
		{Source: "salt_g", Canonical: SaltG, Origin: "canonical"},
	})
	if err != nil {
		panic(err)
	}
	return m
}

// NewRenameMap builds a map from entries.
//
// Errors:
//   - an entry with an empty Source or a Canonical outside CanonicalFields
//   - the same Source mapped to two different canonical fields
func NewRenameMap(version string, entries []Entry) (RenameMap, error) {
	m := RenameMap{
		Version: version,
		Entries: append([]Entry(nil), entries...),
		lookup:  make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Source) == "" {
			return RenameMap{}, fmt.Errorf("rename map %s: empty source for %q", version, e.Canonical)
		}
		if !IsCanonical(e.Canonical) {
			return RenameMap{}, fmt.Errorf("rename map %s: %q is not a canonical field", version, e.Canonical)
		}
		if prev, ok := m.lookup[e.Source]; ok && prev != e.Canonical {
			return RenameMap{}, fmt.Errorf("rename map %s: %q maps to both %q and %q", version, e.Source, prev, e.Canonical)
		}
		m.lookup[e.Source] = e.Canonical
	}
	return m, nil
}

// WithAliases returns a copy of m extended with source->canonical aliases.
// Aliases override existing entries for the same source. The version gets a
// "+local" suffix so outputs record that the map was customised.
func (m RenameMap) WithAliases(aliases map[string]string) (RenameMap, error) {
	if len(aliases) == 0 {
		return m, nil
	}
	srcs := make([]string, 0, len(aliases))
	for s := range aliases {
		srcs = append(srcs, s)
	}
	sort.Strings(srcs)

	entries := make([]Entry, 0, len(m.Entries)+len(aliases))
	for _, e := range m.Entries {
		if _, overridden := aliases[e.Source]; !overridden {
			entries = append(entries, e)
		}
	}
	for _, s := range srcs {
		entries = append(entries, Entry{Source: s, Canonical: aliases[s], Origin: "config"})
	}
	return NewRenameMap(m.Version+"+local", entries)
}

// Lookup returns the canonical field for a source column name.
func (m RenameMap) Lookup(source string) (string, bool) {
	c, ok := m.lookup[source]
	return c, ok
}

// Sources returns every source spelling that maps to canonical, sorted.
func (m RenameMap) Sources(canonical string) []string {
	var out []string
	for _, e := range m.Entries {
		if e.Canonical == canonical {
			out = append(out, e.Source)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeHeader cleans a raw header cell read from a file: strips a UTF-8
// BOM and surrounding space and applies Unicode NFC so accented headers
// written in decomposed form compare equal.
func NormalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\uFEFF")
	h = strings.TrimSpace(h)
	return norm.NFC.String(h)
}

// UniqueNames returns names with repeats suffixed ".1", ".2", ... in order of
// appearance. The first occurrence keeps its name and a suffixed name never
// takes one already present in names.
func UniqueNames(names []string) []string {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	out := make([]string, len(names))
	used := make(map[string]bool, len(names))
	next := make(map[string]int)
	for i, n := range names {
		if !used[n] {
			used[n] = true
			out[i] = n
			continue
		}
		k := next[n]
		cand := n
		for {
			k++
			cand = n + "." + strconv.Itoa(k)
			if !used[cand] && !present[cand] {
				break
			}
		}
		next[n] = k
		used[cand] = true
		out[i] = cand
	}
	return out
}
