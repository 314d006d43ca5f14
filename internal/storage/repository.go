// Package storage is the backend-agnostic database layer. Backends register a
// factory under a kind ("sqlite", "postgres", "mssql") from their init
// function; import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// Repository is the minimal write surface the unified-table sink needs. Each
// backend implements it in its own SQL dialect.
type Repository interface {
	// Close releases connections. Call once.
	Close()

	// EnsureTable creates spec if it does not exist. With spec.Recreate an
	// existing table is dropped first.
	EnsureTable(ctx context.Context, spec TableSpec) error

	// InsertRows inserts rows (each aligned with columns) into table and
	// returns the number of rows written. Backends split rows into as many
	// statements as their parameter limit requires.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// MaxParams is the bind-parameter limit of one statement.
	MaxParams() int
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available to New under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered, so a
// duplicate backend fails at startup rather than at first use.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository with the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
