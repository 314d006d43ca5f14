// Package pipeline drives one nutrimerge run: load every source, unify,
// write the CSV output and, optionally, copy the result into a database.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"nutrimerge/internal/config"
	"nutrimerge/internal/metrics"
	"nutrimerge/internal/schema"
	"nutrimerge/internal/source"
	"nutrimerge/internal/storage"
	"nutrimerge/internal/table"
	"nutrimerge/internal/unify"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Loaders are the source functions the runner calls. Tests replace them to
// avoid file and network I/O.
type Loaders struct {
	Ciqual              func(ctx context.Context, cfg config.Config) (*table.Table, error)
	Fineli              func(ctx context.Context, cfg config.Config, name string) (*table.Table, error)
	OpenFoodFactsDump   func(ctx context.Context, cfg config.Config) (*table.Table, error)
	OpenFoodFactsSample func(ctx context.Context, c *source.Client, query string, pageSize int) (*table.Table, error)
	Swedish             func(ctx context.Context, c *source.Client, foodID string) (*table.Table, error)
}

// DefaultLoaders returns the real source loaders.
func DefaultLoaders() Loaders {
	return Loaders{
		Ciqual:              source.LoadCiqual,
		Fineli:              source.LoadFineli,
		OpenFoodFactsDump:   source.LoadOpenFoodFactsDump,
		OpenFoodFactsSample: source.LoadOpenFoodFactsSample,
		Swedish:             source.FetchSwedishFood,
	}
}

// Source statuses as logged and recorded in metrics.
const (
	StatusOK      = metrics.StatusOK
	StatusError   = metrics.StatusError
	StatusSkipped = metrics.StatusSkipped
)

// SourceResult is the outcome of one loader call.
type SourceResult struct {
	Name     string
	Status   string
	Rows     int
	Cols     int
	Duration time.Duration
	Err      error
}

// Result summarizes a completed run.
type Result struct {
	RunID       string
	Output      string
	Rows        int
	Cols        int
	RenameMap   string
	Sources     []SourceResult
	SinkRows    int64
	SinkEnabled bool
}

// Runner executes runs. The zero value uses the real loaders, probes
// capabilities from the config and discards logs.
type Runner struct {
	Logger  Logger
	Loaders *Loaders

	// Client is the HTTP client for remote sources. Nil builds one from the
	// config.
	Client *source.Client

	// Capabilities overrides ProbeCapabilities.
	Capabilities *source.Capabilities

	// NewRepository opens the sink. Nil uses storage.New.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)

	// NewRunID is a seam for deterministic logs in tests.
	NewRunID func() string
}

// Run loads, unifies and writes.
//
// Mandatory sources (ciqual, fineli) abort the run on error. Optional sources
// are skipped when their capability is missing and replaced with an empty
// table on error; both cases are logged and the run continues.
//
// Errors:
//   - mandatory source failures, wrapped as "source <name>: ..."
//   - invalid rename configuration or a *schema.CollisionError under the
//     reject policy
//   - output and sink write failures
func (r *Runner) Run(ctx context.Context, cfg config.Config) (Result, error) {
	runID := r.runID()
	logf := r.logger(runID)
	res := Result{RunID: runID, Output: cfg.Path(cfg.Output)}

	loaders := DefaultLoaders()
	if r.Loaders != nil {
		loaders = *r.Loaders
	}
	caps := source.ProbeCapabilities(cfg)
	if r.Capabilities != nil {
		caps = *r.Capabilities
	}
	client := r.Client
	if client == nil {
		client = source.NewClient(cfg)
	}
	logf("stage=start job=%s data_dir=%s %s", cfg.Job, cfg.DataDir, caps)

	renameMap, err := schema.DefaultRenameMap().WithAliases(cfg.Rename.Aliases)
	if err != nil {
		return res, fmt.Errorf("rename aliases: %w", err)
	}
	policy, err := schema.ParseCollisionPolicy(cfg.Rename.OnCollision)
	if err != nil {
		return res, err
	}
	res.RenameMap = renameMap.Version

	var tables []*table.Table
	load := func(name string, mandatory bool, fn func() (*table.Table, error)) error {
		start := time.Now()
		t, err := fn()
		sr := SourceResult{Name: name, Duration: time.Since(start), Err: err}
		if err != nil {
			sr.Status = StatusError
			t = table.Empty()
		} else {
			sr.Status = StatusOK
			sr.Rows, sr.Cols = t.Len(), t.Width()
		}
		r.report(logf, &res, sr)
		if err != nil && mandatory {
			return fmt.Errorf("source %s: %w", name, err)
		}
		tables = append(tables, t)
		return nil
	}
	skip := func(name, reason string) {
		r.report(logf, &res, SourceResult{Name: name, Status: StatusSkipped, Err: errors.New(reason)})
		tables = append(tables, table.Empty())
	}

	// 1. Mandatory local datasets.
	if err := load("ciqual", true, func() (*table.Table, error) {
		return loaders.Ciqual(ctx, cfg)
	}); err != nil {
		return res, err
	}
	if err := load("fineli", true, func() (*table.Table, error) {
		return loaders.Fineli(ctx, cfg, cfg.Fineli.Archive)
	}); err != nil {
		return res, err
	}

	// 2. Open Food Facts dump.
	if caps.DumpQuery {
		_ = load("openfoodfacts_dump", false, func() (*table.Table, error) {
			return loaders.OpenFoodFactsDump(ctx, cfg)
		})
	} else {
		skip("openfoodfacts_dump", "analytical engine unavailable")
	}

	// 3. Open Food Facts search sample, only when asked for.
	if cfg.OpenFoodFacts.Query != "" {
		if caps.ProductSearch {
			_ = load("openfoodfacts_search", false, func() (*table.Table, error) {
				return loaders.OpenFoodFactsSample(ctx, client, cfg.OpenFoodFacts.Query, cfg.OpenFoodFacts.PageSize)
			})
		} else {
			skip("openfoodfacts_search", "no search url configured")
		}
	}

	// 4. Swedish API example item.
	if cfg.Swedish.FoodID != "" {
		_ = load("swedish", false, func() (*table.Table, error) {
			return loaders.Swedish(ctx, client, cfg.Swedish.FoodID)
		})
	} else {
		skip("swedish", "no food id configured")
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// 5. Unify and write.
	start := time.Now()
	unified, err := unify.UnifyWith(renameMap, policy, tables...)
	if err != nil {
		return res, err
	}
	res.Rows, res.Cols = unified.Len(), unified.Width()
	logf("stage=unify ok rows=%d cols=%d rename_map=%s policy=%s duration=%s",
		res.Rows, res.Cols, renameMap.Version, policy, durMS(start))

	start = time.Now()
	if err := table.WriteCSVFile(res.Output, unified); err != nil {
		return res, fmt.Errorf("write %s: %w", res.Output, err)
	}
	logf("stage=write ok path=%s duration=%s", res.Output, durMS(start))

	// 6. Optional database sink.
	if cfg.Sink.Kind != "" {
		res.SinkEnabled = true
		start = time.Now()
		n, err := r.sink(ctx, cfg, unified)
		if err != nil {
			logf("stage=sink kind=%s status=error duration=%s err=%v", cfg.Sink.Kind, durMS(start), err)
			return res, fmt.Errorf("sink %s: %w", cfg.Sink.Kind, err)
		}
		res.SinkRows = n
		logf("stage=sink kind=%s table=%s ok rows=%d duration=%s", cfg.Sink.Kind, cfg.Sink.Table, n, durMS(start))
	}
	return res, nil
}

func (r *Runner) sink(ctx context.Context, cfg config.Config, t *table.Table) (int64, error) {
	newRepo := r.NewRepository
	if newRepo == nil {
		newRepo = storage.New
	}
	repo, err := newRepo(ctx, storage.Config{Kind: cfg.Sink.Kind, DSN: cfg.Sink.DSN})
	if err != nil {
		return 0, err
	}
	defer repo.Close()

	spec := storage.SpecForTable(cfg.Sink.Table, t)
	return storage.WriteTable(ctx, repo, cfg.Sink.Kind, spec, t, cfg.Sink.BatchSize)
}

func (r *Runner) report(logf func(string, ...any), res *Result, sr SourceResult) {
	res.Sources = append(res.Sources, sr)
	metrics.RecordSource(sr.Name, sr.Status, sr.Rows, sr.Duration)

	switch sr.Status {
	case StatusOK:
		logf("source=%s status=%s rows=%d cols=%d duration=%s", sr.Name, sr.Status, sr.Rows, sr.Cols, sr.Duration.Truncate(time.Millisecond))
	case StatusSkipped:
		logf("source=%s status=%s rows=0 cols=0 duration=0s reason=%q", sr.Name, sr.Status, sr.Err)
	default:
		logf("source=%s status=%s rows=0 cols=0 duration=%s err=%v", sr.Name, sr.Status, sr.Duration.Truncate(time.Millisecond), sr.Err)
	}
}

func (r *Runner) runID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}

func (r *Runner) logger(runID string) func(format string, v ...any) {
	if r.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return func(format string, v ...any) {
		r.Logger.Printf("run=%s "+format, append([]any{runID}, v...)...)
	}
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
