// Command nutrimerge loads the Ciqual, Fineli, Open Food Facts and Swedish
// Food Agency datasets, maps their nutrient columns onto one vocabulary and
// writes the unified table as CSV.
//
// Configuration precedence: defaults < -config JSON file < environment
// (optionally from .env) < flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nutrimerge/internal/config"
	"nutrimerge/internal/metrics"
	"nutrimerge/internal/metrics/datadog"
	"nutrimerge/internal/pipeline"
	_ "nutrimerge/internal/storage/all"
)

// backendCloser is the minimal interface used by this command to manage a
// metrics backend.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake backend factory, env and runner.
//
// Errors:
//   - BackendFactory should return a non-nil error for fatal initialization
//     failures.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Getenv func(string) string

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)

	// Runner runs the pipeline. Nil uses a pipeline.Runner logging to Stderr.
	Runner func(ctx context.Context, cfg config.Config, logger pipeline.Logger) (pipeline.Result, error)
}

// cliFlags are the parsed flags. Unset flags leave the config unchanged.
type cliFlags struct {
	ConfigPath     string
	EnvFile        string
	DataDir        string
	Output         string
	SwedishID      string
	OffQuery       string
	OffPageSize    int
	MetricsBackend string
	ValidateOnly   bool
	Verbose        bool

	set map[string]bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Getenv: os.Getenv,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
	})
	stop()
	os.Exit(code)
}

// run executes the command and returns an exit code.
//
// Exit codes:
//   - 0: output written.
//   - 1: the run failed (mandatory source, unify, output or sink error).
//   - 2: flags, configuration or metrics initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}

	fl, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	if err := config.LoadDotEnv(fl.EnvFile); err != nil {
		fmt.Fprintf(d.Stderr, "env: %v\n", err)
		return 2
	}
	cfg, err := config.Load(fl.ConfigPath)
	if err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}
	if err := cfg.ApplyEnv(d.Getenv); err != nil {
		fmt.Fprintf(d.Stderr, "config: %v\n", err)
		return 2
	}
	fl.apply(&cfg)

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		return 2
	}
	if fl.ValidateOnly {
		fmt.Fprintln(d.Stdout, "config ok")
		return 0
	}

	logger := log.New(d.Stderr, "nutrimerge ", log.LstdFlags)
	if !fl.Verbose {
		logger.SetFlags(0)
	}

	// Unknown backends were reported by Validate as a warning; they run
	// without metrics.
	switch strings.ToLower(cfg.Metrics.Backend) {
	case "datadog":
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(append([]string(nil), cfg.Metrics.Tags...), "tool:nutrimerge")
		backend, err := d.BackendFactory(ctx, cfg.Job, tags, cfg.Metrics.FlushEvery.Duration)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
			metrics.SetBackend(nil)
		}()
	}

	runner := d.Runner
	if runner == nil {
		runner = func(ctx context.Context, cfg config.Config, logger pipeline.Logger) (pipeline.Result, error) {
			r := &pipeline.Runner{Logger: logger}
			return r.Run(ctx, cfg)
		}
	}

	res, err := runner(ctx, cfg, logger)
	if err != nil {
		logger.Printf("stage=done status=error err=%v", err)
		return 1
	}
	fmt.Fprintf(d.Stdout, "wrote %s rows=%d cols=%d run=%s\n", res.Output, res.Rows, res.Cols, res.RunID)
	return 0
}

// parseFlags parses command arguments.
//
// Errors:
//   - Returns an error for invalid flags, with usage text.
//   - Does not exit the process (caller decides exit code).
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("nutrimerge", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var fl cliFlags
	fs.StringVar(&fl.ConfigPath, "config", "", "Path to a JSON config file")
	fs.StringVar(&fl.EnvFile, "env-file", ".env", "Optional .env file loaded before reading the environment")
	fs.StringVar(&fl.DataDir, "data-dir", "", "Directory holding the dataset files and the output")
	fs.StringVar(&fl.Output, "output", "", "Output CSV file name (relative to -data-dir unless absolute)")
	fs.StringVar(&fl.SwedishID, "swedish-id", "", "Livsmedelsverket food id to fetch")
	fs.StringVar(&fl.OffQuery, "off-query", "", "Open Food Facts search terms (enables the search sample)")
	fs.IntVar(&fl.OffPageSize, "off-page-size", 0, "Max products taken from the Open Food Facts search")
	fs.StringVar(&fl.MetricsBackend, "metrics-backend", "", "Metrics backend: datadog or none")
	fs.BoolVar(&fl.ValidateOnly, "validate", false, "Validate the configuration and exit")
	fs.BoolVar(&fl.Verbose, "v", false, "Timestamped logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cliFlags{}, errors.New(usageBuf.String())
		}
		return cliFlags{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return cliFlags{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fl.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { fl.set[f.Name] = true })

	if fl.set["off-page-size"] && fl.OffPageSize <= 0 {
		return cliFlags{}, errors.New("-off-page-size must be > 0")
	}
	return fl, nil
}

// apply overlays explicitly set flags onto cfg.
func (fl cliFlags) apply(cfg *config.Config) {
	if fl.set["data-dir"] {
		cfg.DataDir = fl.DataDir
	}
	if fl.set["output"] {
		cfg.Output = fl.Output
	}
	if fl.set["swedish-id"] {
		cfg.Swedish.FoodID = fl.SwedishID
	}
	if fl.set["off-query"] {
		cfg.OpenFoodFacts.Query = fl.OffQuery
	}
	if fl.set["off-page-size"] {
		cfg.OpenFoodFacts.PageSize = fl.OffPageSize
	}
	if fl.set["metrics-backend"] {
		cfg.Metrics.Backend = fl.MetricsBackend
	}
}
