package config

import (
	"fmt"
	"net/url"
	"strings"

	"nutrimerge/internal/schema"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one configuration problem. Path is the JSON path of the offending
// field (e.g. "sink.dsn").
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg and returns every issue found. It never stops at the
// first problem so a user can fix a config file in one pass.
func Validate(c Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.DataDir) == "" {
		add(SeverityError, "data_dir", "must not be empty")
	}
	if strings.TrimSpace(c.Output) == "" {
		add(SeverityError, "output", "must not be empty")
	}
	if c.Ciqual.File == "" {
		add(SeverityError, "ciqual.file", "must not be empty")
	}
	if c.Fineli.Archive == "" {
		add(SeverityError, "fineli.archive", "must not be empty")
	}
	if c.Fineli.FoodMember == "" || c.Fineli.ComponentMember == "" {
		add(SeverityError, "fineli", "food_member and component_member are required")
	}
	if c.Fineli.JoinKey == "" {
		add(SeverityError, "fineli.join_key", "must not be empty")
	}
	if enc := c.Fineli.Parser.String("encoding", ""); enc != "" && !knownEncoding(enc) {
		add(SeverityError, "fineli.parser.encoding", "unsupported encoding %q", enc)
	}

	if c.OpenFoodFacts.BatchSize <= 0 {
		add(SeverityError, "openfoodfacts.batch_size", "must be > 0")
	}
	if c.OpenFoodFacts.SearchURL != "" {
		if _, err := url.ParseRequestURI(c.OpenFoodFacts.SearchURL); err != nil {
			add(SeverityError, "openfoodfacts.search_url", "invalid URL: %v", err)
		}
		if c.OpenFoodFacts.PageSize <= 0 {
			add(SeverityError, "openfoodfacts.page_size", "must be > 0")
		}
	}
	if c.OpenFoodFacts.Query != "" && c.OpenFoodFacts.SearchURL == "" {
		add(SeverityWarning, "openfoodfacts.query", "set but search_url is empty; the search sample will be skipped")
	}

	if c.Swedish.FoodID != "" {
		if _, err := url.ParseRequestURI(c.Swedish.BaseURL); err != nil {
			add(SeverityError, "swedish.base_url", "invalid URL: %v", err)
		}
	}
	if c.HTTP.Timeout.Duration < 0 {
		add(SeverityError, "http.timeout", "must be >= 0")
	}

	switch c.Rename.OnCollision {
	case "", "coalesce", "reject":
	default:
		add(SeverityError, "rename.on_collision", "must be coalesce or reject, got %q", c.Rename.OnCollision)
	}
	emptyAlias := false
	for src, dst := range c.Rename.Aliases {
		if strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
			add(SeverityError, "rename.aliases", "empty alias %q -> %q", src, dst)
			emptyAlias = true
		}
	}
	if !emptyAlias {
		if _, err := schema.DefaultRenameMap().WithAliases(c.Rename.Aliases); err != nil {
			add(SeverityError, "rename.aliases", "%v", err)
		}
	}

	switch c.Sink.Kind {
	case "":
	case "sqlite", "postgres", "mssql":
		if c.Sink.DSN == "" {
			add(SeverityError, "sink.dsn", "required when sink.kind=%s", c.Sink.Kind)
		}
		if c.Sink.Table == "" {
			add(SeverityError, "sink.table", "must not be empty")
		}
		if c.Sink.BatchSize <= 0 {
			add(SeverityError, "sink.batch_size", "must be > 0")
		}
	default:
		add(SeverityError, "sink.kind", "unsupported kind %q (want sqlite, postgres or mssql)", c.Sink.Kind)
	}

	switch c.Metrics.Backend {
	case "", "none", "datadog":
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", c.Metrics.Backend)
	}

	return issues
}

func knownEncoding(enc string) bool {
	switch strings.ToLower(enc) {
	case "utf-8", "utf8", "iso-8859-1", "latin1", "latin-1", "windows-1252", "cp1252":
		return true
	}
	return false
}
