// Package config holds the run configuration for nutrimerge.
//
// Precedence, lowest to highest: built-in defaults, JSON config file,
// environment (optionally seeded from a .env file), command-line flags.
// Flags are applied by cmd/nutrimerge; this package owns the rest.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full run configuration.
type Config struct {
	Job     string `json:"job"`
	DataDir string `json:"data_dir"`
	Output  string `json:"output"`

	Ciqual        CiqualConfig        `json:"ciqual"`
	Fineli        FineliConfig        `json:"fineli"`
	OpenFoodFacts OpenFoodFactsConfig `json:"openfoodfacts"`
	Swedish       SwedishConfig       `json:"swedish"`
	HTTP          HTTPConfig          `json:"http"`
	Rename        RenameConfig        `json:"rename"`
	Sink          SinkConfig          `json:"sink"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type CiqualConfig struct {
	File        string `json:"file"`
	DownloadURL string `json:"download_url"`
	// Sheet selects a worksheet by name; empty means the first sheet.
	Sheet string `json:"sheet"`
}

type FineliConfig struct {
	Archive         string  `json:"archive"`
	DownloadURL     string  `json:"download_url"`
	FoodMember      string  `json:"food_member"`
	ComponentMember string  `json:"component_member"`
	JoinKey         string  `json:"join_key"`
	Parser          Options `json:"parser"`
}

type OpenFoodFactsConfig struct {
	DumpFile    string `json:"dump_file"`
	DownloadURL string `json:"download_url"`
	// DB is the on-disk analytical database used to query the dump.
	DB        string `json:"db"`
	BatchSize int    `json:"batch_size"`

	// SearchURL enables the product search integration when non-empty.
	SearchURL string `json:"search_url"`
	Query     string `json:"query"`
	PageSize  int    `json:"page_size"`
}

type SwedishConfig struct {
	BaseURL   string `json:"base_url"`
	FoodID    string `json:"food_id"`
	UserAgent string `json:"user_agent"`
}

type HTTPConfig struct {
	Timeout Duration `json:"timeout"`
}

type RenameConfig struct {
	// Aliases are extra source-column -> canonical-field entries merged over
	// the built-in rename map.
	Aliases map[string]string `json:"aliases"`
	// OnCollision is "coalesce" (default) or "reject".
	OnCollision string `json:"on_collision"`
}

// SinkConfig configures the optional database copy of the unified table.
// An empty Kind disables the sink.
type SinkConfig struct {
	Kind      string `json:"kind"` // "sqlite" | "postgres" | "mssql"
	DSN       string `json:"dsn"`
	Table     string `json:"table"`
	BatchSize int    `json:"batch_size"`
}

type MetricsConfig struct {
	Backend    string   `json:"backend"` // "datadog" | "none"
	Tags       []string `json:"tags"`
	FlushEvery Duration `json:"flush_every"`
}

// Duration is a time.Duration that decodes from a JSON string ("30s") or a
// number of seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		dd, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		d.Duration = dd
	case float64:
		d.Duration = time.Duration(t * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when nothing else is provided. The
// paths and URLs match the public distribution points of each dataset.
func Default() Config {
	return Config{
		Job:     "nutrimerge",
		DataDir: "data",
		Output:  "nutrition_unifiee.csv",
		Ciqual: CiqualConfig{
			File:        "ciqual_2020.xlsx",
			DownloadURL: "https://ciqual.anses.fr/",
		},
		Fineli: FineliConfig{
			Archive:         "fineli_basic_package_1.zip",
			DownloadURL:     "https://fineli.fi",
			FoodMember:      "FOOD.csv",
			ComponentMember: "COMPONENT_VALUE.csv",
			JoinKey:         "FOOD_ID",
			Parser: Options{
				"comma":         ";",
				"encoding":      "iso-8859-1",
				"infer_numbers": true,
				"decimal_comma": true,
			},
		},
		OpenFoodFacts: OpenFoodFactsConfig{
			DumpFile:    "openfoodfacts-products.jsonl.gz",
			DownloadURL: "https://world.openfoodfacts.org/data",
			DB:          "off.db",
			BatchSize:   500,
			PageSize:    1000,
		},
		Swedish: SwedishConfig{
			BaseURL:   "https://api.livsmedelsverket.se",
			FoodID:    "1",
			UserAgent: "NutriTalk",
		},
		HTTP:   HTTPConfig{Timeout: Duration{30 * time.Second}},
		Rename: RenameConfig{OnCollision: "coalesce"},
		Sink: SinkConfig{
			Table:     "nutrition_unified",
			BatchSize: 200,
		},
		Metrics: MetricsConfig{
			Backend:    "none",
			FlushEvery: Duration{60 * time.Second},
		},
	}
}

// Load returns Default() overlaid with the JSON file at path. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. getenv is usually
// os.Getenv; tests pass a map lookup.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.DataDir, "NUTRIMERGE_DATA_DIR")
	set(&c.Output, "NUTRIMERGE_OUTPUT")
	set(&c.Swedish.BaseURL, "NUTRIMERGE_SWEDISH_BASE_URL")
	set(&c.Swedish.FoodID, "NUTRIMERGE_SWEDISH_FOOD_ID")
	set(&c.OpenFoodFacts.SearchURL, "NUTRIMERGE_OFF_SEARCH_URL")
	set(&c.OpenFoodFacts.Query, "NUTRIMERGE_OFF_QUERY")
	set(&c.Sink.Kind, "NUTRIMERGE_SINK_KIND")
	set(&c.Sink.Table, "NUTRIMERGE_SINK_TABLE")
	set(&c.Metrics.Backend, "METRICS_BACKEND")

	// An env DSN may reference other variables (${PGPASSWORD}). A DSN from
	// the config file is taken literally.
	if v := strings.TrimSpace(getenv("NUTRIMERGE_SINK_DSN")); v != "" {
		c.Sink.DSN = os.Expand(v, getenv)
	}

	if v := strings.TrimSpace(getenv("METRICS_TAGS")); v != "" {
		c.Metrics.Tags = append(c.Metrics.Tags, ParseCSV(v)...)
	}
	if v := strings.TrimSpace(getenv("NUTRIMERGE_HTTP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid NUTRIMERGE_HTTP_TIMEOUT=%q: %w", v, err)
		}
		c.HTTP.Timeout = Duration{d}
	}
	if v := strings.TrimSpace(getenv("NUTRIMERGE_OFF_PAGE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid NUTRIMERGE_OFF_PAGE_SIZE=%q: %w", v, err)
		}
		c.OpenFoodFacts.PageSize = n
	}
	return nil
}

// Path joins name onto DataDir unless name is already absolute.
func (c Config) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// ParseCSV splits a comma-separated list, trimming blanks.
func ParseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
