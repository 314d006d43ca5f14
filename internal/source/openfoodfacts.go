package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"nutrimerge/internal/config"
	jsonparser "nutrimerge/internal/parser/json"
	"nutrimerge/internal/storage"
	"nutrimerge/internal/storage/sqlite"
	"nutrimerge/internal/table"
)

// offNutrients are the per-100g fields projected from the dump, in output
// order. The first is aliased to energy_kcal.
var offNutrients = []string{
	"energy-kcal_100g",
	"proteins_100g",
	"carbohydrates_100g",
	"fat_100g",
	"sugars_100g",
	"fiber_100g",
	"salt_100g",
}

const offStagingTable = "off_products"

var errPageFull = errors.New("page size reached")

// LoadOpenFoodFactsSample runs a product search for query and returns up to
// pageSize products, flattened ("ingredients_analysis.vegan"). The seven
// nutrients get the same columns as the dump projection: top-level value
// first, then the "nutriments" one.
//
// Pages are requested in order until pageSize products are collected or a
// page comes back empty.
//
// Errors:
//   - *MissingDependencyError when c has no search URL
//   - *RemoteAPIError for a non-2xx page
//   - JSON errors, wrapped with the page number
func LoadOpenFoodFactsSample(ctx context.Context, c *Client, query string, pageSize int) (*table.Table, error) {
	if c == nil || strings.TrimSpace(c.SearchURL) == "" {
		return nil, &MissingDependencyError{Name: "openfoodfacts-search"}
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0, got %d", pageSize)
	}
	base, err := url.Parse(c.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}

	out := table.Empty()
	opts := config.Options{"envelope": "products"}

	for page := 1; out.Len() < pageSize; page++ {
		u := *base
		q := u.Query()
		q.Set("search_terms", query)
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("page", strconv.Itoa(page))
		q.Set("json", "1")
		u.RawQuery = q.Encode()

		body, err := c.get(ctx, "openfoodfacts-search", u.String())
		if err != nil {
			return nil, err
		}

		got := 0
		err = jsonparser.StreamJSONRows(ctx, bytes.NewReader(body), opts, func(_ int, rec *jsonparser.Record) error {
			if out.Len() >= pageSize {
				return errPageFull
			}
			out.AppendRecord(liftNutrients(rec))
			got++
			return nil
		}, nil)
		if err != nil && !errors.Is(err, errPageFull) {
			return nil, fmt.Errorf("search page %d: %w", page, err)
		}
		if got == 0 || errors.Is(err, errPageFull) {
			break
		}
	}
	return out, nil
}

// LoadOpenFoodFactsDump stages the gzip JSON Lines product dump into the
// on-disk analytical database and projects, per product, its code, name and
// the seven per-100g nutrient fields.
//
// Each nutrient is read from the top level of the product, falling back to
// its "nutriments" object. Non-numeric values are stored as NULL. The
// database file is recreated on every call.
//
// Errors:
//   - *MissingDependencyError when the sqlite engine is not linked
//   - *MissingFileError when the dump is absent
//   - decompression, JSON and SQL errors, wrapped
func LoadOpenFoodFactsDump(ctx context.Context, cfg config.Config) (*table.Table, error) {
	if !hasDriver(dumpDriver) {
		return nil, &MissingDependencyError{Name: dumpDriver}
	}
	dump := cfg.Path(cfg.OpenFoodFacts.DumpFile)
	if err := requireFile(dump, cfg.OpenFoodFacts.DownloadURL); err != nil {
		return nil, err
	}

	f, err := os.Open(dump)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dump, err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gunzip %s: %w", dump, err)
	}
	defer gz.Close()

	dbPath := cfg.Path(cfg.OpenFoodFacts.DB)
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reset %s: %w", dbPath, err)
	}
	repo, err := sqlite.Open(ctx, dbPath+"?_pragma=synchronous(OFF)&_pragma=journal_mode(OFF)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer repo.Close()

	spec := offStagingSpec()
	if err := repo.EnsureTable(ctx, spec); err != nil {
		return nil, err
	}
	cols := spec.ColumnNames()

	batchSize := cfg.OpenFoodFacts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batch := make([][]any, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := repo.InsertRows(ctx, offStagingTable, cols, batch); err != nil {
			return fmt.Errorf("stage products: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	opts := config.Options{"envelope": "none", "max_level": 1}
	err = jsonparser.StreamJSONRows(ctx, gz, opts, func(_ int, rec *jsonparser.Record) error {
		batch = append(batch, stagingRow(rec))
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dump, err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	out, err := repo.Query(ctx, offProjectionSQL())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", dbPath, err)
	}
	return out, nil
}

// offStagingSpec lays out off_products: code and name, then each nutrient
// twice (top level and under nutriments).
func offStagingSpec() storage.TableSpec {
	spec := storage.TableSpec{
		Name:     offStagingTable,
		Recreate: true,
		Columns: []storage.ColumnSpec{
			{Name: "code", Type: storage.TypeText},
			{Name: "product_name", Type: storage.TypeText},
		},
	}
	for _, n := range offNutrients {
		spec.Columns = append(spec.Columns,
			storage.ColumnSpec{Name: n, Type: storage.TypeFloat},
			storage.ColumnSpec{Name: "nutriments." + n, Type: storage.TypeFloat},
		)
	}
	return spec
}

func stagingRow(rec *jsonparser.Record) []any {
	row := make([]any, 0, 2+2*len(offNutrients))
	row = append(row, textOrNil(rec.Values["code"]), textOrNil(rec.Values["product_name"]))
	for _, n := range offNutrients {
		row = append(row, floatOrNil(rec.Values[n]), floatOrNil(rec.Values["nutriments."+n]))
	}
	return row
}

// offColumn is the output column of a projected nutrient.
func offColumn(n string) string {
	if n == offNutrients[0] {
		return "energy_kcal"
	}
	return n
}

func isOffNutrient(n string) bool {
	for _, x := range offNutrients {
		if x == n {
			return true
		}
	}
	return false
}

func offProjectionSQL() string {
	var b strings.Builder
	b.WriteString("SELECT code, product_name")
	for _, n := range offNutrients {
		fmt.Fprintf(&b, `, COALESCE("%s", "nutriments.%s") AS "%s"`, n, n, offColumn(n))
	}
	b.WriteString(" FROM " + offStagingTable + " ORDER BY rowid")
	return b.String()
}

// liftNutrients gives a search result the nutrient columns the dump
// projection produces: "nutriments.<field>" moves to "<field>" (energy to
// energy_kcal) unless the product already has a non-nil top-level value.
// Other keys are kept in order.
func liftNutrients(rec *jsonparser.Record) ([]string, map[string]any) {
	keys := make([]string, 0, len(rec.Keys))
	vals := make(map[string]any, len(rec.Values))
	top := make(map[string]bool, len(offNutrients))
	for _, k := range rec.Keys {
		v := rec.Values[k]
		name, nested := k, false
		if n, ok := strings.CutPrefix(k, "nutriments."); ok && isOffNutrient(n) {
			name, nested = offColumn(n), true
		} else if isOffNutrient(k) {
			name = offColumn(k)
		}

		prev, seen := vals[name]
		switch {
		case !seen:
			keys = append(keys, name)
			vals[name] = v
			top[name] = !nested
		case prev == nil || (!nested && !top[name] && v != nil):
			vals[name] = v
			top[name] = !nested
		}
	}
	return keys, vals
}

func textOrNil(v any) any {
	if v == nil {
		return nil
	}
	return table.FormatCell(v)
}

func floatOrNil(v any) any {
	if f, ok := table.Float(v); ok {
		return f
	}
	return nil
}
