package source

import (
	"archive/zip"
	"context"
	"fmt"
	"path"
	"strings"

	"nutrimerge/internal/config"
	csvparser "nutrimerge/internal/parser/csv"
	"nutrimerge/internal/table"
)

// LoadFineli reads the Fineli open data package archive name (relative to
// the data dir) and left-joins its component values onto its foods.
//
// Both members are parsed with cfg.Fineli.Parser (semicolon separated,
// ISO-8859-1, decimal comma by default). Rows the CSV reader cannot use are
// skipped.
//
// Errors:
//   - *MissingFileError when the archive is absent
//   - a wrapped error naming a member that is missing or unreadable
//   - join errors when the key column is missing from either member
func LoadFineli(ctx context.Context, cfg config.Config, name string) (*table.Table, error) {
	if name == "" {
		name = cfg.Fineli.Archive
	}
	archive := cfg.Path(name)
	if err := requireFile(archive, cfg.Fineli.DownloadURL); err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archive, err)
	}
	defer zr.Close()

	foods, err := readZipCSV(ctx, &zr.Reader, cfg.Fineli.FoodMember, cfg.Fineli.Parser)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archive, err)
	}
	components, err := readZipCSV(ctx, &zr.Reader, cfg.Fineli.ComponentMember, cfg.Fineli.Parser)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archive, err)
	}

	joined, err := table.LeftJoin(foods, components, cfg.Fineli.JoinKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archive, err)
	}
	return joined, nil
}

// readZipCSV parses the member named member. Matching falls back to the base
// name, case-insensitively, so packages that nest files in a folder still
// load.
func readZipCSV(ctx context.Context, zr *zip.Reader, member string, opts config.Options) (*table.Table, error) {
	f := findMember(zr, member)
	if f == nil {
		return nil, fmt.Errorf("member %s not found", member)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open member %s: %w", member, err)
	}
	defer rc.Close()

	t, err := csvparser.ReadTable(ctx, rc, opts, nil)
	if err != nil {
		return nil, fmt.Errorf("read member %s: %w", member, err)
	}
	return t, nil
}

func findMember(zr *zip.Reader, member string) *zip.File {
	for _, f := range zr.File {
		if f.Name == member {
			return f
		}
	}
	for _, f := range zr.File {
		if strings.EqualFold(path.Base(f.Name), member) {
			return f
		}
	}
	return nil
}
