package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"nutrimerge/internal/config"
	"nutrimerge/internal/schema"
	"nutrimerge/internal/table"
)

// LoadCiqual reads the Ciqual composition table spreadsheet at
// cfg.Path(cfg.Ciqual.File).
//
// The first worksheet is used unless cfg.Ciqual.Sheet names another. Row 1
// is the header; blank headers become "Unnamed: <i>" and repeated headers get
// ".1", ".2" suffixes. Cells holding a plain number become float64, blank
// cells nil, anything else (e.g. "< 0,5", "traces") stays text.
//
// ANSES publishes the table as a legacy .xls workbook; it has to be saved as
// .xlsx first.
//
// Errors:
//   - *MissingFileError when the spreadsheet is absent; its Hint names a
//     sibling .xls waiting for conversion
//   - a .xls path
//   - open/read errors from excelize, wrapped
func LoadCiqual(ctx context.Context, cfg config.Config) (*table.Table, error) {
	path := cfg.Path(cfg.Ciqual.File)
	if isLegacyXLS(path) {
		return nil, fmt.Errorf("%s: legacy .xls workbooks cannot be read; save it as .xlsx and point ciqual.file at the copy", path)
	}
	if err := requireFile(path, cfg.Ciqual.DownloadURL); err != nil {
		var mf *MissingFileError
		if errors.As(err, &mf) {
			mf.Hint = xlsxHint(path)
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sheet := cfg.Ciqual.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s has no worksheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}
	if len(rows) == 0 {
		return table.Empty(), nil
	}

	// Data rows may be wider than the header when trailing header cells are
	// blank.
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	out := table.New(sheetHeader(rows[0], width)...)

	for i, r := range rows[1:] {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row := make([]any, width)
		for j, s := range r {
			row[j] = cellValue(s)
		}
		if err := out.Append(row); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func isLegacyXLS(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xls")
}

// xlsxHint explains the conversion the user still has to do for a missing
// .xlsx path.
func xlsxHint(path string) string {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ""
	}
	xls := strings.TrimSuffix(path, filepath.Ext(path)) + ".xls"
	if st, err := os.Stat(xls); err == nil && !st.IsDir() {
		return "found " + xls + "; save it as .xlsx"
	}
	return "the table is published as .xls; save it as .xlsx"
}

func sheetHeader(raw []string, width int) []string {
	cols := make([]string, width)
	for i := range cols {
		name := ""
		if i < len(raw) {
			name = strings.TrimSpace(raw[i])
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		cols[i] = name
	}
	return schema.UniqueNames(cols)
}

func cellValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, ok := table.ParseNumber(s, false); ok {
		return f
	}
	return s
}
