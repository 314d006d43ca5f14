package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"nutrimerge/internal/config"
	"nutrimerge/internal/schema"
	"nutrimerge/internal/table"
)

// DecodeReader wraps r so it yields UTF-8 for the named charset. Empty and
// UTF-8 names return r unchanged.
func DecodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", encoding)
	}
}

// StreamCSVRows reads delimited text from src and calls emit once per data
// record with cells aligned to the header passed to onHeader.
//
// Options:
//   - has_header (default true): when false, columns are named col_1..col_n
//     from the width of the first record.
//   - comma (default ','), lazy_quotes, trim_space (default true)
//   - header_map: raw header -> column name; repeated column names get
//     ".1", ".2" suffixes after mapping
//   - encoding: source charset (utf-8, iso-8859-1, windows-1252)
//   - infer_numbers: parse numeric cells into float64
//   - decimal_comma: with infer_numbers, accept "12,5" as 12.5
//
// Empty cells become nil. Records that cannot be read, or that are wider than
// the header, are reported to onErr and skipped; short records are padded
// with nil.
func StreamCSVRows(
	ctx context.Context,
	src io.Reader,
	opt config.Options,
	onHeader func(columns []string),
	emit func(line int, rec []any) error,
	onErr func(line int, err error),
) error {
	var line int

	hasHeader := opt.Bool("has_header", true)
	comma := opt.Rune("comma", ',')
	trim := opt.Bool("trim_space", true)
	hm := opt.StringMap("header_map")
	lazy := opt.Bool("lazy_quotes", false)
	infer := opt.Bool("infer_numbers", false)
	decimalComma := opt.Bool("decimal_comma", false)

	r, err := DecodeReader(src, opt.String("encoding", ""))
	if err != nil {
		return err
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.ReuseRecord = true
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1

	readRec := func() ([]string, error) {
		line++
		return cr.Read()
	}

	var columns []string
	var pending []string
	if hasHeader {
		hdr, err := readRec()
		if err == io.EOF {
			onHeader(nil)
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("read header: %w", err))
			}
			return fmt.Errorf("csv: read header: %w", err)
		}
		columns = make([]string, len(hdr))
		for i, h := range hdr {
			h = schema.NormalizeHeader(h)
			if mapped, ok := hm[h]; ok {
				h = mapped
			}
			columns[i] = h
		}
		columns = schema.UniqueNames(columns)
	} else {
		first, err := readRec()
		if err == io.EOF {
			onHeader(nil)
			return nil
		}
		if err != nil {
			return fmt.Errorf("csv: read first record: %w", err)
		}
		columns = make([]string, len(first))
		for i := range columns {
			columns[i] = "col_" + strconv.Itoa(i+1)
		}
		pending = append([]string(nil), first...)
	}
	onHeader(columns)

	convert := func(rec []string) []any {
		row := make([]any, len(columns))
		for i := range columns {
			if i >= len(rec) {
				break
			}
			v := rec[i]
			if trim {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				continue
			}
			if infer {
				if f, ok := table.ParseNumber(v, decimalComma); ok {
					row[i] = f
					continue
				}
			}
			row[i] = v
		}
		return row
	}

	if pending != nil {
		if err := emit(line, convert(pending)); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := readRec()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if onErr != nil {
				onErr(line, fmt.Errorf("csv read: %w", err))
			}
			continue
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		if len(rec) > len(columns) {
			if onErr != nil {
				onErr(line, fmt.Errorf("record has %d fields, header has %d", len(rec), len(columns)))
			}
			continue
		}
		if err := emit(line, convert(rec)); err != nil {
			return err
		}
	}
}

// ReadTable collects a whole CSV stream into a table. Row-level problems
// are passed to onErr (which may be nil) and skipped.
func ReadTable(ctx context.Context, src io.Reader, opt config.Options, onErr func(line int, err error)) (*table.Table, error) {
	t := table.Empty()
	err := StreamCSVRows(ctx, src, opt,
		func(columns []string) { t.Columns = columns },
		func(_ int, rec []any) error {
			t.Rows = append(t.Rows, rec)
			return nil
		},
		onErr,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
