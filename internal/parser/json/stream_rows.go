package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"nutrimerge/internal/config"
	"nutrimerge/internal/table"
)

// Record is one flattened JSON object. Keys keeps document order, which
// becomes column order when records are collected into a table.
type Record struct {
	Keys   []string
	Values map[string]any
}

func newRecord() *Record {
	return &Record{Values: make(map[string]any)}
}

func (r *Record) set(key string, v any) {
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = v
}

// StreamJSONRows parses JSON from r and calls emit once per record, with
// nested objects flattened into dotted keys ("a.b.c").
//
// Streaming behavior:
//   - If the root is a JSON array, it streams each object element one-by-one.
//   - If the root is a JSON object, the "envelope" option decides:
//   - "auto" (default): the first array-valued field is streamed as the
//     records; with no array field the object itself is one record.
//   - "none": the root object is always exactly one record.
//   - any other value names the array field to stream; other fields are
//     skipped, and an object without that field yields no records.
//   - Objects following the root value (JSON Lines) are emitted as records.
//
// parserOpts:
//   - envelope: see above
//   - header_map: flattened key -> column name
//   - array_join_separator (default ","): arrays of strings are joined with
//     it; any other array is kept as its JSON text
//   - max_level (default -1, unlimited): objects nested deeper than this are
//     kept as JSON text instead of being flattened
//
// Numbers are json.Number so the source text survives the round trip.
func StreamJSONRows(
	ctx context.Context,
	r io.Reader,
	parserOpts config.Options,
	emit func(line int, rec *Record) error,
	onParseErr func(line int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	sep := parserOpts.String("array_join_separator", ",")
	if sep == "" {
		sep = ","
	}
	f := &flattener{
		sep:       sep,
		maxLevel:  parserOpts.Int("max_level", -1),
		headerMap: parserOpts.StringMap("header_map"),
	}
	envelope := strings.TrimSpace(parserOpts.String("envelope", "auto"))
	if envelope == "" {
		envelope = "auto"
	}

	line := 0
	emitRecord := func(rec *Record) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line++
		return emit(line, f.rename(rec))
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	switch d := tok.(type) {
	case json.Delim:
		switch d {
		case '[':
			if err := f.streamArrayOfObjects(dec, emitRecord, onParseErr, &line); err != nil {
				return err
			}
			if end, err := dec.Token(); err != nil {
				return fmt.Errorf("json: read array end: %w", err)
			} else if end != json.Delim(']') {
				return fmt.Errorf("json: expected array end ']', got %v", end)
			}
			return f.streamTrailingObjects(dec, emitRecord, onParseErr, &line)

		case '{':
			if envelope == "none" {
				rec := newRecord()
				if err := f.decodeObject(dec, "", 0, rec); err != nil {
					if onParseErr != nil {
						onParseErr(line+1, err)
					}
					return err
				}
				if err := emitRecord(rec); err != nil {
					return err
				}
				return f.streamTrailingObjects(dec, emitRecord, onParseErr, &line)
			}

			streamed, single, err := f.streamEnvelopeOrSingle(dec, envelope, emitRecord, onParseErr, &line)
			if err != nil {
				return err
			}
			if end, err := dec.Token(); err != nil {
				return fmt.Errorf("json: read object end: %w", err)
			} else if end != json.Delim('}') {
				return fmt.Errorf("json: expected object end '}', got %v", end)
			}
			if !streamed && single != nil {
				if err := emitRecord(single); err != nil {
					return err
				}
			}
			return f.streamTrailingObjects(dec, emitRecord, onParseErr, &line)

		default:
			return fmt.Errorf("json: unsupported root delimiter %q", d)
		}

	default:
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}
}

// ReadTable collects every record of a JSON stream into a table. Columns are
// the flattened keys in first-seen order; records lacking a column get nil.
func ReadTable(ctx context.Context, r io.Reader, parserOpts config.Options, onParseErr func(line int, err error)) (*table.Table, error) {
	t := table.Empty()
	err := StreamJSONRows(ctx, r, parserOpts, func(_ int, rec *Record) error {
		t.AppendRecord(rec.Keys, rec.Values)
		return nil
	}, onParseErr)
	if err != nil {
		return nil, err
	}
	return t, nil
}

type flattener struct {
	sep       string
	maxLevel  int
	headerMap map[string]string
}

func (f *flattener) rename(rec *Record) *Record {
	if len(f.headerMap) == 0 {
		return rec
	}
	out := &Record{Keys: make([]string, 0, len(rec.Keys)), Values: make(map[string]any, len(rec.Values))}
	for _, k := range rec.Keys {
		name := k
		if mapped, ok := f.headerMap[k]; ok && mapped != "" {
			name = mapped
		}
		out.set(name, rec.Values[k])
	}
	return out
}

func (f *flattener) streamTrailingObjects(
	dec *json.Decoder,
	emit func(*Record) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err == nil && tok != json.Delim('{') {
			err = fmt.Errorf("trailing value is not an object (got %v)", tok)
		}
		var rec *Record
		if err == nil {
			rec = newRecord()
			err = f.decodeObject(dec, "", 0, rec)
		}
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams elements of the current array (after '[' has
// been consumed). Each element must be an object; null elements are skipped.
func (f *flattener) streamArrayOfObjects(
	dec *json.Decoder,
	emit func(*Record) error,
	onParseErr func(line int, err error),
	line *int,
) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if tok == nil {
			continue
		}
		if tok != json.Delim('{') {
			err := fmt.Errorf("json: array element not an object (got %v)", tok)
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return err
		}
		rec := newRecord()
		if err := f.decodeObject(dec, "", 0, rec); err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
// In "auto" mode the first array-valued field is the envelope; otherwise only
// the field named by envelope is. Fields after the envelope are skipped.
func (f *flattener) streamEnvelopeOrSingle(
	dec *json.Decoder,
	envelope string,
	emit func(*Record) error,
	onParseErr func(line int, err error),
	line *int,
) (streamed bool, single *Record, _ error) {
	auto := envelope == "auto"
	single = newRecord()

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, fmt.Errorf("json: read object value token: %w", err)
		}

		isArray := valTok == json.Delim('[')
		if isArray && (auto || key == envelope) {
			if err := f.streamArrayOfObjects(dec, emit, onParseErr, line); err != nil {
				return false, nil, err
			}
			endTok, err := dec.Token()
			if err != nil {
				return false, nil, fmt.Errorf("json: read envelope array end: %w", err)
			}
			if endTok != json.Delim(']') {
				return false, nil, fmt.Errorf("json: expected ']' after envelope array, got %v", endTok)
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
				}
				if err := skipNextValue(dec); err != nil {
					return true, nil, err
				}
			}
			return true, nil, nil
		}

		if !auto {
			if err := skipValueFromFirstToken(dec, valTok); err != nil {
				return false, nil, err
			}
			continue
		}
		if err := f.setValue(dec, key, 1, valTok, single); err != nil {
			if onParseErr != nil {
				onParseErr(*line+1, err)
			}
			return false, nil, err
		}
	}

	if !auto {
		return false, nil, nil
	}
	return false, single, nil
}

// decodeObject flattens the object whose '{' was just consumed into rec,
// prefixing keys with prefix. level is the nesting depth of the object.
func (f *flattener) decodeObject(dec *json.Decoder, prefix string, level int, rec *Record) error {
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object key: %w", err)
		}
		k, ok := kt.(string)
		if !ok {
			return fmt.Errorf("json: object key not a string (got %T)", kt)
		}
		vt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: read object value token: %w", err)
		}
		if err := f.setValue(dec, prefix+k, level+1, vt, rec); err != nil {
			return err
		}
	}
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return fmt.Errorf("json: expected '}', got %v", end)
	}
	return nil
}

// setValue stores the value starting at tok under key. level is the depth
// the value would be flattened at.
func (f *flattener) setValue(dec *json.Decoder, key string, level int, tok any, rec *Record) error {
	switch tok {
	case json.Delim('{'):
		if f.maxLevel < 0 || level <= f.maxLevel {
			return f.decodeObject(dec, key+".", level, rec)
		}
		v, err := materializeValueFromFirstToken(dec, tok)
		if err != nil {
			return err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("json: encode %q: %w", key, err)
		}
		rec.set(key, string(b))
		return nil

	case json.Delim('['):
		v, err := materializeValueFromFirstToken(dec, tok)
		if err != nil {
			return err
		}
		s, err := joinArray(v.([]any), f.sep)
		if err != nil {
			return fmt.Errorf("json: encode %q: %w", key, err)
		}
		rec.set(key, s)
		return nil

	default:
		rec.set(key, tok)
		return nil
	}
}

// joinArray joins an array of strings with sep (nulls skipped). Any other
// array is returned as its JSON text.
func joinArray(arr []any, sep string) (string, error) {
	ss := make([]string, 0, len(arr))
	for _, it := range arr {
		if it == nil {
			continue
		}
		s, ok := it.(string)
		if !ok {
			b, err := json.Marshal(arr)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
		ss = append(ss, s)
	}
	return strings.Join(ss, sep), nil
}

// skipNextValue skips the next JSON value from the decoder, without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip object end: %w", err)
		}
		if end != json.Delim('}') {
			return fmt.Errorf("json: expected '}', got %v", end)
		}
		return nil

	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip array end: %w", err)
		}
		if end != json.Delim(']') {
			return fmt.Errorf("json: expected ']', got %v", end)
		}
		return nil

	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeValueFromFirstToken builds a Go value for the current JSON value,
// given the first token has already been read. Used for arrays and for
// objects past max_level, which end up as text anyway.
func materializeValueFromFirstToken(dec *json.Decoder, tok any) (any, error) {
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '{':
			m := make(map[string]any)
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested object key: %w", err)
				}
				k, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("json: nested object key not string (got %T)", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested object value token: %w", err)
				}
				v, err := materializeValueFromFirstToken(dec, vt)
				if err != nil {
					return nil, err
				}
				m[k] = v
			}
			end, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested object end: %w", err)
			}
			if end != json.Delim('}') {
				return nil, fmt.Errorf("json: expected '}', got %v", end)
			}
			return m, nil

		case '[':
			arr := []any{}
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested array value token: %w", err)
				}
				v, err := materializeValueFromFirstToken(dec, vt)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			end, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested array end: %w", err)
			}
			if end != json.Delim(']') {
				return nil, fmt.Errorf("json: expected ']', got %v", end)
			}
			return arr, nil

		default:
			return nil, fmt.Errorf("json: unexpected delimiter %q", d)
		}
	}

	return tok, nil
}
