package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"nutrimerge/internal/config"
)

// runStream runs StreamJSONRows over input and returns the emitted records,
// the returned error and the onParseErr calls as "line=N err=..." strings.
func runStream(ctx context.Context, input string, opts config.Options) (recs []*Record, lines []int, err error, parseErrCalls []string) {
	onParseErr := func(line int, e error) {
		parseErrCalls = append(parseErrCalls, fmt.Sprintf("line=%d err=%s", line, e.Error()))
	}
	err = StreamJSONRows(ctx, strings.NewReader(input), opts, func(line int, rec *Record) error {
		recs = append(recs, rec)
		lines = append(lines, line)
		return nil
	}, onParseErr)
	return recs, lines, err, parseErrCalls
}

func TestStreamJSONRows_RootArray_StreamsObjectsAndTrailingJSONL(t *testing.T) {
	// Each object element is one record, null elements are skipped, and
	// objects after the closing ']' are decoded as further records.
	input := `[
		{"a": 1, "b": ["x", "y"]},
		null,
		{"a": 2, "b": []}
	]
	{"a": 3, "b": ["z"]}`

	recs, lines, err, parseCalls := runStream(context.Background(), input, config.Options{"array_join_separator": ","})
	if err != nil {
		t.Fatalf("StreamJSONRows() err=%v, want nil", err)
	}
	if len(parseCalls) != 0 {
		t.Fatalf("onParseErr calls=%v, want none", parseCalls)
	}
	if !reflect.DeepEqual(lines, []int{1, 2, 3}) {
		t.Fatalf("lines=%v, want [1 2 3]", lines)
	}

	wantB := []string{"x,y", "", "z"}
	for i, rec := range recs {
		if got := mustJSONNumberString(t, rec.Values["a"]); got != fmt.Sprint(i+1) {
			t.Fatalf("recs[%d].a=%q, want %d", i, got, i+1)
		}
		if got := rec.Values["b"]; got != wantB[i] {
			t.Fatalf("recs[%d].b=%#v, want %q", i, got, wantB[i])
		}
	}
}

func TestStreamJSONRows_RootObject_EnvelopeStreamsFirstArrayField(t *testing.T) {
	input := `{
		"meta": {"ignore": [1,2,3]},
		"records": [{"x": 1}, {"x": 2}],
		"other": {"deep": [{"k": "v"}], "n": 10}
	}
	{"x": 3}`

	recs, lines, err, parseCalls := runStream(context.Background(), input, nil)
	if err != nil {
		t.Fatalf("StreamJSONRows() err=%v, want nil", err)
	}
	if len(parseCalls) != 0 {
		t.Fatalf("onParseErr calls=%v, want none", parseCalls)
	}
	if len(recs) != 3 || !reflect.DeepEqual(lines, []int{1, 2, 3}) {
		t.Fatalf("recs=%d lines=%v, want 3 records", len(recs), lines)
	}
	for i, rec := range recs {
		if !reflect.DeepEqual(rec.Keys, []string{"x"}) {
			t.Fatalf("recs[%d].Keys=%v, want [x]", i, rec.Keys)
		}
	}
}

func TestStreamJSONRows_NamedEnvelope(t *testing.T) {
	// The search API puts an unrelated array before "products".
	input := `{"count": 2, "tags": [{"t": 1}], "products": [{"code": "1"}, {"code": "2"}], "page": 1}`
	recs, _, err, _ := runStream(context.Background(), input, config.Options{"envelope": "products"})
	if err != nil {
		t.Fatalf("StreamJSONRows() err=%v", err)
	}
	if len(recs) != 2 || recs[1].Values["code"] != "2" {
		t.Fatalf("recs=%+v, want the two products", recs)
	}

	// No products field: nothing, not the envelope itself.
	recs, _, err, _ = runStream(context.Background(), `{"count": 0, "page": 3}`, config.Options{"envelope": "products"})
	if err != nil || len(recs) != 0 {
		t.Fatalf("recs=%v err=%v, want none", recs, err)
	}
}

func TestStreamJSONRows_SingleObjectFlattensInOrder(t *testing.T) {
	// With envelope "none" arrays inside the object are values, not records.
	input := `{
		"nummer": 1,
		"namn": "Nötkött",
		"livsmedelsgrupp": {"namn": "Kött", "kod": {"id": 7}},
		"klassificeringar": ["a", "b"],
		"naringsvarden": [{"namn": "Protein", "varde": 20.5}],
		"tom": {},
		"flag": true,
		"saknas": null
	}`

	recs, _, err, parseCalls := runStream(context.Background(), input, config.Options{"envelope": "none"})
	if err != nil || len(parseCalls) != 0 {
		t.Fatalf("err=%v parseCalls=%v", err, parseCalls)
	}
	if len(recs) != 1 {
		t.Fatalf("recs=%d, want 1", len(recs))
	}
	rec := recs[0]
	wantKeys := []string{
		"nummer", "namn", "livsmedelsgrupp.namn", "livsmedelsgrupp.kod.id",
		"klassificeringar", "naringsvarden", "flag", "saknas",
	}
	if !reflect.DeepEqual(rec.Keys, wantKeys) {
		t.Fatalf("Keys=%v, want %v", rec.Keys, wantKeys)
	}
	if got := mustJSONNumberString(t, rec.Values["livsmedelsgrupp.kod.id"]); got != "7" {
		t.Fatalf("livsmedelsgrupp.kod.id=%q", got)
	}
	if got := rec.Values["klassificeringar"]; got != "a,b" {
		t.Fatalf("klassificeringar=%#v, want a,b", got)
	}
	if got := rec.Values["naringsvarden"]; got != `[{"namn":"Protein","varde":20.5}]` {
		t.Fatalf("naringsvarden=%#v", got)
	}
	if rec.Values["flag"] != true || rec.Values["saknas"] != nil {
		t.Fatalf("flag=%#v saknas=%#v", rec.Values["flag"], rec.Values["saknas"])
	}
}

func TestStreamJSONRows_MaxLevelKeepsDeepObjectsAsText(t *testing.T) {
	input := `{"code":"1","nutriments":{"fat_100g":2,"extra":{"b":1,"a":2}}}`
	recs, _, err, _ := runStream(context.Background(), input, config.Options{"envelope": "none", "max_level": 1})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	want := []string{"code", "nutriments.fat_100g", "nutriments.extra"}
	if !reflect.DeepEqual(recs[0].Keys, want) {
		t.Fatalf("Keys=%v, want %v", recs[0].Keys, want)
	}
	if got := recs[0].Values["nutriments.extra"]; got != `{"a":2,"b":1}` {
		t.Fatalf("nutriments.extra=%#v", got)
	}
}

func TestStreamJSONRows_HeaderMap(t *testing.T) {
	input := `{"OrigName": "v", "nested": {"k": 1}}`
	opts := config.Options{
		"envelope":   "none",
		"header_map": map[string]any{"OrigName": "norm_name", "nested.k": "k"},
	}
	recs, _, err, _ := runStream(context.Background(), input, opts)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !reflect.DeepEqual(recs[0].Keys, []string{"norm_name", "k"}) || recs[0].Values["norm_name"] != "v" {
		t.Fatalf("rec=%+v", recs[0])
	}
}

func TestStreamJSONRows_ContextCanceled_ReturnsContextErrorAndEmitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	recs, _, err, parseCalls := runStream(ctx, `[{"a": 1}]`, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if len(recs) != 0 || len(parseCalls) != 0 {
		t.Fatalf("recs=%v parseCalls=%v, want none", recs, parseCalls)
	}
}

func TestStreamJSONRows_ErrorPaths_UnsupportedRootsAndElementTypes(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		wantErrSubstr   string
		wantParseErrAny bool
		wantParseLine   string
	}{
		{
			name:          "unsupported_root_token_null",
			input:         `null`,
			wantErrSubstr: "unsupported root token",
		},
		{
			name:            "unsupported_root_delimiter",
			input:           `(`,
			wantErrSubstr:   "read first token",
			wantParseErrAny: true,
			wantParseLine:   "line=0",
		},
		{
			name:            "array_element_not_object_calls_onParseErr",
			input:           `[1]`,
			wantErrSubstr:   "array element not an object",
			wantParseErrAny: true,
			wantParseLine:   "line=1",
		},
		{
			name:            "envelope_array_element_not_object_calls_onParseErr",
			input:           `{"records":[1]}`,
			wantErrSubstr:   "array element not an object",
			wantParseErrAny: true,
			wantParseLine:   "line=1",
		},
		{
			name:            "trailing_object_decode_error_calls_onParseErr",
			input:           `{"x":1} not-json`,
			wantErrSubstr:   "decode trailing object",
			wantParseErrAny: true,
			// First object emits line 1; trailing decode error uses line+1 => 2.
			wantParseLine: "line=2",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err, parseCalls := runStream(context.Background(), tc.input, nil)

			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErrSubstr) {
				t.Fatalf("err=%q, want substring %q", err.Error(), tc.wantErrSubstr)
			}

			if tc.wantParseErrAny {
				if len(parseCalls) == 0 {
					t.Fatalf("expected onParseErr calls, got none")
				}
				if tc.wantParseLine != "" && !strings.Contains(parseCalls[0], tc.wantParseLine) {
					t.Fatalf("onParseErr[0]=%q, want substring %q (all=%v)", parseCalls[0], tc.wantParseLine, parseCalls)
				}
			} else if len(parseCalls) != 0 {
				t.Fatalf("unexpected onParseErr calls: %v", parseCalls)
			}
		})
	}
}

func TestReadTable_UnionOfKeysInFirstSeenOrder(t *testing.T) {
	input := "{\"a\":1,\"b\":{\"c\":\"x\"}}\n{\"d\":true,\"a\":2}\n"
	tbl, err := ReadTable(context.Background(), strings.NewReader(input), nil, nil)
	if err != nil {
		t.Fatalf("ReadTable() err=%v", err)
	}
	if want := []string{"a", "b.c", "d"}; !reflect.DeepEqual(tbl.Columns, want) {
		t.Fatalf("Columns=%v, want %v", tbl.Columns, want)
	}
	if tbl.Len() != 2 || tbl.Rows[0][2] != nil || tbl.Rows[1][1] != nil || tbl.Rows[1][2] != true {
		t.Fatalf("Rows=%v", tbl.Rows)
	}
}

func TestJoinArray(t *testing.T) {
	tests := []struct {
		name string
		in   []any
		sep  string
		want string
	}{
		{name: "strings_joined", in: []any{"a", "b"}, sep: "|", want: "a|b"},
		{name: "empty", in: []any{}, sep: ",", want: ""},
		{name: "all_nil", in: []any{nil, nil}, sep: ",", want: ""},
		{name: "mixed_kept_as_json", in: []any{"a", json.Number("1")}, sep: ",", want: `["a",1]`},
		{name: "objects_kept_as_json", in: []any{map[string]any{"k": "v"}}, sep: ",", want: `[{"k":"v"}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := joinArray(tc.in, tc.sep)
			if err != nil || got != tc.want {
				t.Fatalf("joinArray(%#v,%q)=%q,%v want %q", tc.in, tc.sep, got, err, tc.want)
			}
		})
	}
}

// mustJSONNumberString extracts the string form of a json.Number. Numbers are
// json.Number because the parser sets decoder.UseNumber().
func mustJSONNumberString(t *testing.T, v any) string {
	t.Helper()
	n, ok := v.(json.Number)
	if !ok {
		t.Fatalf("value type=%T, want json.Number", v)
	}
	return n.String()
}

func BenchmarkStreamJSONRows_RootArray(b *testing.B) {
	input := `[{"a":1,"b":["x","y"],"n":{"c":2}},{"a":2,"b":["z"]},{"a":3,"b":[]}]`
	opts := config.Options{"array_join_separator": ","}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		err := StreamJSONRows(context.Background(), strings.NewReader(input), opts,
			func(int, *Record) error { return nil }, nil)
		if err != nil {
			b.Fatalf("StreamJSONRows() err=%v", err)
		}
	}
}
