package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Options is a free-form option bag decoded from JSON config (parser options,
// loader options). Getters never fail: a missing or mistyped key yields the
// supplied default.
type Options map[string]any

// Any returns the raw value stored under key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

// String returns a string option.
func (o Options) String(key, def string) string {
	switch v := o.Any(key).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return def
	}
}

// Bool returns a boolean option. String values "true"/"false" are accepted.
func (o Options) Bool(key string, def bool) bool {
	switch v := o.Any(key).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Int returns an integer option. JSON numbers decode as float64 or
// json.Number depending on the decoder; both are handled.
func (o Options) Int(key string, def int) int {
	switch v := o.Any(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Rune returns the first rune of a string option. Useful for delimiters.
//
// Edge cases:
//   - "\t" written literally as a two-character escape is accepted as a tab.
//   - An empty string yields def.
func (o Options) Rune(key string, def rune) rune {
	s, ok := o.Any(key).(string)
	if !ok || s == "" {
		return def
	}
	if s == `\t` {
		return '\t'
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return def
	}
	return r
}

// StringMap returns a map[string]string option. Values that are not strings
// are skipped.
func (o Options) StringMap(key string) map[string]string {
	out := map[string]string{}
	switch m := o.Any(key).(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// With returns a copy of o with key set to v. The receiver is not modified.
func (o Options) With(key string, v any) Options {
	out := make(Options, len(o)+1)
	for k, val := range o {
		out[k] = val
	}
	out[key] = v
	return out
}
