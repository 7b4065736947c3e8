// Package canonjson encodes JSON deterministically: object keys sorted,
// ASCII-only output, compact separators. Two values that are equal after a
// generic JSON decode always encode to the same bytes, which is what the
// cache key policy and trace canonicalization rely on.
package canonjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"unicode/utf16"
)

// ErrNonFinite reports a NaN or infinite float in the input value.
var ErrNonFinite = errors.New("canonjson: non-finite float")

// Marshal encodes v into canonical JSON bytes. Arbitrary Go values are first
// normalized through encoding/json so structs, maps, and slices all reduce to
// the same generic tree before encoding.
func Marshal(v any) ([]byte, error) {
	tree, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = appendValue(buf, tree)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalString is Marshal returning a string.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Unmarshal decodes JSON text into v using encoding/json semantics.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Decode decodes JSON text into a generic tree (map[string]any, []any,
// string, float64, bool, nil).
func Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// normalize reduces v to the generic JSON tree. Values that already are
// generic pass through without a marshal round trip.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonjson: marshal %T: %w", v, err)
		}
		var tree any
		if err := json.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("canonjson: decode %T: %w", v, err)
		}
		return tree, nil
	}
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case float64:
		return appendNumber(buf, t)
	case string:
		return appendString(buf, t), nil
	case []any:
		buf = append(buf, '[')
		for i, elem := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendValue(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return append(buf, ']'), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, k)
			buf = append(buf, ':')
			var err error
			buf, err = appendValue(buf, t[k])
			if err != nil {
				return nil, err
			}
		}
		return append(buf, '}'), nil
	default:
		return nil, fmt.Errorf("canonjson: unsupported type %T", v)
	}
}

func appendNumber(buf []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, ErrNonFinite
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10), nil
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64), nil
}

// appendString writes s as a quoted JSON string with all non-ASCII runes
// escaped as \uXXXX so output is byte-stable regardless of locale handling.
func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for _, r := range s {
		switch r {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			switch {
			case r < 0x20:
				buf = append(buf, fmt.Sprintf(`\u%04x`, r)...)
			case r < 0x80:
				buf = append(buf, byte(r))
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				buf = append(buf, fmt.Sprintf(`\u%04x\u%04x`, hi, lo)...)
			default:
				buf = append(buf, fmt.Sprintf(`\u%04x`, r)...)
			}
		}
	}
	return append(buf, '"')
}
