package keel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/keel/schema"
)

// Value normalization. Two representations of the same logical value
// must compare equal regardless of how the driver or the caller spelled
// them: a time.Time and its string form for date columns, differently
// ordered JSON documents, a slice and its delimiter-joined form, and so
// on. normalizeValue reduces a value to a canonical comparable form;
// storageValue produces the driver-facing representation.

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// datetimeLayouts are the accepted spellings of a timestamp, tried in
// order. Drivers differ in how they return timestamps, so both the
// entity side and the stored side are re-normalized through these.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	dateLayout,
}

// equalValue reports whether two representations of a column value are
// equal after normalization.
func equalValue(c *schema.Column, a, b any) bool {
	return normalizeValue(c, a) == normalizeValue(c, b)
}

// normalizeValue returns a canonical comparable form of the value:
// nil for null, a string for everything else.
func normalizeValue(c *schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch c.Type {
	case schema.TypeDate:
		return normalizeDate(v)
	case schema.TypeTimeOfDay:
		return normalizeTimeOfDay(v)
	case schema.TypeDateTime:
		return normalizeDateTime(v)
	case schema.TypeJSON:
		return canonicalJSON(v)
	case schema.TypeArray:
		return joinArray(c, v)
	case schema.TypeBool:
		return strconv.FormatBool(truthy(v))
	case schema.TypeInt:
		if n, ok := toInt64(v); ok {
			return strconv.FormatInt(n, 10)
		}
		return fmt.Sprintf("%v", v)
	case schema.TypeFloat:
		if f, ok := toFloat64(v); ok {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	default:
		return stringOf(v)
	}
}

// storageValue converts an entity-side value into the value handed to
// the driver for the given column.
func storageValue(c *schema.Column, v any) any {
	if v == nil {
		return nil
	}
	switch c.Type {
	case schema.TypeDate:
		return normalizeDate(v)
	case schema.TypeTimeOfDay:
		return normalizeTimeOfDay(v)
	case schema.TypeDateTime:
		if t, ok := toTime(v); ok {
			return t.UTC()
		}
		return v
	case schema.TypeJSON:
		return canonicalJSON(v)
	case schema.TypeArray:
		return joinArray(c, v)
	case schema.TypeBool:
		return truthy(v)
	default:
		return v
	}
}

func normalizeDate(v any) string {
	if t, ok := toTime(v); ok {
		return t.Format(dateLayout)
	}
	s := stringOf(v)
	if len(s) >= len(dateLayout) {
		if _, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return s[:len(dateLayout)]
		}
	}
	return s
}

func normalizeTimeOfDay(v any) string {
	if t, ok := toTime(v); ok {
		return t.Format(timeLayout)
	}
	s := stringOf(v)
	// Strip fractional seconds: "13:37:00.000" and "13:37:00" are the
	// same time of day.
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	if len(s) == len("15:04") {
		s += ":00"
	}
	return s
}

func normalizeDateTime(v any) string {
	if t, ok := toTime(v); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return stringOf(v)
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case []byte:
		return toTime(string(t))
	}
	return time.Time{}, false
}

// canonicalJSON returns the canonical serialization of a JSON value.
// encoding/json writes map keys in sorted order, so two documents with
// the same content always serialize identically.
func canonicalJSON(v any) string {
	switch s := v.(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return s
		}
		v = decoded
	case []byte:
		return canonicalJSON(string(s))
	case json.RawMessage:
		return canonicalJSON(string(s))
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// joinArray returns the canonical delimiter-joined form of an array value.
func joinArray(c *schema.Column, v any) string {
	delim := c.Delimiter
	if delim == "" {
		delim = ","
	}
	switch vs := v.(type) {
	case string:
		return vs
	case []byte:
		return string(vs)
	case []string:
		return strings.Join(vs, delim)
	case []any:
		parts := make([]string, len(vs))
		for i, e := range vs {
			parts[i] = stringOf(e)
		}
		return strings.Join(parts, delim)
	default:
		return stringOf(v)
	}
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1" || b == "t"
	case []byte:
		return truthy(string(b))
	default:
		if n, ok := toInt64(v); ok {
			return n != 0
		}
		return false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	case string:
		parsed, err := strconv.ParseFloat(f, 64)
		return parsed, err == nil
	case []byte:
		return toFloat64(string(f))
	default:
		if n, ok := toInt64(v); ok {
			return float64(n), true
		}
	}
	return 0, false
}

func stringOf(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
