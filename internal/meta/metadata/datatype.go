package metadata

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidValue is returned when a value cannot be converted to a data type.
var ErrInvalidValue = errors.New("invalid value")

// DataType is the semantic type of a field or attribute value.
type DataType int

const (
	TypeUnknown DataType = iota
	String
	Int
	Long
	Short
	Byte
	Float
	Double
	Boolean
	Date
	Object
	StringArray
	Properties
)

var dataTypeNames = map[DataType]string{
	TypeUnknown: "unknown",
	String:      "string",
	Int:         "int",
	Long:        "long",
	Short:       "short",
	Byte:        "byte",
	Float:       "float",
	Double:      "double",
	Boolean:     "boolean",
	Date:        "date",
	Object:      "object",
	StringArray: "stringArray",
	Properties:  "properties",
}

func (d DataType) String() string {
	if s, ok := dataTypeNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DataType(%d)", int(d))
}

// IsNumeric reports whether values of the type are numbers.
func (d DataType) IsNumeric() bool {
	switch d {
	case Int, Long, Short, Byte, Float, Double:
		return true
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Coerce converts v to the canonical Go type of the data type:
// string, int32, int64, int16, int8, float32, float64, bool, time.Time,
// []string or map[string]string. Object values pass through. nil stays nil.
func (d DataType) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok && d != Object {
		v = string(b)
	}

	switch d {
	case String:
		switch x := v.(type) {
		case string:
			return x, nil
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		case fmt.Stringer:
			return x.String(), nil
		}
		if _, ok := toInt64(v); ok {
			return fmt.Sprint(v), nil
		}
		if _, ok := toFloat64(v); ok {
			return fmt.Sprint(v), nil
		}
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b), nil
		}

	case Int:
		n, err := d.integer(v, math.MinInt32, math.MaxInt32)
		if err != nil {
			return nil, err
		}
		return int32(n), nil

	case Long:
		n, err := d.integer(v, math.MinInt64, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		return n, nil

	case Short:
		n, err := d.integer(v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return nil, err
		}
		return int16(n), nil

	case Byte:
		n, err := d.integer(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return nil, err
		}
		return int8(n), nil

	case Float:
		f, err := d.float(v)
		if err != nil {
			return nil, err
		}
		return float32(f), nil

	case Double:
		return d.float(v)

	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: cannot parse %q as boolean", ErrInvalidValue, x)
			}
			return b, nil
		}
		if n, ok := toInt64(v); ok {
			return n != 0, nil
		}

	case Date:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
					return t, nil
				}
			}
			return nil, fmt.Errorf("%w: cannot parse %q as date", ErrInvalidValue, x)
		}
		if n, ok := toInt64(v); ok {
			return time.UnixMilli(n).UTC(), nil
		}

	case StringArray:
		switch x := v.(type) {
		case []string:
			return append([]string(nil), x...), nil
		case []any:
			out := make([]string, len(x))
			for i, e := range x {
				out[i] = fmt.Sprint(e)
			}
			return out, nil
		case string:
			if x == "" {
				return []string{}, nil
			}
			parts := strings.Split(x, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return parts, nil
		}

	case Properties:
		switch x := v.(type) {
		case map[string]string:
			out := make(map[string]string, len(x))
			for k, e := range x {
				out[k] = e
			}
			return out, nil
		case map[string]any:
			out := make(map[string]string, len(x))
			for k, e := range x {
				out[k] = fmt.Sprint(e)
			}
			return out, nil
		}

	case Object, TypeUnknown:
		return v, nil
	}

	return nil, fmt.Errorf("%w: cannot convert %T to %s", ErrInvalidValue, v, d)
}

func (d DataType) integer(v any, lo, hi int64) (int64, error) {
	var n int64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot parse %q as %s", ErrInvalidValue, x, d)
		}
		n = parsed
	case bool:
		if x {
			n = 1
		}
	default:
		if i, ok := toInt64(v); ok {
			n = i
		} else if f, ok := toFloat64(v); ok && f == math.Trunc(f) {
			n = int64(f)
		} else {
			return 0, fmt.Errorf("%w: cannot convert %T to %s", ErrInvalidValue, v, d)
		}
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%w: %d out of range for %s", ErrInvalidValue, n, d)
	}
	return n, nil
}

func (d DataType) float(v any) (float64, error) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot parse %q as %s", ErrInvalidValue, s, d)
		}
		return f, nil
	}
	if f, ok := toFloat64(v); ok {
		return f, nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i), nil
	}
	return 0, fmt.Errorf("%w: cannot convert %T to %s", ErrInvalidValue, v, d)
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
