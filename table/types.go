package table

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type ColumnType int

const (
	TypeInvalid ColumnType = iota
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeTimestamp
)

var (
	// MinTimestamp is the smallest representable timestamp (micros = MinInt64)
	MinTimestamp = time.UnixMicro(math.MinInt64).UTC()

	ErrTypeMismatch = errors.New("type mismatch")
)

var typeNames = map[ColumnType]string{
	TypeBool:      "bool",
	TypeInt8:      "int8",
	TypeInt16:     "int16",
	TypeInt32:     "int32",
	TypeInt64:     "int64",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeTimestamp: "timestamp",
}

func (t ColumnType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return "invalid"
}

func (t ColumnType) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func ParseColumnType(s string) (ColumnType, error) {
	s = strings.ToLower(s)
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	switch s {
	case "unixtime_micros":
		return TypeTimestamp, nil
	case "boolean":
		return TypeBool, nil
	case "float32":
		return TypeFloat, nil
	case "float64":
		return TypeDouble, nil
	}
	return TypeInvalid, fmt.Errorf("unknown column type %q", s)
}

func (t ColumnType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *ColumnType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseColumnType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TypeOf reports the column type that stores v natively.
func TypeOf(v any) (ColumnType, bool) {
	switch v.(type) {
	case bool:
		return TypeBool, true
	case int8:
		return TypeInt8, true
	case int16:
		return TypeInt16, true
	case int32:
		return TypeInt32, true
	case int64:
		return TypeInt64, true
	case float32:
		return TypeFloat, true
	case float64:
		return TypeDouble, true
	case string:
		return TypeString, true
	case []byte:
		return TypeBinary, true
	case time.Time:
		return TypeTimestamp, true
	}
	return TypeInvalid, false
}

// Accepts reports whether v is already of the Go type backing t. nil is
// accepted; nullability is checked separately.
func (t ColumnType) Accepts(v any) bool {
	if v == nil {
		return true
	}
	vt, ok := TypeOf(v)
	return ok && vt == t
}

// Coerce converts loosely typed input (JSON numbers, strings, other integer
// widths) into the Go type backing t.
func Coerce(v any, t ColumnType) (any, error) {
	if v == nil || t.Accepts(v) {
		return v, nil
	}
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			v = i
		} else if f, err := n.Float64(); err == nil {
			v = f
		}
	}
	switch t {
	case TypeBool:
		if s, ok := v.(string); ok {
			switch strings.ToLower(s) {
			case "true", "1":
				return true, nil
			case "false", "0":
				return false, nil
			}
		}
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		i, ok := toInt64(v)
		if !ok {
			break
		}
		return intOfType(i, t)
	case TypeFloat:
		if f, ok := toFloat64(v); ok {
			return float32(f), nil
		}
	case TypeDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case TypeString:
		if b, ok := v.([]byte); ok {
			return string(b), nil
		}
	case TypeBinary:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	case TypeTimestamp:
		switch x := v.(type) {
		case string:
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("error in time.Parse: %w", err)
			}
			return ts.UTC(), nil
		default:
			// numbers are unix micros
			if i, ok := toInt64(v); ok {
				return time.UnixMicro(i).UTC(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, v, t)
}

func intOfType(i int64, t ColumnType) (any, error) {
	switch t {
	case TypeInt8:
		if i < math.MinInt8 || i > math.MaxInt8 {
			return nil, fmt.Errorf("%w: %d overflows int8", ErrTypeMismatch, i)
		}
		return int8(i), nil
	case TypeInt16:
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d overflows int16", ErrTypeMismatch, i)
		}
		return int16(i), nil
	case TypeInt32:
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows int32", ErrTypeMismatch, i)
		}
		return int32(i), nil
	}
	return i, nil
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// Compare orders two values of the same column. nil sorts first. Values of
// differing types compare by type order so the result is still total.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case int8:
		if y, ok := b.(int8); ok {
			return cmpOrdered(x, y)
		}
	case int16:
		if y, ok := b.(int16); ok {
			return cmpOrdered(x, y)
		}
	case int32:
		if y, ok := b.(int32); ok {
			return cmpOrdered(x, y)
		}
	case int64:
		if y, ok := b.(int64); ok {
			return cmpOrdered(x, y)
		}
	case float32:
		if y, ok := b.(float32); ok {
			return cmpOrdered(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmpOrdered(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	ta, _ := TypeOf(a)
	tb, _ := TypeOf(b)
	if ta != tb {
		return cmpOrdered(ta, tb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int8 | int16 | int32 | int64 | float32 | float64 | ColumnType](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
