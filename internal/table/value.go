package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// IsNull reports whether v is a missing value: nil or a float NaN.
func IsNull(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	default:
		return false
	}
}

// Float coerces a numeric cell to float64. Numeric strings are accepted
// since delimited inputs are not always typed at read time; "NaN" and "Inf"
// strings are not.
func Float(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text renders a scalar cell as a string. nil renders as "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(v)
	}
}

// Key returns a canonical, type-tagged encoding of vals usable as a hash key.
//
// Numbers of any Go type encode identically when equal as float64, so an
// int64 1 and a float64 1.0 land in the same group. Strings are not coerced:
// "1" and 1 are different keys.
func Key(vals ...any) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		appendKey(&b, v)
	}
	return b.String()
}

func appendKey(b *strings.Builder, v any) {
	if IsNull(v) {
		b.WriteString("n:")
		return
	}
	switch t := v.(type) {
	case string:
		b.WriteString("s:")
		b.WriteString(t)
	case []byte:
		b.WriteString("s:")
		b.Write(t)
	case bool:
		if t {
			b.WriteString("b:true")
		} else {
			b.WriteString("b:false")
		}
	case time.Time:
		b.WriteString("t:")
		b.WriteString(t.UTC().Format(time.RFC3339Nano))
	case []any:
		b.WriteString("l:[")
		for i, e := range t {
			if i > 0 {
				b.WriteByte('\x1e')
			}
			appendKey(b, e)
		}
		b.WriteByte(']')
	case Record:
		b.WriteString("r:{")
		for i, f := range t {
			if i > 0 {
				b.WriteByte('\x1e')
			}
			b.WriteString(f.Name)
			b.WriteByte('=')
			appendKey(b, f.Value)
		}
		b.WriteByte('}')
	default:
		if f, ok := numeric(v); ok {
			b.WriteString("f:")
			b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
			return
		}
		b.WriteString("x:")
		b.WriteString(fmt.Sprintf("%v", t))
	}
}

// numeric is Float without string parsing.
func numeric(v any) (float64, bool) {
	if _, isString := v.(string); isString {
		return 0, false
	}
	return Float(v)
}

// Compare orders two cells: nulls last, then booleans, numbers, strings and
// anything else by canonical key. Numbers compare numerically.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, _ := numeric(a)
		fb, _ := numeric(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case rankString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(Key(a), Key(b))
	}
}

const (
	rankBool = iota
	rankNumber
	rankString
	rankOther
	rankNull
)

func rank(v any) int {
	if IsNull(v) {
		return rankNull
	}
	switch v.(type) {
	case bool:
		return rankBool
	case string:
		return rankString
	}
	if _, ok := numeric(v); ok {
		return rankNumber
	}
	return rankOther
}

// CompareKeys compares two key tuples element by element.
func CompareKeys(a, b []any) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}
