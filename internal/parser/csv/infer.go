package csv

import (
	"strconv"
	"strings"
)

type kind int

const (
	kindText kind = iota
	kindInt
	kindFloat
	kindBool
)

// inferKind picks the most specific type every non-empty cell parses as.
// A column with no values stays text.
func inferKind(col []string) kind {
	seen := false
	allInt, allFloat, allBool := true, true, true
	for _, v := range col {
		if v == "" {
			continue
		}
		seen = true
		if allInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
		}
		if allFloat {
			if _, ok := parseFloat(v); !ok {
				allFloat = false
			}
		}
		if allBool {
			if _, ok := parseBool(v); !ok {
				allBool = false
			}
		}
		if !allInt && !allFloat && !allBool {
			return kindText
		}
	}
	switch {
	case !seen:
		return kindText
	case allInt:
		return kindInt
	case allFloat:
		return kindFloat
	case allBool:
		return kindBool
	default:
		return kindText
	}
}

func convertColumn(col []string, k kind) []any {
	out := make([]any, len(col))
	for i, v := range col {
		if v == "" {
			continue
		}
		switch k {
		case kindInt:
			n, _ := strconv.ParseInt(v, 10, 64)
			out[i] = n
		case kindFloat:
			f, _ := parseFloat(v)
			out[i] = f
		case kindBool:
			b, _ := parseBool(v)
			out[i] = b
		default:
			out[i] = v
		}
	}
	return out
}

// parseFloat accepts decimal and exponent forms plus the NaN/inf spellings
// written by dataframe tools. Hex and underscore forms are rejected.
func parseFloat(s string) (float64, bool) {
	switch strings.ToLower(s) {
	case "nan":
		return 0, false
	case "inf", "+inf", "infinity":
		f, _ := strconv.ParseFloat("+Inf", 64)
		return f, true
	case "-inf", "-infinity":
		f, _ := strconv.ParseFloat("-Inf", 64)
		return f, true
	}
	if strings.ContainsAny(s, "xX_pP") {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseBool only takes true/false in any case. Y/N and 0/1 stay as they are.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}
