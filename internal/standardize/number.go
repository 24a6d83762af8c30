package standardize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	unitRe          = regexp.MustCompile(`(?i)\$|USD|ARS|EUR|m²|mt2|m2|metros|cuadrados`)
	trailingThreeRe = regexp.MustCompile(`\.\d{3}$`)
	digitRunRe      = regexp.MustCompile(`\d+`)
)

// ParseNumber parses a listing amount written in either Latin American or US
// notation. Currency symbols and area units are stripped first. Separators
// resolve as follows:
//
//	"1.234.567,89" -> 1234567.89  (both present: "." thousands, "," decimal)
//	"120,50"       -> 120.5       (only ",": decimal)
//	"1.234.567"    -> 1234567     (several ".": thousands)
//	"180.000"      -> 180000      (one "." followed by exactly 3 digits: thousands)
//	"72.5"         -> 72.5        (one "." otherwise: decimal)
//
// The single-dot rule is a heuristic: "1.250" is read as 1250 even when the
// author meant one and a quarter.
func ParseNumber(s string) (float64, bool) {
	v := unitRe.ReplaceAllString(s, "")
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}

	hasComma := strings.Contains(v, ",")
	hasDot := strings.Contains(v, ".")
	switch {
	case hasComma && hasDot:
		v = strings.ReplaceAll(v, ".", "")
		v = strings.ReplaceAll(v, ",", ".")
	case hasComma:
		v = strings.ReplaceAll(v, ",", ".")
	case hasDot:
		if strings.Count(v, ".") > 1 || trailingThreeRe.MatchString(v) {
			v = strings.ReplaceAll(v, ".", "")
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// FirstInt returns the first run of digits in s as an integer.
func FirstInt(s string) (int64, bool) {
	m := digitRunRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Round2 rounds f to two decimal places.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// toFloat converts a JSON-decoded or Go numeric value to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
