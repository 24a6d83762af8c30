package standardize

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/house-scraper/internal/model"
)

// ruleFunc coerces a raw value for one field. A nil result with a nil error
// is an explicit null.
type ruleFunc func(f *model.Field, v any) (any, error)

var ruleTable = map[model.Rule]ruleFunc{
	model.RuleNone:    passThrough,
	model.RuleTrim:    trimString,
	model.RuleLower:   lowerString,
	model.RuleUpper:   upperString,
	model.RuleAddress: cleanAddress,
	model.RuleFloor:   normalizeFloor,
	model.RuleAge:     normalizeAge,
	model.RuleNumeric: normalizeNumeric,
	model.RuleInteger: normalizeInteger,
	model.RuleBoolean: normalizeBoolean,
}

var (
	floorNull = map[string]bool{
		"ninguno": true, "no especifica": true, "n/a": true, "null": true, "-": true,
		"piso": true, "ningun": true, "ningún": true, "no": true, "no tiene": true,
	}
	floorGround = map[string]bool{
		"pb": true, "planta baja": true, "p.b.": true, "0": true,
	}
	affirmative = map[string]bool{
		"true": true, "si": true, "sí": true, "yes": true, "1": true, "t": true,
	}
)

var (
	alTokenRe      = regexp.MustCompile(`(?i)\s+al\s+`)
	streetNumberRe = regexp.MustCompile(`^([^,]+?\d+)`)
	trailingPunct  = regexp.MustCompile(`['",.]$`)
	// "0 años" must not match inside "10 años".
	newBuildRe = regexp.MustCompile(`(?i)a estrenar|\bnuev[oa]\b|\bestreno\b|(^|[^\d])0\s*a(ñ|n)os`)
)

func passThrough(_ *model.Field, v any) (any, error) { return v, nil }

func trimString(f *model.Field, v any) (any, error) {
	s, ok := asString(v)
	if !ok {
		return v, nil
	}
	return truncate(strings.TrimSpace(s), f.MaxLength), nil
}

func lowerString(f *model.Field, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return truncate(cases.Lower(language.Spanish).String(strings.TrimSpace(s)), f.MaxLength), nil
}

func upperString(f *model.Field, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	return truncate(cases.Upper(language.Spanish).String(strings.TrimSpace(s)), f.MaxLength), nil
}

// cleanAddress keeps "<street> <number>" and drops unit, neighborhood and
// city suffixes: "3 De Febrero 1208 '09-01, Centro, Rosario" -> "3 De Febrero 1208".
func cleanAddress(f *model.Field, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	addr := strings.TrimSpace(s)
	if addr == "" {
		return addr, nil
	}
	addr = alTokenRe.ReplaceAllString(addr, " ")
	if m := streetNumberRe.FindStringSubmatch(addr); m != nil {
		clean := strings.TrimSpace(m[1])
		clean = strings.TrimSpace(trailingPunct.ReplaceAllString(clean, ""))
		return truncate(clean, f.MaxLength), nil
	}
	return truncate(addr, f.MaxLength), nil
}

func normalizeFloor(f *model.Field, v any) (any, error) {
	s, ok := asString(v)
	if !ok {
		return v, nil
	}
	lower := strings.ToLower(strings.TrimSpace(s))
	if floorNull[lower] {
		return nil, nil
	}
	if floorGround[lower] {
		return "PB", nil
	}
	return truncate(strings.TrimSpace(s), f.MaxLength), nil
}

// normalizeAge resolves building age in years. Ambiguous free text without
// digits becomes null rather than a guess.
func normalizeAge(_ *model.Field, v any) (any, error) {
	if n, ok := toFloat(v); ok {
		return int64(n), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if newBuildRe.MatchString(s) {
		return int64(0), nil
	}
	if n, ok := FirstInt(s); ok {
		return n, nil
	}
	return nil, nil
}

func normalizeNumeric(_ *model.Field, v any) (any, error) {
	if n, ok := toFloat(v); ok {
		return Round2(n), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	n, ok := ParseNumber(s)
	if !ok {
		return nil, nil
	}
	return Round2(n), nil
}

func normalizeInteger(_ *model.Field, v any) (any, error) {
	if n, ok := toFloat(v); ok {
		return int64(n), nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	if n, ok := FirstInt(s); ok {
		return n, nil
	}
	return nil, nil
}

func normalizeBoolean(_ *model.Field, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return affirmative[strings.ToLower(strings.TrimSpace(b))], nil
	}
	if n, ok := toFloat(v); ok {
		return n != 0, nil
	}
	return false, nil
}

// asString accepts strings and renders numbers so string fields such as the
// floor survive an LLM answering 3 instead of "3".
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	}
	return "", false
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
