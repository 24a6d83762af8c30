// Package standardize coerces raw extracted values into the canonical type and
// locale conventions of each schema field.
package standardize

import (
	"fmt"
	"reflect"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/house-scraper/internal/model"
)

// Options toggles standardization. Fields maps a field name to whether its
// rule runs; fields absent from the map are enabled.
type Options struct {
	Enabled bool
	Fields  map[string]bool
}

// FieldError reports a rule that failed for one field. The raw value is
// kept for that field.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("standardize %s (%v): %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

type boundRule struct {
	field *model.Field
	apply ruleFunc
}

// Standardizer applies the per-field rule table resolved from a schema.
type Standardizer struct {
	enabled bool
	rules   map[string]boundRule
}

// New resolves the rule for every schema field once.
func New(schema *model.Schema, opts Options) *Standardizer {
	s := &Standardizer{
		enabled: opts.Enabled,
		rules:   make(map[string]boundRule, len(schema.Fields)),
	}
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if on, ok := opts.Fields[f.Name]; ok && !on {
			continue
		}
		fn, ok := ruleTable[f.Rule]
		if !ok {
			continue
		}
		s.rules[f.Name] = boundRule{field: f, apply: fn}
	}
	return s
}

// Field standardizes one value. Fields without an active rule pass through.
// Panics inside a rule are returned as a *FieldError.
func (s *Standardizer) Field(name string, raw any) (out any, err error) {
	if !s.enabled || raw == nil {
		return raw, nil
	}
	rule, ok := s.rules[name]
	if !ok {
		return raw, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = raw
			err = &FieldError{Field: name, Value: raw, Err: eris.Errorf("panic: %v", r)}
		}
	}()

	in := raw
	if str, ok := raw.(string); ok {
		in = norm.NFC.String(str)
	}
	v, ferr := rule.apply(rule.field, in)
	if ferr != nil {
		return raw, &FieldError{Field: name, Value: raw, Err: ferr}
	}
	return v, nil
}

// Record standardizes every field of m and returns a new map. Keys outside
// the schema are copied unchanged. A field whose rule fails keeps its raw
// value; an unexpected failure of the whole pass returns m unchanged.
func (s *Standardizer) Record(m model.FieldMap) (result model.FieldMap) {
	if !s.enabled {
		return m
	}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("standardize: record failed, keeping raw values",
				zap.Any("panic", r),
			)
			result = m
		}
	}()

	out := make(model.FieldMap, len(m))
	for k, raw := range m {
		v, err := s.Field(k, raw)
		if err != nil {
			zap.L().Warn("standardize: field failed, keeping raw value",
				zap.String("field", k),
				zap.Any("value", raw),
				zap.Error(err),
			)
		} else if !reflect.DeepEqual(raw, v) {
			zap.L().Debug("standardize: field changed",
				zap.String("field", k),
				zap.Any("from", raw),
				zap.Any("to", v),
			)
		}
		out[k] = v
	}
	return out
}
