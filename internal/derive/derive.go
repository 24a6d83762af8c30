// Package derive computes fields that are functions of other resolved fields.
package derive

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/model"
)

// Derivation computes one derived field. A nil value is an explicit null.
type Derivation interface {
	Target() string
	Derive(m model.FieldMap) any
}

// Calculator runs registered derivations in order.
type Calculator struct {
	derivations []Derivation
}

// NewCalculator registers the default derivations for every derived field the
// schema declares.
func NewCalculator(schema *model.Schema) *Calculator {
	c := &Calculator{}
	for _, f := range schema.Fields {
		if f.Type != model.FieldDerived {
			continue
		}
		switch f.Name {
		case DefaultUnitPrice.Target():
			c.Register(DefaultUnitPrice)
		default:
			zap.L().Warn("derive: no derivation registered", zap.String("field", f.Name))
		}
	}
	return c
}

// Register appends d. Later derivations may read earlier results.
func (c *Calculator) Register(d Derivation) {
	c.derivations = append(c.derivations, d)
}

// Compute returns a copy of m with every derived field set.
func (c *Calculator) Compute(m model.FieldMap) model.FieldMap {
	out := m.Clone()
	for _, d := range c.derivations {
		out[d.Target()] = d.Derive(out)
	}
	return out
}

// DefaultUnitPrice is the price per weighted square meter of a listing.
var DefaultUnitPrice = WeightedUnitPrice{
	Price:           "precio",
	Total:           "metros_cuadrados_totales",
	Covered:         "metros_cuadrados_cubiertos",
	Result:          "costo_metro_cuadrado",
	UncoveredWeight: 0.25,
}

// WeightedUnitPrice divides the price by an area where covered space counts
// fully and uncovered space counts at UncoveredWeight.
type WeightedUnitPrice struct {
	Price, Total, Covered string
	// Result is the field the unit price is written to.
	Result          string
	UncoveredWeight float64
}

func (w WeightedUnitPrice) Target() string { return w.Result }

// Derive returns the unit price rounded to 2 decimals, or nil when an input
// is missing or non-positive.
func (w WeightedUnitPrice) Derive(m model.FieldMap) any {
	price, ok1 := number(m[w.Price])
	total, ok2 := number(m[w.Total])
	covered, ok3 := number(m[w.Covered])
	if !ok1 || !ok2 || !ok3 {
		return nil
	}
	if price <= 0 || total <= 0 || covered <= 0 {
		zap.L().Debug("derive: non-positive input",
			zap.String("field", w.Result),
			zap.Float64("price", price),
			zap.Float64("total", total),
			zap.Float64("covered", covered),
		)
		return nil
	}
	if covered > total {
		zap.L().Warn("derive: covered area exceeds total, clamping",
			zap.Float64("covered", covered),
			zap.Float64("total", total),
		)
		covered = total
	}

	weighted := covered + w.UncoveredWeight*(total-covered)
	if weighted <= 0 {
		return nil
	}
	return math.Round(price/weighted*100) / 100
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
