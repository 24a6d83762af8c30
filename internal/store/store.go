package store

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/house-scraper/internal/db"
	"github.com/sells-group/house-scraper/internal/model"
)

// Table is the single table holding one row per property URL.
const Table = "properties"

// Filter specifies criteria for listing properties.
type Filter struct {
	// Status restricts the listing to one review tag when non-nil.
	Status *model.ReviewStatus `json:"status,omitempty"`
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for scraped properties.
type Store interface {
	// Migrate creates the table and adds columns for fields missing from it.
	Migrate(ctx context.Context, schema *model.Schema) error

	// Upsert inserts a new row or merges the present fields into the
	// existing row for rec.URL. Absent fields are left untouched.
	Upsert(ctx context.Context, rec *model.Record) (model.UpsertResult, error)
	// GetByURL returns nil, nil when the URL is not stored.
	GetByURL(ctx context.Context, url string) (*model.Record, error)
	Count(ctx context.Context) (int, error)
	// UpdateStatus reports false when the URL is not stored.
	UpdateStatus(ctx context.Context, url string, status model.ReviewStatus) (bool, error)
	List(ctx context.Context, filter Filter) ([]model.Record, error)
	StatusCounts(ctx context.Context) (map[model.ReviewStatus]int, error)

	Close() error
}

type columnKind int

const (
	kindText columnKind = iota
	kindInteger
	kindReal
	kindBoolean
)

var reservedColumns = map[string]bool{"id": true, "url": true, "status": true, "scraped_at": true}

type column struct {
	name string
	kind columnKind
}

func kindOf(f model.Field) columnKind {
	switch f.Type {
	case model.FieldInteger:
		return kindInteger
	case model.FieldReal, model.FieldDerived:
		return kindReal
	case model.FieldBoolean:
		return kindBoolean
	default:
		return kindText
	}
}

// schemaColumns maps schema fields to columns in schema order.
func schemaColumns(schema *model.Schema) ([]column, error) {
	if schema == nil {
		return nil, eris.New("store: nil schema")
	}
	cols := make([]column, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		if reservedColumns[f.Name] {
			return nil, eris.Errorf("store: field %q collides with a reserved column", f.Name)
		}
		if err := db.ValidIdent(f.Name); err != nil {
			return nil, eris.Wrapf(err, "store: field %q", f.Name)
		}
		cols = append(cols, column{name: f.Name, kind: kindOf(f)})
	}
	return cols, nil
}

// presentColumns returns the columns rec carries a key for, explicit nulls
// included, in schema order.
func presentColumns(cols []column, fields model.FieldMap) []column {
	out := make([]column, 0, len(fields))
	for _, c := range cols {
		if fields.Has(c.name) {
			out = append(out, c)
		}
	}
	return out
}

func columnNames(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

// decode converts a scanned driver value back to the FieldMap representation
// of the column's kind. Values that do not fit the kind are returned as is.
func decode(kind columnKind, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch kind {
	case kindBoolean:
		switch n := v.(type) {
		case bool:
			return n
		case int64:
			return n != 0
		case float64:
			return n != 0
		}
	case kindInteger:
		switch n := v.(type) {
		case int64:
			return n
		case int32:
			return int64(n)
		case float64:
			return int64(n)
		}
	case kindReal:
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return v
}

// coerce converts a value for a strictly typed column. ok is false when the
// value cannot be represented, e.g. free text in a numeric column.
func coerce(kind columnKind, v any) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch kind {
	case kindText:
		switch s := v.(type) {
		case string:
			return s, true
		case bool:
			return strconv.FormatBool(s), true
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64), true
		case int64:
			return strconv.FormatInt(s, 10), true
		case int:
			return strconv.Itoa(s), true
		}
	case kindInteger:
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case float64:
			return int64(n), true
		case string:
			i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			return i, err == nil
		}
	case kindReal:
		switch n := v.(type) {
		case float64:
			return n, true
		case int64:
			return float64(n), true
		case int:
			return float64(n), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return f, err == nil
		}
	case kindBoolean:
		switch b := v.(type) {
		case bool:
			return b, true
		case int64:
			return b != 0, true
		case float64:
			return b != 0, true
		case string:
			p, err := strconv.ParseBool(strings.TrimSpace(b))
			return p, err == nil
		}
	}
	return nil, false
}
