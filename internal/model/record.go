package model

import (
	"strings"
	"time"
)

// FieldMap maps field names to untyped values (string, float64, int64, bool or
// nil for an explicit null).
type FieldMap map[string]any

// Clone returns a shallow copy of m.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Has reports whether key is present, including explicit nulls.
func (m FieldMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// ReviewStatus is the human-assigned ledger tag for a property.
type ReviewStatus string

const (
	StatusUnreviewed ReviewStatus = ""
	StatusYes        ReviewStatus = "YES"
	StatusNo         ReviewStatus = "NO"
	StatusMaybe      ReviewStatus = "MAYBE"
)

// ParseReviewStatus normalizes a ledger tag. Unknown tags are kept verbatim
// (uppercased) so hand edits are not lost.
func ParseReviewStatus(s string) ReviewStatus {
	return ReviewStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// Record is a canonical property: one row per source URL.
type Record struct {
	URL       string       `json:"url"`
	Fields    FieldMap     `json:"fields"`
	Status    ReviewStatus `json:"status"`
	ScrapedAt time.Time    `json:"scraped_at"`
}

// UpsertResult reports whether an upsert created or modified a row.
type UpsertResult string

const (
	Inserted UpsertResult = "inserted"
	Updated  UpsertResult = "updated"
)
