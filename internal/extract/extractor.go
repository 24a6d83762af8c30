package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/standardize"
)

// Result is the outcome of a deterministic extraction pass.
type Result struct {
	// Extracted holds every field that matched a pattern.
	Extracted model.FieldMap
	// LLMRequired lists fields the profile marks as llm_required.
	LLMRequired []string
	// Missing lists extractable schema fields that have no value yet.
	Missing []string
}

var negativeTokens = map[string]bool{"0": true, "no": true, "false": true, "none": true}

// PatternExtractor applies site profiles to scraped pages.
type PatternExtractor struct {
	schema   *model.Schema
	profiles *Profiles
}

// NewPatternExtractor creates an extractor. A nil profiles value is valid
// and makes every field missing.
func NewPatternExtractor(schema *model.Schema, profiles *Profiles) *PatternExtractor {
	return &PatternExtractor{schema: schema, profiles: profiles}
}

// Extract resolves the fields the profile for url's domain can find in html
// and text. A field with no match is reported missing, never null.
func (e *PatternExtractor) Extract(url, html, text string) Result {
	res := Result{Extracted: model.FieldMap{}}

	cp := e.profiles.get(url)
	if cp == nil {
		zap.L().Warn("extract: no site profile", zap.String("url", url))
		res.Missing = e.missing(res.Extracted)
		return res
	}

	log := zap.L().With(zap.String("url", url), zap.String("profile", cp.name))

	var doc *goquery.Document
	for _, r := range cp.rules {
		var raw string
		var ok bool
		switch r.kind {
		case PatternLLMRequired:
			res.LLMRequired = append(res.LLMRequired, r.field)
			continue
		case PatternCSS:
			if doc == nil {
				d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
				if err != nil {
					log.Warn("extract: parse html", zap.Error(err))
					continue
				}
				doc = d
			}
			raw, ok = matchCSS(doc, r)
		case PatternRegex:
			content := text
			if r.searchHTML {
				content = html
			}
			raw, ok = matchRegex(r, content)
		}
		if !ok {
			log.Debug("extract: no match", zap.String("field", r.field))
			continue
		}
		v := e.postProcess(r.field, raw)
		res.Extracted[r.field] = v
		log.Debug("extract: matched", zap.String("field", r.field), zap.Any("value", v))
	}

	res.Missing = e.missing(res.Extracted)
	return res
}

func matchCSS(doc *goquery.Document, r rule) (string, bool) {
	sel := doc.Find(r.selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	txt := strings.TrimSpace(sel.Text())
	if r.re != nil {
		return matchRegex(r, txt)
	}
	if txt == "" {
		return "", false
	}
	return applyTransform(r, txt), true
}

func matchRegex(r rule, content string) (string, bool) {
	m := r.re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	v := m[0]
	if len(m) > 1 {
		v = m[1]
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	return applyTransform(r, v), true
}

func applyTransform(r rule, v string) string {
	if to, ok := r.transform[v]; ok {
		return to
	}
	return v
}

// postProcess converts matched text by the field's declared type. Numeric
// text that cannot be parsed stays a string for the standardizer to judge.
func (e *PatternExtractor) postProcess(field, raw string) any {
	f := e.schema.ByName(field)
	if f == nil {
		return raw
	}
	switch f.Type {
	case model.FieldInteger:
		if n, ok := standardize.ParseNumber(raw); ok {
			return int64(n)
		}
	case model.FieldReal:
		if n, ok := standardize.ParseNumber(raw); ok {
			return n
		}
	case model.FieldBoolean:
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return n != 0
		}
		return !negativeTokens[strings.ToLower(strings.TrimSpace(raw))]
	}
	return raw
}

func (e *PatternExtractor) missing(found model.FieldMap) []string {
	var out []string
	for _, name := range e.schema.Extractable() {
		if !found.Has(name) {
			out = append(out, name)
		}
	}
	return out
}
