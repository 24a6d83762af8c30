// Package pipeline turns fetched listing pages into canonical property
// records and drives a batch of pending URLs through fetch, extraction,
// storage and the review ledger.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/house-scraper/internal/extract"
	"github.com/sells-group/house-scraper/internal/llm"
	"github.com/sells-group/house-scraper/internal/model"
	"github.com/sells-group/house-scraper/internal/standardize"
)

var (
	// ErrMalformedLLMResponse means the completion held no parseable JSON object.
	ErrMalformedLLMResponse = eris.New("malformed llm response")
	// ErrLLMTimeout means the fallback call exceeded its deadline.
	ErrLLMTimeout = eris.New("llm timeout")
)

// ExtractorOptions tune the LLM fallback.
type ExtractorOptions struct {
	// MaxPromptChars caps the page text excerpt sent to the model. Default 10000.
	MaxPromptChars int
	// Timeout bounds one fallback call. Default 120s.
	Timeout time.Duration
}

// Extractor resolves a page into a canonical record. Site profiles run
// first; the LLM is asked only for fields they left unresolved.
type Extractor struct {
	schema   *model.Schema
	patterns *extract.PatternExtractor
	llm      llm.Completer
	std      *standardize.Standardizer
	opts     ExtractorOptions
}

// NewExtractor creates an Extractor. A nil completer disables the fallback.
func NewExtractor(schema *model.Schema, patterns *extract.PatternExtractor, completer llm.Completer, std *standardize.Standardizer, opts ExtractorOptions) *Extractor {
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 10000
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Extractor{
		schema:   schema,
		patterns: patterns,
		llm:      completer,
		std:      std,
		opts:     opts,
	}
}

// Process extracts, merges and standardizes one page. Every extractable
// schema field is present in the result, nil when unresolved. Derived
// fields are left to the caller.
func (e *Extractor) Process(ctx context.Context, page model.Page) (*model.Record, error) {
	log := zap.L().With(zap.String("url", page.URL), zap.String("stage", "extract"))

	res := e.patterns.Extract(page.URL, page.HTML, page.Text)
	log.Debug("pipeline: deterministic extraction",
		zap.Int("extracted", len(res.Extracted)),
		zap.Int("missing", len(res.Missing)),
		zap.Strings("llm_required", res.LLMRequired),
	)

	var fallback model.FieldMap
	if len(res.Missing) > 0 && e.llm != nil {
		var err error
		fallback, err = e.fallback(ctx, page, res)
		if err != nil {
			return nil, err
		}
	}

	merged := make(model.FieldMap, len(e.schema.Fields))
	for k, v := range fallback {
		f := e.schema.ByName(k)
		if f == nil || f.Type == model.FieldDerived {
			continue
		}
		merged[k] = v
	}
	for k, v := range res.Extracted {
		merged[k] = v
	}

	fields := e.std.Record(merged)
	for _, name := range e.schema.Extractable() {
		if !fields.Has(name) {
			fields[name] = nil
		}
	}

	return &model.Record{URL: page.URL, Fields: fields}, nil
}

func (e *Extractor) fallback(ctx context.Context, page model.Page, res extract.Result) (model.FieldMap, error) {
	log := zap.L().With(zap.String("url", page.URL), zap.String("stage", "llm"))
	prompt := BuildPrompt(e.schema, page.URL, page.Text, res.Extracted, res.Missing, e.opts.MaxPromptChars)

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.llm.Complete(callCtx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "pipeline: llm fallback interrupted")
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, eris.Wrapf(ErrLLMTimeout, "pipeline: no answer after %s", e.opts.Timeout)
		}
		return nil, eris.Wrap(err, "pipeline: llm fallback")
	}
	log.Debug("pipeline: llm answered",
		zap.Int("response_chars", len(out)),
		zap.Duration("elapsed", time.Since(start)),
	)

	parsed, err := ParseLLMJSON(out)
	if err != nil {
		log.Warn("pipeline: discarding llm answer", zap.Error(err))
		return nil, nil
	}
	return parsed, nil
}

// ParseLLMJSON parses the span between the first '{' and the last '}' of a
// completion, ignoring any commentary around it.
func ParseLLMJSON(text string) (model.FieldMap, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return nil, eris.Wrap(ErrMalformedLLMResponse, "no JSON object found")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, eris.Wrapf(ErrMalformedLLMResponse, "invalid JSON: %v", err)
	}
	return model.FieldMap(out), nil
}

// BuildPrompt asks for the missing fields only, showing what is already
// known and at most maxChars runes of page text.
func BuildPrompt(schema *model.Schema, url, text string, known model.FieldMap, missing []string, maxChars int) string {
	knownJSON, err := json.MarshalIndent(known, "", "  ")
	if err != nil || len(known) == 0 {
		knownJSON = []byte("{}")
	}
	if r := []rune(text); maxChars > 0 && len(r) > maxChars {
		text = string(r[:maxChars])
	}

	var fields strings.Builder
	for _, name := range missing {
		f := schema.ByName(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(&fields, "- %s (%s)", f.Name, typeHint(f.Type))
		if f.Description != "" {
			fmt.Fprintf(&fields, ": %s", f.Description)
		}
		fields.WriteByte('\n')
	}

	var b strings.Builder
	b.WriteString("Sos un asistente que extrae datos de avisos inmobiliarios.\n\n")
	fmt.Fprintf(&b, "URL: %s\n\n", url)
	b.WriteString("Datos ya extraídos (no los repitas):\n")
	b.Write(knownJSON)
	b.WriteString("\n\nCampos que faltan:\n")
	b.WriteString(fields.String())
	b.WriteString("\nTexto del aviso:\n")
	b.WriteString(text)
	b.WriteString("\n\nReglas:\n")
	b.WriteString("1. Respondé solamente con un objeto JSON válido, sin texto antes ni después.\n")
	b.WriteString("2. Incluí únicamente los campos que faltan.\n")
	b.WriteString("3. Booleanos como true/false. Números sin separadores de miles.\n")
	b.WriteString("4. Si un dato no aparece en el texto, usá null.\n")
	return b.String()
}

func typeHint(t model.FieldType) string {
	switch t {
	case model.FieldInteger:
		return "entero"
	case model.FieldReal:
		return "número"
	case model.FieldBoolean:
		return "true/false"
	default:
		return "texto"
	}
}
