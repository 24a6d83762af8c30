// Package extract resolves listing fields deterministically from per-site
// CSS selector and regex profiles.
package extract

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PatternType selects how a field is located on a page.
type PatternType string

const (
	PatternCSS         PatternType = "css_selector"
	PatternRegex       PatternType = "regex"
	PatternLLMRequired PatternType = "llm_required"
)

// Pattern is one field rule of a site profile as written in the profile file.
type Pattern struct {
	Type      PatternType       `json:"type" yaml:"type"`
	Selector  string            `json:"selector,omitempty" yaml:"selector,omitempty"`
	Regex     string            `json:"regex,omitempty" yaml:"regex,omitempty"`
	Pattern   string            `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	SearchIn  string            `json:"search_in,omitempty" yaml:"search_in,omitempty"`
	Transform map[string]string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// Profile is the extraction configuration for one domain.
type Profile struct {
	Name     string             `json:"name" yaml:"name"`
	Patterns map[string]Pattern `json:"patterns" yaml:"patterns"`
}

type rule struct {
	field      string
	kind       PatternType
	selector   string
	re         *regexp.Regexp
	searchHTML bool
	transform  map[string]string
}

type compiledProfile struct {
	name  string
	rules []rule
}

// Profiles indexes compiled site profiles by normalized domain.
type Profiles struct {
	byDomain map[string]*compiledProfile
}

// NewProfiles compiles every pattern. Keys beginning with "_" are treated as
// file metadata and skipped.
func NewProfiles(raw map[string]Profile) (*Profiles, error) {
	p := &Profiles{byDomain: make(map[string]*compiledProfile, len(raw))}
	for domain, prof := range raw {
		if strings.HasPrefix(domain, "_") {
			continue
		}
		cp := &compiledProfile{name: prof.Name}

		fields := make([]string, 0, len(prof.Patterns))
		for f := range prof.Patterns {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			r, err := compileRule(field, prof.Patterns[field])
			if err != nil {
				return nil, eris.Wrapf(err, "extract: profile %s", domain)
			}
			cp.rules = append(cp.rules, r)
		}
		p.byDomain[normalizeKey(domain)] = cp
	}
	return p, nil
}

func compileRule(field string, pat Pattern) (rule, error) {
	r := rule{
		field:      field,
		kind:       pat.Type,
		selector:   pat.Selector,
		searchHTML: strings.EqualFold(pat.SearchIn, "html"),
		transform:  pat.Transform,
	}
	var expr string
	switch pat.Type {
	case PatternLLMRequired:
		return r, nil
	case PatternCSS:
		if pat.Selector == "" {
			return r, eris.Errorf("field %s: css_selector without selector", field)
		}
		expr = pat.Regex
	case PatternRegex:
		expr = pat.Pattern
		if expr == "" {
			expr = pat.Regex
		}
		if expr == "" {
			return r, eris.Errorf("field %s: regex without pattern", field)
		}
	default:
		return r, eris.Errorf("field %s: unknown pattern type %q", field, pat.Type)
	}
	if expr != "" {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return r, eris.Wrapf(err, "field %s: compile regex", field)
		}
		r.re = re
	}
	return r, nil
}

// LoadProfiles reads a JSON or YAML profile file keyed by domain.
func LoadProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read profiles %s", path)
	}

	// Metadata keys ("_comment", "_version") may hold any value, so decode
	// generically first and keep only domain entries.
	var generic map[string]any
	isJSON := strings.EqualFold(filepath.Ext(path), ".json")
	if isJSON {
		err = json.Unmarshal(data, &generic)
	} else {
		err = yaml.Unmarshal(data, &generic)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "extract: parse profiles %s", path)
	}

	raw := make(map[string]Profile, len(generic))
	for domain, v := range generic {
		if strings.HasPrefix(domain, "_") {
			continue
		}
		// Round-trip through JSON to decode the entry into a Profile
		// regardless of the source format.
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: re-encode profile %s", domain)
		}
		var prof Profile
		if err := json.Unmarshal(b, &prof); err != nil {
			return nil, eris.Wrapf(err, "extract: decode profile %s", domain)
		}
		raw[domain] = prof
	}
	return NewProfiles(raw)
}

// Lookup returns the profile name and whether a profile exists for rawURL's domain.
func (p *Profiles) Lookup(rawURL string) (string, bool) {
	cp := p.get(rawURL)
	if cp == nil {
		return "", false
	}
	return cp.name, true
}

// Domains returns the configured domains, sorted.
func (p *Profiles) Domains() []string {
	out := make([]string, 0, len(p.byDomain))
	for d := range p.byDomain {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (p *Profiles) get(rawURL string) *compiledProfile {
	if p == nil {
		return nil
	}
	// Listing subdomains such as departamento.mercadolibre.com.ar fall back
	// to the parent domain profile.
	host := NormalizeDomain(rawURL)
	for host != "" {
		if cp, ok := p.byDomain[host]; ok {
			return cp
		}
		i := strings.IndexByte(host, '.')
		if i < 0 || !strings.Contains(host[i+1:], ".") {
			return nil
		}
		host = host[i+1:]
	}
	return nil
}

// NormalizeDomain returns the lowercased host of rawURL without scheme, port
// or a leading "www.".
func NormalizeDomain(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	return normalizeKey(u.Hostname())
}

func normalizeKey(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}
