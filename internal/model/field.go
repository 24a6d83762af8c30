package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldType is the declared semantic type of a canonical field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldEnum    FieldType = "enum"
	FieldInteger FieldType = "integer"
	FieldReal    FieldType = "real"
	FieldBoolean FieldType = "boolean"
	FieldDerived FieldType = "derived"
)

// Rule names the standardization rule applied to a field's raw value.
type Rule string

const (
	RuleNone    Rule = "none"
	RuleTrim    Rule = "trim"
	RuleLower   Rule = "lower"
	RuleUpper   Rule = "upper"
	RuleAddress Rule = "address"
	RuleFloor   Rule = "floor"
	RuleAge     Rule = "age"
	RuleNumeric Rule = "numeric"
	RuleInteger Rule = "integer"
	RuleBoolean Rule = "boolean"
)

var validTypes = map[FieldType]Rule{
	FieldString:  RuleTrim,
	FieldEnum:    RuleLower,
	FieldInteger: RuleInteger,
	FieldReal:    RuleNumeric,
	FieldBoolean: RuleBoolean,
	FieldDerived: RuleNone,
}

var validRules = map[Rule]bool{
	RuleNone: true, RuleTrim: true, RuleLower: true, RuleUpper: true,
	RuleAddress: true, RuleFloor: true, RuleAge: true, RuleNumeric: true,
	RuleInteger: true, RuleBoolean: true,
}

// DefaultMaxLength caps free-text fields that do not declare a limit.
const DefaultMaxLength = 500

// Field describes one canonical attribute of a property listing.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Rule        Rule      `json:"rule,omitempty" yaml:"rule,omitempty"`
	MaxLength   int       `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// IsNumeric reports whether the field holds an integer or real value.
func (f Field) IsNumeric() bool {
	return f.Type == FieldInteger || f.Type == FieldReal
}

// Schema is the ordered, indexed set of canonical fields.
type Schema struct {
	Fields []Field
	byName map[string]*Field
}

// NewSchema validates fields, resolves default rules and indexes them by name.
func NewSchema(fields []Field) (*Schema, error) {
	s := &Schema{
		Fields: make([]Field, len(fields)),
		byName: make(map[string]*Field, len(fields)),
	}
	copy(s.Fields, fields)
	for i := range s.Fields {
		f := &s.Fields[i]
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return nil, eris.Errorf("schema: field %d has no name", i)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, eris.Errorf("schema: duplicate field %q", f.Name)
		}
		def, ok := validTypes[f.Type]
		if !ok {
			return nil, eris.Errorf("schema: field %q has unknown type %q", f.Name, f.Type)
		}
		if f.Rule == "" {
			f.Rule = def
		}
		if !validRules[f.Rule] {
			return nil, eris.Errorf("schema: field %q has unknown rule %q", f.Name, f.Rule)
		}
		if f.MaxLength == 0 && f.Type == FieldString {
			f.MaxLength = DefaultMaxLength
		}
		s.byName[f.Name] = f
	}
	return s, nil
}

// ByName returns the field with the given name, or nil.
func (s *Schema) ByName(name string) *Field {
	return s.byName[name]
}

// Names returns every field name in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Extractable returns the names of fields resolved from page content, i.e. all
// fields except derived ones.
func (s *Schema) Extractable() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Type != FieldDerived {
			out = append(out, f.Name)
		}
	}
	return out
}

// LoadSchema reads a field list from a YAML or JSON file. An empty path
// returns DefaultSchema.
func LoadSchema(path string) (*Schema, error) {
	if path == "" {
		return DefaultSchema(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}

	var fields []Field
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &fields)
	default:
		err = yaml.Unmarshal(data, &fields)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "schema: parse %s", path)
	}
	if len(fields) == 0 {
		return nil, eris.Errorf("schema: %s declares no fields", path)
	}
	return NewSchema(fields)
}

// DefaultSchema returns the built-in listing field set.
func DefaultSchema() *Schema {
	s, err := NewSchema(defaultFields)
	if err != nil {
		panic(err)
	}
	return s
}

var defaultFields = []Field{
	{Name: "tipo_operacion", Type: FieldEnum, Description: "venta o alquiler"},
	{Name: "tipo_inmueble", Type: FieldEnum, Description: "casa o departamento"},
	{Name: "direccion", Type: FieldString, Rule: RuleAddress},
	{Name: "barrio", Type: FieldString},
	{Name: "metros_cuadrados_cubiertos", Type: FieldReal},
	{Name: "metros_cuadrados_totales", Type: FieldReal},
	{Name: "precio", Type: FieldReal},
	{Name: "moneda", Type: FieldEnum, Rule: RuleUpper, Description: "USD, ARS, etc."},
	{Name: "cantidad_dormitorios", Type: FieldInteger},
	{Name: "cantidad_banos", Type: FieldInteger},
	{Name: "cantidad_ambientes", Type: FieldInteger},
	{Name: "tiene_patio", Type: FieldBoolean},
	{Name: "tiene_quincho", Type: FieldBoolean},
	{Name: "tiene_pileta", Type: FieldBoolean},
	{Name: "tiene_cochera", Type: FieldBoolean},
	{Name: "tiene_balcon", Type: FieldBoolean},
	{Name: "tiene_terraza", Type: FieldBoolean},
	{Name: "piso", Type: FieldString, Rule: RuleFloor, Description: "PB, 1, 2, 3, etc."},
	{Name: "orientacion", Type: FieldString, Description: "Norte, Sur, Este, Oeste"},
	{Name: "antiguedad", Type: FieldInteger, Rule: RuleAge, Description: "años de antigüedad, 0 si es a estrenar"},
	{Name: "descripcion_breve", Type: FieldString, MaxLength: 200, Description: "resumen de máximo 200 caracteres"},
	{Name: "anunciante", Type: FieldString, Description: "inmobiliaria o particular que publica"},
	{Name: "costo_metro_cuadrado", Type: FieldDerived, Description: "precio / m2 ponderados"},
}
