// Package profile defines the fixed extraction schema for content entities,
// validates extracted payloads against it (fail closed on unknown fields), and
// computes the deterministic completeness score.
package profile

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Field types understood by the decoder.
const (
	TypeString     = "string"
	TypeInt        = "int"
	TypeFloat      = "float"
	TypeStringList = "string_list"
	TypePeople     = "people"
	TypeStringMap  = "string_map"
)

// FieldSpec describes one schema field.
type FieldSpec struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// Schema is the fixed target schema handed to the extraction provider. The
// field set is closed: payload keys outside it are rejected, never kept.
type Schema struct {
	Fields map[string]FieldSpec `yaml:"fields"`
}

// DefaultSchema is the built-in company/entity profile schema.
func DefaultSchema() Schema {
	return Schema{Fields: map[string]FieldSpec{
		"name":           {Type: TypeString, Required: true},
		"website":        {Type: TypeString, Required: true},
		"country":        {Type: TypeString, Required: true},
		"city":           {Type: TypeString, Required: true},
		"industry":       {Type: TypeString, Required: true},
		"description":    {Type: TypeString, Required: true},
		"founded_year":   {Type: TypeInt, Required: true},
		"employee_count": {Type: TypeInt, Required: true},
		"services":       {Type: TypeStringList, Required: true},
		"people":         {Type: TypePeople, Required: true},
		"tagline":        {Type: TypeString},
		"revenue_usd":    {Type: TypeFloat},
		"social_links":   {Type: TypeStringMap},
	}}
}

// LoadSchema reads a schema override from a yaml file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	if len(s.Fields) == 0 {
		return Schema{}, fmt.Errorf("schema %s defines no fields", path)
	}
	for name, spec := range s.Fields {
		switch spec.Type {
		case TypeString, TypeInt, TypeFloat, TypeStringList, TypePeople, TypeStringMap:
		default:
			return Schema{}, fmt.Errorf("schema %s: field %q has unknown type %q", path, name, spec.Type)
		}
	}
	return s, nil
}

// Required returns the required field names in stable order.
func (s Schema) Required() []string {
	var out []string
	for name, spec := range s.Fields {
		if spec.Required {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PromptSpec renders the schema in the shape the extraction service expects.
func (s Schema) PromptSpec() map[string]any {
	out := make(map[string]any, len(s.Fields))
	for name, spec := range s.Fields {
		out[name] = map[string]any{"type": spec.Type, "required": spec.Required}
	}
	return out
}
