package profile

import (
	"fmt"
	"sort"
)

// Person is one listed individual (founder, executive, contact).
type Person struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Payload is the fixed-schema typed profile produced by extraction. Pointer
// fields distinguish "absent" from zero values; absent required fields lower
// the completeness score but never fail the run.
type Payload struct {
	Name          *string           `json:"name,omitempty"`
	Website       *string           `json:"website,omitempty"`
	Country       *string           `json:"country,omitempty"`
	City          *string           `json:"city,omitempty"`
	Industry      *string           `json:"industry,omitempty"`
	Description   *string           `json:"description,omitempty"`
	FoundedYear   *int              `json:"founded_year,omitempty"`
	EmployeeCount *int              `json:"employee_count,omitempty"`
	Services      []string          `json:"services,omitempty"`
	People        []Person          `json:"people,omitempty"`
	Tagline       *string           `json:"tagline,omitempty"`
	RevenueUSD    *float64          `json:"revenue_usd,omitempty"`
	SocialLinks   map[string]string `json:"social_links,omitempty"`

	// CompletenessScore is populatedRequiredFields / totalRequiredFields,
	// computed by Completeness. Stored on the payload so the persisted
	// entity carries it.
	CompletenessScore float64 `json:"completeness_score"`
}

// Decode validates a raw extraction payload against the schema and builds the
// typed payload. The schema is closed: unknown keys are dropped and reported
// as violations. Type mismatches degrade that field to null with a violation
// instead of failing the whole payload.
func Decode(raw map[string]any, schema Schema) (Payload, []string) {
	var p Payload
	var violations []string

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic violation order

	for _, key := range keys {
		value := raw[key]
		spec, known := schema.Fields[key]
		if !known {
			violations = append(violations, fmt.Sprintf("unexpected field %q", key))
			continue
		}
		if value == nil {
			continue
		}
		if !p.setField(key, spec, value) {
			violations = append(violations, fmt.Sprintf("field %q: expected %s", key, spec.Type))
		}
	}
	return p, violations
}

func (p *Payload) setField(key string, spec FieldSpec, value any) bool {
	switch spec.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return false
		}
		if s == "" {
			return true // empty string counts as absent, not a violation
		}
		switch key {
		case "name":
			p.Name = &s
		case "website":
			p.Website = &s
		case "country":
			p.Country = &s
		case "city":
			p.City = &s
		case "industry":
			p.Industry = &s
		case "description":
			p.Description = &s
		case "tagline":
			p.Tagline = &s
		}
		return true
	case TypeInt:
		n, ok := asInt(value)
		if !ok {
			return false
		}
		switch key {
		case "founded_year":
			p.FoundedYear = &n
		case "employee_count":
			p.EmployeeCount = &n
		}
		return true
	case TypeFloat:
		f, ok := asFloat(value)
		if !ok {
			return false
		}
		if key == "revenue_usd" {
			p.RevenueUSD = &f
		}
		return true
	case TypeStringList:
		list, ok := asStringList(value)
		if !ok {
			return false
		}
		if key == "services" {
			p.Services = list
		}
		return true
	case TypePeople:
		people, ok := asPeople(value)
		if !ok {
			return false
		}
		if key == "people" {
			p.People = people
		}
		return true
	case TypeStringMap:
		m, ok := asStringMap(value)
		if !ok {
			return false
		}
		if key == "social_links" {
			p.SocialLinks = m
		}
		return true
	}
	return false
}

// Completeness is a pure function of the populated required fields.
func Completeness(p Payload, schema Schema) float64 {
	required := schema.Required()
	if len(required) == 0 {
		return 1
	}
	populated := 0
	for _, name := range required {
		if p.fieldPopulated(name) {
			populated++
		}
	}
	return float64(populated) / float64(len(required))
}

func (p Payload) fieldPopulated(name string) bool {
	switch name {
	case "name":
		return p.Name != nil && *p.Name != ""
	case "website":
		return p.Website != nil && *p.Website != ""
	case "country":
		return p.Country != nil && *p.Country != ""
	case "city":
		return p.City != nil && *p.City != ""
	case "industry":
		return p.Industry != nil && *p.Industry != ""
	case "description":
		return p.Description != nil && *p.Description != ""
	case "tagline":
		return p.Tagline != nil && *p.Tagline != ""
	case "founded_year":
		return p.FoundedYear != nil
	case "employee_count":
		return p.EmployeeCount != nil
	case "revenue_usd":
		return p.RevenueUSD != nil
	case "services":
		return len(p.Services) > 0
	case "people":
		return len(p.People) > 0
	case "social_links":
		return len(p.SocialLinks) > 0
	default:
		return false
	}
}

// DisplayName returns the best human-readable name for the entity.
func (p Payload) DisplayName(fallback string) string {
	if p.Name != nil && *p.Name != "" {
		return *p.Name
	}
	return fallback
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		// JSON numbers decode as float64; accept only whole values.
		if t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func asStringList(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, true
		}
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out, true
}

func asPeople(v any) ([]Person, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Person, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		name, _ := m["name"].(string)
		if name == "" {
			return nil, false
		}
		role, _ := m["role"].(string)
		out = append(out, Person{Name: name, Role: role})
	}
	return out, true
}

func asStringMap(v any) (map[string]string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out[k] = s
	}
	return out, true
}
