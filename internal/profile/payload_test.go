package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullRaw() map[string]any {
	return map[string]any{
		"name":           "Acme Analytics",
		"website":        "https://acme.example",
		"country":        "Germany",
		"city":           "Berlin",
		"industry":       "Software",
		"description":    "Acme builds analytics widgets.",
		"founded_year":   float64(2009), // JSON numbers arrive as float64
		"employee_count": float64(120),
		"services":       []any{"analytics", "dashboards"},
		"people":         []any{map[string]any{"name": "Jane Doe", "role": "CEO"}},
	}
}

func TestDecodeFullPayload(t *testing.T) {
	schema := DefaultSchema()
	p, violations := Decode(fullRaw(), schema)

	assert.Empty(t, violations)
	require.NotNil(t, p.Name)
	assert.Equal(t, "Acme Analytics", *p.Name)
	require.NotNil(t, p.FoundedYear)
	assert.Equal(t, 2009, *p.FoundedYear)
	assert.Equal(t, []string{"analytics", "dashboards"}, p.Services)
	require.Len(t, p.People, 1)
	assert.Equal(t, "Jane Doe", p.People[0].Name)
	assert.Equal(t, 1.0, Completeness(p, schema))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	raw := fullRaw()
	raw["stock_ticker"] = "ACME" // not in schema: must be dropped, not kept

	p, violations := Decode(raw, DefaultSchema())
	assert.Contains(t, violations, `unexpected field "stock_ticker"`)
	assert.Equal(t, 1.0, Completeness(p, DefaultSchema()))
}

func TestDecodeDegradesBadTypesToNull(t *testing.T) {
	raw := fullRaw()
	raw["founded_year"] = "two thousand nine"
	raw["services"] = "analytics"

	p, violations := Decode(raw, DefaultSchema())
	assert.Contains(t, violations, `field "founded_year": expected int`)
	assert.Contains(t, violations, `field "services": expected string_list`)
	assert.Nil(t, p.FoundedYear)
	assert.Empty(t, p.Services)
	// 8 of 10 required fields remain populated.
	assert.InDelta(t, 0.8, Completeness(p, DefaultSchema()), 1e-9)
}

func TestCompletenessMissingFields(t *testing.T) {
	raw := fullRaw()
	delete(raw, "city")
	delete(raw, "employee_count")
	delete(raw, "people")

	schema := DefaultSchema()
	p, violations := Decode(raw, schema)
	assert.Empty(t, violations, "missing required fields are incompleteness, not violations")
	assert.InDelta(t, 0.7, Completeness(p, schema), 1e-9)
}

func TestCompletenessDeterministic(t *testing.T) {
	schema := DefaultSchema()
	p, _ := Decode(fullRaw(), schema)
	first := Completeness(p, schema)
	second := Completeness(p, schema)
	assert.Equal(t, first, second)
}

func TestDecodeNullAndEmptyValues(t *testing.T) {
	raw := map[string]any{
		"name":    nil,
		"website": "",
	}
	p, violations := Decode(raw, DefaultSchema())
	assert.Empty(t, violations)
	assert.Nil(t, p.Name)
	assert.Nil(t, p.Website)
	assert.Equal(t, 0.0, Completeness(p, DefaultSchema()))
}

func TestLoadSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	body := `
fields:
  title:
    type: string
    required: true
  topics:
    type: string_list
    required: true
  summary:
    type: string
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := LoadSchema(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"title", "topics"}, s.Required())
	assert.Len(t, s.PromptSpec(), 3)
}

func TestLoadSchemaRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  x:\n    type: blob\n"), 0o644))

	_, err := LoadSchema(path)
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	p, _ := Decode(fullRaw(), DefaultSchema())
	assert.Equal(t, "Acme Analytics", p.DisplayName("acme-analytics"))
	assert.Equal(t, "acme-analytics", Payload{}.DisplayName("acme-analytics"))
}
