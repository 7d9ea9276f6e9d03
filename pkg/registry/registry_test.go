package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
)

func writeRegistry(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadCatalog_FromFile(t *testing.T) {
	path := writeRegistry(t, `{
		"version": 3,
		"lastUpdated": "2026-01-01",
		"steps": [
			{"id": 1, "title": "Contact", "isRequired": true, "validationFields": ["contact.email"]},
			{"id": 2, "title": "Portfolio", "isRequired": true, "validationFields": ["portfolio.items"]}
		],
		"fields": {"portfolio.items": {"kind": "list", "minItems": 3, "label": "Portfolio pieces"}},
		"labels": {"email": "E-mail"}
	}`)

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, 3, c.Version)
	assert.Equal(t, 2, c.TotalSteps())
	assert.Equal(t, "Portfolio pieces", c.Label("portfolio.items"))
	assert.Equal(t, "E-mail", c.Label("contact.email"))
	assert.Equal(t, 3, c.Rule("portfolio.items").MinItems)
}

func TestLoadCatalog_DefaultWhenEmptyPath(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Equal(t, 6, c.TotalSteps())
}

func TestStepRegistry_Catalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"orphan field rule", `{"version":1,"steps":[{"id":1,"title":"A","validationFields":["a.x"]}],"fields":{"b.y":{"kind":"text"}}}`},
		{"list without minimum", `{"version":1,"steps":[{"id":1,"title":"A","validationFields":["a.x"]}],"fields":{"a.x":{"kind":"list"}}}`},
		{"unknown kind", `{"version":1,"steps":[{"id":1,"title":"A","validationFields":["a.x"]}],"fields":{"a.x":{"kind":"date"}}}`},
		{"non contiguous ids", `{"version":1,"steps":[{"id":2,"title":"A"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadCatalog(writeRegistry(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestStepRegistry_Save_RoundTripsBuiltInCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "steps.json")

	reg := FromCatalog(steps.Current(), "2026-10-18T00:00:00Z")
	require.NoError(t, reg.Save(path))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, steps.Current().TotalSteps(), c.TotalSteps())
	assert.Equal(t, steps.Current().Rule("references.contacts").MinItems, c.Rule("references.contacts").MinItems)
}

func TestStepRegistry_Save_RejectsInvalid(t *testing.T) {
	reg := &StepRegistry{Version: 1, Steps: []models.StepDefinition{{ID: 2, Title: "A"}}}
	err := reg.Save(filepath.Join(t.TempDir(), "steps.json"))
	assert.Error(t, err)
}
