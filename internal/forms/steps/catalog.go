// Package steps holds the admissions step definitions and their version history.
package steps

import (
	"fmt"
	"sort"

	"admissions-portal/internal/forms/fieldpath"
	"admissions-portal/internal/models"
)

// Catalog is one version of the step configuration.
type Catalog struct {
	Version int
	Steps   []models.StepDefinition
	Fields  map[string]models.FieldRule
	Labels  map[string]string
}

// NewCatalog validates and indexes a step set. Step ids must be 1..N in order.
func NewCatalog(version int, defs []models.StepDefinition, fields map[string]models.FieldRule) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("catalog v%d has no steps", version)
	}
	sorted := append([]models.StepDefinition(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for i, s := range sorted {
		if s.ID != i+1 {
			return nil, fmt.Errorf("catalog v%d: step ids must be contiguous from 1, got %d at position %d", version, s.ID, i+1)
		}
	}
	if fields == nil {
		fields = map[string]models.FieldRule{}
	}
	return &Catalog{Version: version, Steps: sorted, Fields: fields, Labels: DefaultLabels}, nil
}

func (c *Catalog) TotalSteps() int {
	return len(c.Steps)
}

// Step returns the definition for id.
func (c *Catalog) Step(id int) (models.StepDefinition, bool) {
	if id < 1 || id > len(c.Steps) {
		return models.StepDefinition{}, false
	}
	return c.Steps[id-1], true
}

// Rule returns the presence rule for path. Unknown fields are plain text.
func (c *Catalog) Rule(path string) models.FieldRule {
	if r, ok := c.Fields[path]; ok {
		if r.Kind == "" {
			r.Kind = models.FieldKindText
		}
		return r
	}
	return models.FieldRule{Kind: models.FieldKindText}
}

// Label resolves the display label for path: an explicit rule label, then the known
// label for the last segment, then the raw field name.
func (c *Catalog) Label(path string) string {
	if r, ok := c.Fields[path]; ok && r.Label != "" {
		return r.Label
	}
	name := fieldpath.Last(path)
	if l, ok := c.Labels[name]; ok {
		return l
	}
	return name
}

// Required lists the steps that gate submission.
func (c *Catalog) Required() []models.StepDefinition {
	var out []models.StepDefinition
	for _, s := range c.Steps {
		if s.IsRequired {
			out = append(out, s)
		}
	}
	return out
}

// ClampStep bounds n to [1, TotalSteps].
func (c *Catalog) ClampStep(n int) int {
	if n < 1 {
		return 1
	}
	if n > len(c.Steps) {
		return len(c.Steps)
	}
	return n
}

// WithMinItems returns a copy of c whose list field at path needs at least n entries.
func (c *Catalog) WithMinItems(path string, n int) *Catalog {
	fields := make(map[string]models.FieldRule, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	rule := fields[path]
	rule.Kind = models.FieldKindList
	rule.MinItems = n
	fields[path] = rule

	out := *c
	out.Fields = fields
	return &out
}
