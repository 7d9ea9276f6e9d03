// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"admissions-portal/internal/forms/fieldpath"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
)

func LoadRegistry(path string) (*StepRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg StepRegistry
	err = json.Unmarshal(data, &reg)
	return &reg, err
}

// Catalog converts the registry into a validated step catalog. Every field rule must
// refer to a path that some step validates.
func (r *StepRegistry) Catalog() (*steps.Catalog, error) {
	known := map[string]struct{}{}
	for _, s := range r.Steps {
		for _, f := range s.ValidationFields {
			known[f] = struct{}{}
		}
	}
	for path, rule := range r.Fields {
		if _, ok := known[path]; !ok {
			return nil, fmt.Errorf("field rule %q is not used by any step", path)
		}
		switch rule.Kind {
		case "", models.FieldKindText, models.FieldKindFile:
		case models.FieldKindList:
			if rule.MinItems < 1 {
				return nil, fmt.Errorf("list field %q needs minItems >= 1", path)
			}
		default:
			return nil, fmt.Errorf("field %q has unknown kind %q", path, rule.Kind)
		}
	}

	c, err := steps.NewCatalog(r.Version, r.Steps, r.Fields)
	if err != nil {
		return nil, err
	}
	if len(r.Labels) > 0 {
		labels := make(map[string]string, len(steps.DefaultLabels)+len(r.Labels))
		for k, v := range steps.DefaultLabels {
			labels[k] = v
		}
		for k, v := range r.Labels {
			labels[fieldpath.Last(k)] = v
		}
		c.Labels = labels
	}
	return c, nil
}

// LoadCatalog reads path and returns its catalog; an empty path yields the built-in one.
func LoadCatalog(path string) (*steps.Catalog, error) {
	if path == "" {
		return steps.Current(), nil
	}
	reg, err := LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load step registry %s: %w", path, err)
	}
	return reg.Catalog()
}

// FromCatalog captures c as a registry, e.g. to seed a file from the built-in steps.
func FromCatalog(c *steps.Catalog, lastUpdated string) *StepRegistry {
	fields := make(map[string]models.FieldRule, len(c.Fields))
	for k, v := range c.Fields {
		fields[k] = v
	}
	return &StepRegistry{
		Version:     c.Version,
		LastUpdated: lastUpdated,
		Steps:       append([]models.StepDefinition(nil), c.Steps...),
		Fields:      fields,
	}
}

// Save checks the registry and writes it as indented JSON, creating the directory.
func (r *StepRegistry) Save(path string) error {
	if _, err := r.Catalog(); err != nil {
		return fmt.Errorf("refusing to save invalid registry: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
