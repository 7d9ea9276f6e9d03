// pkg/registry/schema.go
package registry

import "admissions-portal/internal/models"

// StepRegistry is the on-disk step configuration for a deployment.
type StepRegistry struct {
	Version     int                         `json:"version"`
	LastUpdated string                      `json:"lastUpdated"`
	Steps       []models.StepDefinition     `json:"steps"`
	Fields      map[string]models.FieldRule `json:"fields"`
	Labels      map[string]string           `json:"labels,omitempty"`
}
