// Package stepvalidator decides step completion from declarative field lists.
package stepvalidator

import (
	"fmt"
	"strings"

	"admissions-portal/internal/forms/fieldpath"
	"admissions-portal/internal/forms/steps"
	"admissions-portal/internal/models"
)

type Validator struct {
	catalog *steps.Catalog
}

func New(catalog *steps.Catalog) *Validator {
	return &Validator{catalog: catalog}
}

func (v *Validator) Catalog() *steps.Catalog {
	return v.catalog
}

// IsStepComplete reports whether every validation field of step is present.
// Optional steps are always complete.
func (v *Validator) IsStepComplete(step models.StepDefinition, record *models.FormRecord) bool {
	if !step.IsRequired {
		return true
	}
	data := sectionsOf(record)
	for _, path := range step.ValidationFields {
		if v.problem(path, data) != nil {
			return false
		}
	}
	return true
}

// ErrorsFor returns one error per missing field, in declaration order.
func (v *Validator) ErrorsFor(step models.StepDefinition, record *models.FormRecord) []models.ValidationError {
	if !step.IsRequired {
		return nil
	}
	data := sectionsOf(record)
	var errs []models.ValidationError
	for _, path := range step.ValidationFields {
		if e := v.problem(path, data); e != nil {
			errs = append(errs, *e)
		}
	}
	return errs
}

// CompletedSteps recomputes the completed set for every step.
func (v *Validator) CompletedSteps(record *models.FormRecord) []int {
	out := make([]int, 0, v.catalog.TotalSteps())
	for _, s := range v.catalog.Steps {
		if v.IsStepComplete(s, record) {
			out = append(out, s.ID)
		}
	}
	return out
}

// IncompleteRequired returns required steps that are not complete along with their
// field messages keyed by step title.
func (v *Validator) IncompleteRequired(record *models.FormRecord) ([]models.StepDefinition, map[string][]string) {
	var incomplete []models.StepDefinition
	messages := map[string][]string{}
	for _, s := range v.catalog.Required() {
		errs := v.ErrorsFor(s, record)
		if len(errs) == 0 {
			continue
		}
		incomplete = append(incomplete, s)
		for _, e := range errs {
			messages[s.Title] = append(messages[s.Title], e.Message)
		}
	}
	return incomplete, messages
}

func (v *Validator) problem(path string, data map[string]interface{}) *models.ValidationError {
	rule := v.catalog.Rule(path)
	label := v.catalog.Label(path)
	value, _ := fieldpath.Get(data, path)

	switch rule.Kind {
	case models.FieldKindFile:
		if !isUploaded(value) {
			return &models.ValidationError{Field: path, Code: models.ValidationCodeNoUpload, Message: fmt.Sprintf("%s must be uploaded", label)}
		}
	case models.FieldKindList:
		minItems := rule.MinItems
		if minItems < 1 {
			minItems = 1
		}
		if countEntries(value) < minItems {
			return &models.ValidationError{Field: path, Code: models.ValidationCodeTooFew, Message: fmt.Sprintf("At least %d %s are required", minItems, label)}
		}
	default:
		if !hasText(value) {
			return &models.ValidationError{Field: path, Code: models.ValidationCodeMissing, Message: fmt.Sprintf("%s is required", label)}
		}
	}
	return nil
}

func sectionsOf(record *models.FormRecord) map[string]interface{} {
	if record == nil {
		return nil
	}
	return record.Sections
}

func hasText(value interface{}) bool {
	switch t := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

// isUploaded accepts a document marker, never a bare string.
func isUploaded(value interface{}) bool {
	switch t := value.(type) {
	case models.DocumentMarker:
		return t.Name != ""
	case *models.DocumentMarker:
		return t != nil && t.Name != ""
	case map[string]interface{}:
		return len(t) > 0
	default:
		return false
	}
}

func countEntries(value interface{}) int {
	n := 0
	switch t := value.(type) {
	case []interface{}:
		for _, e := range t {
			if !isEmptyEntry(e) {
				n++
			}
		}
	case []map[string]interface{}:
		for _, e := range t {
			if len(e) > 0 {
				n++
			}
		}
	case []string:
		for _, e := range t {
			if strings.TrimSpace(e) != "" {
				n++
			}
		}
	}
	return n
}

func isEmptyEntry(e interface{}) bool {
	switch t := e.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
