package steps

import "admissions-portal/internal/models"

const (
	VersionLegacy  = 1
	VersionCurrent = 2
)

// DefaultLabels maps field names to what applicants see in error messages.
var DefaultLabels = map[string]string{
	"firstName":         "First name",
	"lastName":          "Last name",
	"email":             "Email address",
	"phone":             "Phone number",
	"institution":       "Institution",
	"degree":            "Degree",
	"fieldOfStudy":      "Field of study",
	"graduationYear":    "Graduation year",
	"transcript":        "Transcript",
	"identification":    "Identification document",
	"personalStatement": "Personal statement",
	"contacts":          "References",
}

var admissionFields = map[string]models.FieldRule{
	"documents.transcript":     {Kind: models.FieldKindFile},
	"documents.identification": {Kind: models.FieldKindFile},
	"references.contacts":      {Kind: models.FieldKindList, MinItems: 2},
}

var (
	personalStep = models.StepDefinition{
		Title:            "Personal Information",
		IsRequired:       true,
		ValidationFields: []string{"personalInfo.firstName", "personalInfo.lastName", "personalInfo.email"},
	}
	educationStep = models.StepDefinition{
		Title:            "Educational Background",
		IsRequired:       true,
		ValidationFields: []string{"education.institution", "education.degree", "education.fieldOfStudy"},
	}
	documentsStep = models.StepDefinition{
		Title:            "Documents",
		IsRequired:       true,
		ValidationFields: []string{"documents.transcript", "documents.identification"},
	}
	essaysStep = models.StepDefinition{
		Title:            "Essays",
		IsRequired:       true,
		ValidationFields: []string{"essays.personalStatement"},
	}
	referencesStep = models.StepDefinition{
		Title:            "References",
		IsRequired:       true,
		ValidationFields: []string{"references.contacts"},
	}
	reviewStep = models.StepDefinition{
		Title:      "Review & Submit",
		IsRequired: false,
	}
)

func numbered(defs ...models.StepDefinition) []models.StepDefinition {
	out := make([]models.StepDefinition, len(defs))
	for i, d := range defs {
		d.ID = i + 1
		out[i] = d
	}
	return out
}

// Legacy is the five-step form used before references were collected.
func Legacy() *Catalog {
	c, _ := NewCatalog(VersionLegacy, numbered(personalStep, educationStep, documentsStep, essaysStep, reviewStep), admissionFields)
	return c
}

// Current is the six-step admissions form.
func Current() *Catalog {
	c, _ := NewCatalog(VersionCurrent, numbered(personalStep, educationStep, documentsStep, essaysStep, referencesStep, reviewStep), admissionFields)
	return c
}

// DefaultSections is the empty shape of a current-version record.
func DefaultSections() map[string]interface{} {
	return map[string]interface{}{
		"personalInfo": map[string]interface{}{
			"firstName": "",
			"lastName":  "",
			"email":     "",
			"phone":     "",
		},
		"education": map[string]interface{}{
			"institution":    "",
			"degree":         "",
			"fieldOfStudy":   "",
			"graduationYear": "",
		},
		"documents": map[string]interface{}{
			"transcript":     nil,
			"identification": nil,
		},
		"essays": map[string]interface{}{
			"personalStatement": "",
		},
		"references": map[string]interface{}{
			"contacts": []interface{}{},
		},
	}
}
