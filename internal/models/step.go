package models

// StepDefinition is static configuration for one page of the form.
type StepDefinition struct {
	ID               int      `json:"id"`
	Title            string   `json:"title"`
	IsRequired       bool     `json:"isRequired"`
	ValidationFields []string `json:"validationFields"`
}

// FieldKind selects the presence rule applied to a field.
type FieldKind string

const (
	FieldKindText FieldKind = "text"
	FieldKindFile FieldKind = "file"
	FieldKindList FieldKind = "list"
)

// FieldRule describes how a validation field is checked and labelled.
type FieldRule struct {
	Kind     FieldKind `json:"kind"`
	Label    string    `json:"label,omitempty"`
	MinItems int       `json:"minItems,omitempty"`
}

// ValidationError is produced per validation pass and never persisted.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ValidationCodeMissing  = "MISSING_REQUIRED"
	ValidationCodeTooFew   = "BELOW_MINIMUM"
	ValidationCodeNoUpload = "MISSING_UPLOAD"
)
