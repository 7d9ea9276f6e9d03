package validation

// recordSchemaJSON describes the minimum shape a stored form record must have to be loaded.
// Sections are free-form objects; only metadata is constrained.
const recordSchemaJSON = `{
	"type": "object",
	"required": ["metadata"],
	"properties": {
		"metadata": {
			"type": "object",
			"required": ["currentStep", "totalSteps"],
			"properties": {
				"currentStep":    {"type": "integer"},
				"totalSteps":     {"type": "integer", "minimum": 1},
				"completedSteps": {"type": ["array", "null"], "items": {"type": "integer"}},
				"lastSaved":      {"type": ["string", "null"]},
				"status":         {"enum": ["", "draft", "submitted", "under_review", "accepted", "rejected"]},
				"schemaVersion":  {"type": "integer", "minimum": 0},
				"applicationId":  {"type": "string"}
			}
		}
	},
	"additionalProperties": {"type": ["object", "array", "null"]}
}`

// submissionSchemaJSON guards entries in the local submissions collection.
const submissionSchemaJSON = `{
	"type": "object",
	"required": ["applicationId", "status", "submittedAt"],
	"properties": {
		"applicationId": {"type": "string", "minLength": 1},
		"status":        {"enum": ["submitted", "under_review", "accepted", "rejected"]},
		"submittedAt":   {"type": "string"},
		"syncStatus":    {"enum": ["", "synced", "pending"]}
	}
}`

// RecordSchema returns the compiled draft schema.
func RecordSchema() *Schema {
	return mustCompile(recordSchemaJSON)
}

// SubmissionSchema returns the compiled submission schema.
func SubmissionSchema() *Schema {
	return mustCompile(submissionSchemaJSON)
}

func mustCompile(src string) *Schema {
	s, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return s
}
