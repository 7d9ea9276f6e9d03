// internal/models/application.go
package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of an application record.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
)

// Rank orders statuses along the review pipeline; accepted and rejected share the final rank.
func (s Status) Rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusUnderReview:
		return 2
	case StatusAccepted, StatusRejected:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// IsDraft is true for records that may still be edited.
func (s Status) IsDraft() bool {
	return s == "" || s == StatusDraft
}

// IsFinal is true once a reviewer has decided.
func (s Status) IsFinal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransitionTo enforces draft -> submitted -> under_review -> {accepted|rejected}.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case "", StatusDraft:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusUnderReview
	case StatusUnderReview:
		return next == StatusAccepted || next == StatusRejected
	default:
		return false
	}
}

// Furthest returns whichever of a and b is further along; a wins ties.
func Furthest(a, b Status) Status {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Metadata tracks navigation and lifecycle state of a FormRecord.
type Metadata struct {
	CurrentStep    int        `json:"currentStep"`
	TotalSteps     int        `json:"totalSteps"`
	CompletedSteps []int      `json:"completedSteps"`
	LastSaved      *time.Time `json:"lastSaved,omitempty"`
	Status         Status     `json:"status"`
	SchemaVersion  int        `json:"schemaVersion,omitempty"`
	ApplicationID  string     `json:"applicationId,omitempty"`
}

// IsCompleted reports whether step id is in the completed set.
func (m Metadata) IsCompleted(id int) bool {
	for _, s := range m.CompletedSteps {
		if s == id {
			return true
		}
	}
	return false
}

// FormRecord is the versioned, partially filled application. Sections are keyed by
// name ("personalInfo", "education", ...) and serialize at the top level next to "metadata".
type FormRecord struct {
	Sections map[string]interface{}
	Metadata Metadata
}

// MetadataKey is reserved for Metadata and can never name a section.
const MetadataKey = "metadata"

// NewFormRecord returns an empty draft positioned on step 1.
func NewFormRecord(totalSteps, schemaVersion int) *FormRecord {
	return &FormRecord{
		Sections: map[string]interface{}{},
		Metadata: Metadata{
			CurrentStep:    1,
			TotalSteps:     totalSteps,
			CompletedSteps: []int{},
			Status:         StatusDraft,
			SchemaVersion:  schemaVersion,
		},
	}
}

// Section returns the named section as a map, or nil when absent or not an object.
func (r *FormRecord) Section(name string) map[string]interface{} {
	if r == nil || r.Sections == nil {
		return nil
	}
	m, _ := r.Sections[name].(map[string]interface{})
	return m
}

// AsMap exposes the record in the shape field paths resolve against.
func (r *FormRecord) AsMap() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Sections)+1)
	for k, v := range r.Sections {
		out[k] = v
	}
	meta, _ := json.Marshal(r.Metadata)
	var metaMap map[string]interface{}
	_ = json.Unmarshal(meta, &metaMap)
	out[MetadataKey] = metaMap
	return out
}

// Clone deep-copies sections and metadata.
func (r *FormRecord) Clone() *FormRecord {
	if r == nil {
		return nil
	}
	sections, _ := DeepCopy(r.Sections).(map[string]interface{})
	if sections == nil {
		sections = map[string]interface{}{}
	}
	meta := r.Metadata
	meta.CompletedSteps = append([]int{}, r.Metadata.CompletedSteps...)
	if r.Metadata.LastSaved != nil {
		ts := *r.Metadata.LastSaved
		meta.LastSaved = &ts
	}
	return &FormRecord{Sections: sections, Metadata: meta}
}

// SetCompletedSteps stores ids as a sorted set.
func (r *FormRecord) SetCompletedSteps(ids []int) {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	r.Metadata.CompletedSteps = out
}

// LastSavedAt returns the zero time when the record was never saved.
func (r *FormRecord) LastSavedAt() time.Time {
	if r == nil || r.Metadata.LastSaved == nil {
		return time.Time{}
	}
	return *r.Metadata.LastSaved
}

func (r FormRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Sections)+1)
	for k, v := range r.Sections {
		if k == MetadataKey {
			continue
		}
		out[k] = v
	}
	out[MetadataKey] = r.Metadata
	return json.Marshal(out)
}

func (r *FormRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("form record must be a JSON object")
	}

	r.Sections = make(map[string]interface{}, len(raw))
	r.Metadata = Metadata{}
	for k, v := range raw {
		if k == MetadataKey {
			if err := json.Unmarshal(v, &r.Metadata); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			continue
		}
		var val interface{}
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("section %s: %w", k, err)
		}
		r.Sections[k] = val
	}
	if r.Metadata.CompletedSteps == nil {
		r.Metadata.CompletedSteps = []int{}
	}
	return nil
}

// DeepCopy copies nested maps and slices; leaf values are copied by assignment.
func DeepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = DeepCopy(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = DeepCopy(val)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, val := range t {
			out[i], _ = DeepCopy(val).(map[string]interface{})
		}
		return out
	default:
		return v
	}
}

// DocumentMarker marks an uploaded attachment inside a documents section.
type DocumentMarker struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Type       string    `json:"type"`
	UploadedAt time.Time `json:"uploadedAt"`
}
