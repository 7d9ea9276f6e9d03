package models

import (
	"strings"
	"time"
)

// SyncStatus tracks whether the remote mirror has the submission.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
)

// SubmissionRecord is the immutable snapshot written at submission time. Only Status,
// UpdatedAt and SyncStatus may change afterwards.
type SubmissionRecord struct {
	ApplicationID  string      `json:"applicationId"`
	ApplicantName  string      `json:"applicantName"`
	ApplicantEmail string      `json:"applicantEmail"`
	Status         Status      `json:"status"`
	SubmittedAt    time.Time   `json:"submittedAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	SyncStatus     SyncStatus  `json:"syncStatus"`
	Minimal        bool        `json:"minimal,omitempty"`
	Warnings       []string    `json:"warnings,omitempty"`
	Form           *FormRecord `json:"formData,omitempty"`
}

// NormalizeEmail is the single form an applicant email is stored and matched in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Minimal projection keeps only identifying fields; used when local capacity is exhausted.
func (s *SubmissionRecord) MinimalProjection() *SubmissionRecord {
	return &SubmissionRecord{
		ApplicationID:  s.ApplicationID,
		ApplicantName:  s.ApplicantName,
		ApplicantEmail: s.ApplicantEmail,
		Status:         s.Status,
		SubmittedAt:    s.SubmittedAt,
		UpdatedAt:      s.UpdatedAt,
		SyncStatus:     s.SyncStatus,
		Minimal:        true,
	}
}

// MergeExisting keeps the stored content of an already-known submission and only lets the
// incoming copy move status forward. The returned record is what should be persisted.
func (s *SubmissionRecord) MergeExisting(existing *SubmissionRecord) *SubmissionRecord {
	if existing == nil {
		return s
	}
	merged := *existing
	if existing.Minimal && !s.Minimal {
		merged.Form = s.Form
		merged.Minimal = false
	}
	merged.Status = Furthest(existing.Status, s.Status)
	if s.UpdatedAt.After(existing.UpdatedAt) {
		merged.UpdatedAt = s.UpdatedAt
	}
	if s.SyncStatus == SyncStatusSynced {
		merged.SyncStatus = SyncStatusSynced
	}
	return &merged
}
