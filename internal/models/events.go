package models

import "time"

// EventType identifies a domain event on the in-process bus.
type EventType string

const (
	EventApplicationSubmitted   EventType = "APPLICATION_SUBMITTED"
	EventApplicationUnderReview EventType = "APPLICATION_UNDER_REVIEW"
	EventApplicationApproved    EventType = "APPLICATION_APPROVED"
	EventApplicationRejected    EventType = "APPLICATION_REJECTED"
)

// DomainEvent is a fire-and-forget notification.
type DomainEvent struct {
	Type       EventType
	Payload    interface{}
	OccurredAt time.Time
}

// ApplicationSubmitted is the payload of APPLICATION_SUBMITTED.
type ApplicationSubmitted struct {
	ApplicationID  string `json:"applicationId"`
	ApplicantName  string `json:"applicantName"`
	ApplicantEmail string `json:"applicantEmail"`
}

// ApplicationStatusChanged is the payload of the reviewer-driven events.
type ApplicationStatusChanged struct {
	ApplicationID  string `json:"applicationId"`
	ApplicantName  string `json:"applicantName"`
	ApplicantEmail string `json:"applicantEmail"`
	ApplicantPhone string `json:"applicantPhone,omitempty"`
	From           Status `json:"from"`
	To             Status `json:"to"`
	Reason         string `json:"reason,omitempty"`
}

// EventForStatus maps a reviewer decision to its bus event.
func EventForStatus(s Status) (EventType, bool) {
	switch s {
	case StatusSubmitted:
		return EventApplicationSubmitted, true
	case StatusUnderReview:
		return EventApplicationUnderReview, true
	case StatusAccepted:
		return EventApplicationApproved, true
	case StatusRejected:
		return EventApplicationRejected, true
	}
	return "", false
}
