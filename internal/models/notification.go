package models

import "time"

// NotificationKind classifies user-facing alerts.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

type Notification struct {
	ID            string           `json:"id"`
	Kind          NotificationKind `json:"kind"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	ApplicationID string           `json:"applicationId,omitempty"`
	Read          bool             `json:"read"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// Delivery records one outbound message for a notification.
type Delivery struct {
	NotificationID string `json:"notificationId"`
	Channel        string `json:"channel"` // "email", "sms"
	Status         string `json:"status"`  // "sent", "failed", "disabled"
	SentAt         string `json:"sentAt"`
}
