package model

import "time"

// NotificationKind names the event a user is told about.
type NotificationKind string

const (
	NotifyHolderDisplaced      NotificationKind = "holder_displaced"
	NotifyOwnershipRecovered   NotificationKind = "ownership_recovered"
	NotifyResolvedFulfilled    NotificationKind = "scenario_resolved_fulfilled"
	NotifyResolvedNotFulfilled NotificationKind = "scenario_resolved_unfulfilled"
	NotifyScenarioCancelled    NotificationKind = "scenario_cancelled"
)

// Notification is the payload handed to the notification gateway.
type Notification struct {
	UserID   int64            `json:"user_id,string"`
	Kind     NotificationKind `json:"kind"`
	Title    string           `json:"title"`
	Message  string           `json:"message"`
	LinkURL  string           `json:"link_url"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// OutboxMessage is a notification intent stored in the same transaction
// as the change that caused it.  SentAt stays nil until delivery succeeds.
type OutboxMessage struct {
	ID           int64
	Notification Notification
	Attempts     int
	LastError    string
	CreatedAt    time.Time
	SentAt       *time.Time
}
