// Package models defines the database entity types.
package models

// Severity classifies a notification.
type Severity string

// Severity values.
const (
	SeverityRecoverable Severity = "recoverable"
	SeverityFatal       Severity = "fatal"
)

// Notification is a persisted user notification.
type Notification struct {
	ID        string
	Key       string
	Severity  Severity
	Text      string // log text that triggered it
	CreatedAt int64
}
