package models

import (
	"strings"
	"time"
)

// Well-known event types. Upstream vocabularies vary, so EventType is an open tag
// and any other non-empty value is accepted as-is.
const (
	EventLoginSuccess = "login_success"
	EventLoginFailure = "login_failure"
	EventMFAChallenge = "mfa_challenge"
	EventMFASuccess   = "mfa_success"
	EventMFAFailure   = "mfa_failure"
	EventLogout       = "logout"
)

// Location is the coarse geolocation reported by the upstream API
type Location struct {
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
}

// AuthEvent represents a single authentication occurrence pulled from an upstream API.
// Values are created by the fetcher and treated as read-only afterwards.
type AuthEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	UserID        string    `json:"user_id"`
	SourceIP      string    `json:"source_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	Location      *Location `json:"location,omitempty"`
	AuthMethod    string    `json:"auth_method,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// IsFailure reports whether the event type denotes a failed or denied attempt
func (e AuthEvent) IsFailure() bool {
	return IsFailureType(e.EventType)
}

// IsFailureType reports whether an event type tag denotes a failure
func IsFailureType(eventType string) bool {
	t := strings.ToLower(eventType)
	return strings.Contains(t, "fail") || strings.Contains(t, "denied")
}
