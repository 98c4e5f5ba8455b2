// Package models contains request/response models and business domain types.
package models

import "time"

// Severity classifies events, incidents, and findings.
type Severity string

// Severity values, in ascending order of urgency.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ValidSeverity reports whether s is a known severity value.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Entity is a typed observable extracted from an event (ip, user, host, ...).
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Event is a single ingested security event. Immutable once published to
// the event stream.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Source     string         `json:"source"`
	SourceType string         `json:"source_type"`
	EventType  string         `json:"event_type"`
	Severity   Severity       `json:"severity"`
	Entities   []Entity       `json:"entities,omitempty"`
	RawPayload map[string]any `json:"raw_payload,omitempty"`
}
