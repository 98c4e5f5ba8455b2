package models

import "time"

// EdgeAgent is an on-premises responder connected over the edge WebSocket
// channel. Liveness is tracked by heartbeat; a sweep marks agents offline
// when heartbeats stop.
type EdgeAgent struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Hostname     string    `json:"hostname"`
	Version      string    `json:"version,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	IsOnline     bool      `json:"is_online"`
}

// EdgeActionStatus tracks a dispatched edge action through its lifetime.
type EdgeActionStatus string

const (
	EdgeActionPending   EdgeActionStatus = "PENDING"
	EdgeActionSent      EdgeActionStatus = "SENT"
	EdgeActionCompleted EdgeActionStatus = "COMPLETED"
	EdgeActionFailed    EdgeActionStatus = "FAILED"
	EdgeActionExpired   EdgeActionStatus = "EXPIRED"
)

// EdgeAction is a signed action dispatched to an edge agent. The signature
// covers the canonical payload; the nonce is single-use and the action is
// rejected after expires_at.
type EdgeAction struct {
	ActionID   string           `json:"action_id"`
	TenantID   string           `json:"tenant_id"`
	IncidentID string           `json:"incident_id"`
	ActionType string           `json:"action_type"`
	Target     string           `json:"target,omitempty"`
	Parameters map[string]any   `json:"parameters,omitempty"`
	Nonce      string           `json:"nonce"`
	ExpiresAt  time.Time        `json:"expires_at"`
	Signature  string           `json:"signature"`
	Status     EdgeActionStatus `json:"status"`
	Result     map[string]any   `json:"result,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}
