package models

import "time"

// State is an incident's position in the response state machine.
type State string

// Incident states. CLOSED is terminal.
const (
	StateIdle       State = "IDLE"
	StateDetection  State = "DETECTION"
	StateEnrichment State = "ENRICHMENT"
	StateAnalysis   State = "ANALYSIS"
	StateProposal   State = "PROPOSAL"
	StateOversight  State = "OVERSIGHT"
	StateExecution  State = "EXECUTION"
	StateEscalated  State = "ESCALATED"
	StateError      State = "ERROR"
	StateClosed     State = "CLOSED"
)

// ValidState reports whether s is a known incident state.
func ValidState(s State) bool {
	switch s {
	case StateIdle, StateDetection, StateEnrichment, StateAnalysis,
		StateProposal, StateOversight, StateExecution, StateEscalated,
		StateError, StateClosed:
		return true
	}
	return false
}

// Incident outcomes recorded when an incident reaches CLOSED.
const (
	OutcomeDismissed            = "dismissed"
	OutcomeResolved             = "resolved"
	OutcomePartialFailure       = "partial_failure"
	OutcomeBudgetExhausted      = "budget_exhausted"
	OutcomeTimeoutLowConfidence = "timeout_low_confidence"
	OutcomeError                = "error"
)

// DefaultTokenBudget is the per-incident token budget unless overridden.
const DefaultTokenBudget = 50000

// Incident is a tenant-scoped investigation. Mutable only by its owning
// coordinator run; exactly one coordinator is active per incident.
type Incident struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	State            State          `json:"state"`
	Severity         Severity       `json:"severity,omitempty"`
	Confidence       float64        `json:"confidence"`
	Summary          string         `json:"summary,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	Outcome          string         `json:"outcome,omitempty"`
	TokensUsed       int            `json:"tokens_used"`
	TokenBudget      int            `json:"token_budget"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
	CampaignID       string         `json:"campaign_id,omitempty"`
	EventData        map[string]any `json:"event_data,omitempty"`
}

// Finding is an immutable record produced by an agent during an incident
// phase. Append-only per incident.
type Finding struct {
	ID             string         `json:"id"`
	IncidentID     string         `json:"incident_id"`
	TenantID       string         `json:"tenant_id"`
	Agent          string         `json:"agent"`
	FindingType    string         `json:"finding_type"`
	Confidence     float64        `json:"confidence"`
	Severity       Severity       `json:"severity,omitempty"`
	Content        map[string]any `json:"content,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	TokensConsumed int            `json:"tokens_consumed"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Finding types the core interprets. Agents may emit others; those remain
// opaque blobs on the finding row.
const (
	FindingTypeDetection = "detection"
	FindingTypeRouting   = "routing"
	FindingTypeIntel     = "external_intel"
	FindingTypeRelated   = "related_incidents"
	FindingTypeVerdict   = "verdict"
	FindingTypeProposal  = "response_proposal"
	FindingTypeOversight = "oversight_decision"
)
