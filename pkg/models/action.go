package models

import "time"

// ActionStatus tracks an action through its lifecycle. Transitions are
// monotonic; there is no return from a terminal status.
type ActionStatus string

// Action statuses.
const (
	ActionProposed   ActionStatus = "PROPOSED"
	ActionApproved   ActionStatus = "APPROVED"
	ActionRejected   ActionStatus = "REJECTED"
	ActionVetoed     ActionStatus = "VETOED"
	ActionExecuting  ActionStatus = "EXECUTING"
	ActionCompleted  ActionStatus = "COMPLETED"
	ActionFailed     ActionStatus = "FAILED"
	ActionRolledBack ActionStatus = "ROLLED_BACK"
)

// RiskLevel grades the blast radius of a proposed action.
type RiskLevel string

// Risk levels.
const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ValidRiskLevel reports whether r is a known risk level.
func ValidRiskLevel(r RiskLevel) bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Action is a single response step proposed for an incident. Order is the
// action's position within its proposal and drives execution sequencing.
type Action struct {
	ID             string         `json:"id"`
	IncidentID     string         `json:"incident_id"`
	TenantID       string         `json:"tenant_id"`
	ActionType     string         `json:"action_type"`
	Target         string         `json:"target"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Status         ActionStatus   `json:"status"`
	Order          int            `json:"order"`
	ProposedAt     time.Time      `json:"proposed_at"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	ExecutedAt     *time.Time     `json:"executed_at,omitempty"`
	RollbackHandle string         `json:"rollback_handle,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
}

// actionLadder defines the legal forward transitions per status.
var actionLadder = map[ActionStatus][]ActionStatus{
	ActionProposed:  {ActionApproved, ActionRejected, ActionVetoed},
	ActionApproved:  {ActionExecuting},
	ActionExecuting: {ActionCompleted, ActionFailed},
	ActionCompleted: {ActionRolledBack},
	ActionFailed:    {},
	ActionRejected:  {},
	ActionVetoed:    {},
}

// CanTransitionAction reports whether from → to is a legal action status
// transition.
func CanTransitionAction(from, to ActionStatus) bool {
	for _, t := range actionLadder[from] {
		if t == to {
			return true
		}
	}
	return false
}
