package agent

import (
	"encoding/json"
	"fmt"

	"github.com/hornet-soc/hornet/pkg/models"
)

// The three output shapes the core interprets. Everything else an agent
// emits stays an opaque blob on its finding.

// Verdict values from the analyst.
const (
	VerdictConfirmed = "CONFIRMED"
	VerdictDismissed = "DISMISSED"
	VerdictUncertain = "UNCERTAIN"
)

// Verdict is the analyst's structured conclusion.
type Verdict struct {
	Verdict    string          `json:"verdict"`
	Severity   models.Severity `json:"severity"`
	Confidence float64         `json:"confidence"`
	Summary    string          `json:"summary"`
}

// Oversight decisions.
const (
	DecisionApprove  = "APPROVE"
	DecisionPartial  = "PARTIAL"
	DecisionEscalate = "ESCALATE"
	DecisionVeto     = "VETO"
)

// OversightDecision is the overseer's structured ruling on a proposal.
type OversightDecision struct {
	Decision          string   `json:"decision"`
	Reason            string   `json:"reason"`
	ApprovedActionIDs []string `json:"approved_action_ids,omitempty"`
}

// ProposedAction is one action inside a responder proposal.
type ProposedAction struct {
	ID            string         `json:"id"`
	ActionType    string         `json:"action_type"`
	Target        string         `json:"target"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	RiskLevel     string         `json:"risk_level"`
	Justification string         `json:"justification,omitempty"`
	RollbackPlan  string         `json:"rollback_plan,omitempty"`
	Order         int            `json:"order"`
}

// Proposal is the responder's ordered action plan.
type Proposal struct {
	Actions        []ProposedAction    `json:"actions"`
	ParallelGroups [][]string          `json:"parallel_groups,omitempty"`
	Dependencies   map[string][]string `json:"dependencies,omitempty"`
}

// decode round-trips an opaque content map through JSON into a typed
// shape, tolerating the numeric and nested-map forms agents produce.
func decode(content map[string]any, into any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("re-encode agent content: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode agent content: %w", err)
	}
	return nil
}

// ParseVerdict extracts the analyst verdict from an output.
func ParseVerdict(out *Output) (*Verdict, error) {
	if out == nil || out.Content == nil {
		return nil, fmt.Errorf("analyst output has no content")
	}
	var v Verdict
	if err := decode(out.Content, &v); err != nil {
		return nil, err
	}
	switch v.Verdict {
	case VerdictConfirmed, VerdictDismissed, VerdictUncertain:
	default:
		return nil, fmt.Errorf("unknown verdict %q", v.Verdict)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return nil, fmt.Errorf("verdict confidence %v out of range", v.Confidence)
	}
	if v.Severity != "" && !models.ValidSeverity(v.Severity) {
		return nil, fmt.Errorf("unknown verdict severity %q", v.Severity)
	}
	return &v, nil
}

// ParseOversightDecision extracts the overseer's ruling from an output.
func ParseOversightDecision(out *Output) (*OversightDecision, error) {
	if out == nil || out.Content == nil {
		return nil, fmt.Errorf("oversight output has no content")
	}
	var d OversightDecision
	if err := decode(out.Content, &d); err != nil {
		return nil, err
	}
	switch d.Decision {
	case DecisionApprove, DecisionPartial, DecisionEscalate, DecisionVeto:
	default:
		return nil, fmt.Errorf("unknown oversight decision %q", d.Decision)
	}
	if d.Decision == DecisionPartial && len(d.ApprovedActionIDs) == 0 {
		return nil, fmt.Errorf("PARTIAL decision approved no actions")
	}
	return &d, nil
}

// ParseProposal extracts the responder's action plan from an output.
func ParseProposal(out *Output) (*Proposal, error) {
	if out == nil || out.Content == nil {
		return nil, fmt.Errorf("responder output has no content")
	}
	var p Proposal
	if err := decode(out.Content, &p); err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(p.Actions))
	for i, a := range p.Actions {
		if a.ID == "" {
			return nil, fmt.Errorf("proposed action %d has no id", i)
		}
		if ids[a.ID] {
			return nil, fmt.Errorf("duplicate proposed action id %q", a.ID)
		}
		ids[a.ID] = true
		if a.ActionType == "" {
			return nil, fmt.Errorf("proposed action %q has no action_type", a.ID)
		}
		if !models.ValidRiskLevel(models.RiskLevel(a.RiskLevel)) {
			return nil, fmt.Errorf("proposed action %q has unknown risk level %q", a.ID, a.RiskLevel)
		}
	}
	for id, preds := range p.Dependencies {
		if !ids[id] {
			return nil, fmt.Errorf("dependency key %q is not a proposed action", id)
		}
		for _, pred := range preds {
			if !ids[pred] {
				return nil, fmt.Errorf("dependency %q of %q is not a proposed action", pred, id)
			}
		}
	}
	for gi, group := range p.ParallelGroups {
		for _, id := range group {
			if !ids[id] {
				return nil, fmt.Errorf("parallel group %d names unknown action %q", gi, id)
			}
		}
	}
	return &p, nil
}
