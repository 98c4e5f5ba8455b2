package agent

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/hornet-soc/hornet/pkg/models"
)

// Built-in heuristic personas. Production deployments register LLM-backed
// implementations; these rule-based versions keep the whole pipeline
// runnable (and testable) without an inference backend. Token costs are
// synthetic but deterministic so budget accounting behaves.

// suspiciousEventTypes maps event type prefixes to a base confidence.
var suspiciousEventTypes = map[string]float64{
	"auth.brute_force":     0.75,
	"auth.failed":          0.35,
	"auth.impossible":      0.80,
	"malware":              0.85,
	"exfil":                0.80,
	"lateral":              0.70,
	"privilege.escalation": 0.75,
	"c2":                   0.85,
	"recon":                0.40,
}

func severityBoost(s models.Severity) float64 {
	switch s {
	case models.SeverityCritical:
		return 0.20
	case models.SeverityHigh:
		return 0.10
	case models.SeverityMedium:
		return 0.05
	default:
		return 0
	}
}

func baseConfidence(ev *models.Event) float64 {
	if ev == nil {
		return 0
	}
	conf := 0.10
	for prefix, c := range suspiciousEventTypes {
		if strings.HasPrefix(ev.EventType, prefix) && c > conf {
			conf = c
		}
	}
	conf += severityBoost(ev.Severity)
	if conf > 1 {
		conf = 1
	}
	return conf
}

// detectionAgent scores events. Each squad member applies a small
// deterministic skew derived from its name so five members produce five
// distinct opinions, as a real squad would.
type detectionAgent struct {
	name string
}

// NewDetectionAgent returns a heuristic detection squad member.
func NewDetectionAgent(name string) Agent {
	return &detectionAgent{name: name}
}

func (a *detectionAgent) Name() string { return a.name }

func (a *detectionAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conf := baseConfidence(ac.Event)

	h := fnv.New32a()
	h.Write([]byte(a.name))
	skew := (float64(h.Sum32()%11) - 5) / 100 // -0.05 .. +0.05
	conf += skew
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	severity := models.SeverityLow
	if ac.Event != nil && models.ValidSeverity(ac.Event.Severity) {
		severity = ac.Event.Severity
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeDetection,
		Confidence: conf,
		Severity:   severity,
		Reasoning:  fmt.Sprintf("heuristic score for event type %q", eventType(ac)),
		Content: map[string]any{
			"event_type": eventType(ac),
			"score":      conf,
		},
		TokensUsed: 150 + int(h.Sum32()%100),
	}, nil
}

func eventType(ac *Context) string {
	if ac.Event == nil {
		return ""
	}
	return ac.Event.EventType
}

// routerAgent produces the routing decision entering the FSM: which
// specialist agents the incident activates and an initial confidence.
type routerAgent struct{ name string }

// NewRouterAgent returns the heuristic router persona.
func NewRouterAgent(name string) Agent { return &routerAgent{name: name} }

func (a *routerAgent) Name() string { return a.name }

func (a *routerAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conf := baseConfidence(ac.Event)
	for _, f := range ac.Findings {
		if f.FindingType == models.FindingTypeDetection && f.Confidence > conf {
			conf = f.Confidence
		}
	}
	activated := []string{"intel-collector", "analyst"}
	if conf >= 0.6 {
		activated = append(activated, "responder", "overseer")
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeRouting,
		Confidence: conf,
		Reasoning:  "routed on detection confidence",
		Content: map[string]any{
			"activated_agents":   activated,
			"initial_confidence": conf,
		},
		TokensUsed: 120,
	}, nil
}

// intelAgent annotates entities with synthetic reputation intel.
type intelAgent struct{ name string }

// NewIntelAgent returns the heuristic external-intel persona.
func NewIntelAgent(name string) Agent { return &intelAgent{name: name} }

func (a *intelAgent) Name() string { return a.name }

func (a *intelAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reputations := make(map[string]any, len(ac.Entities))
	worst := 0.0
	for _, e := range ac.Entities {
		h := fnv.New32a()
		h.Write([]byte(e.Type + ":" + e.Value))
		score := float64(h.Sum32()%100) / 100
		reputations[e.Type+":"+e.Value] = map[string]any{"risk": score}
		if score > worst {
			worst = score
		}
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeIntel,
		Confidence: worst,
		Reasoning:  fmt.Sprintf("looked up %d entities", len(ac.Entities)),
		Content:    map[string]any{"reputations": reputations},
		TokensUsed: 200 + 50*len(ac.Entities),
	}, nil
}

// analystAgent condenses findings into a verdict.
type analystAgent struct{ name string }

// NewAnalystAgent returns the heuristic analyst persona.
func NewAnalystAgent(name string) Agent { return &analystAgent{name: name} }

func (a *analystAgent) Name() string { return a.name }

func (a *analystAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peak := 0.0
	for _, f := range ac.Findings {
		if f.Confidence > peak {
			peak = f.Confidence
		}
	}
	verdict := VerdictUncertain
	switch {
	case peak >= 0.75:
		verdict = VerdictConfirmed
	case peak < 0.40:
		verdict = VerdictDismissed
	}
	severity := models.SeverityMedium
	if ac.Event != nil && models.ValidSeverity(ac.Event.Severity) {
		severity = ac.Event.Severity
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeVerdict,
		Confidence: peak,
		Severity:   severity,
		Reasoning:  fmt.Sprintf("peak finding confidence %.2f over %d findings", peak, len(ac.Findings)),
		Content: map[string]any{
			"verdict":    verdict,
			"severity":   severity,
			"confidence": peak,
			"summary":    fmt.Sprintf("%s activity, verdict %s", eventType(ac), verdict),
		},
		TokensUsed: 600,
	}, nil
}

// responderAgent proposes a containment plan from entity types and
// severity.
type responderAgent struct{ name string }

// NewResponderAgent returns the heuristic responder persona.
func NewResponderAgent(name string) Agent { return &responderAgent{name: name} }

func (a *responderAgent) Name() string { return a.name }

func (a *responderAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var actions []map[string]any
	order := 0
	add := func(id, actionType, target, risk, justification, rollback string) {
		actions = append(actions, map[string]any{
			"id":            id,
			"action_type":   actionType,
			"target":        target,
			"risk_level":    risk,
			"justification": justification,
			"rollback_plan": rollback,
			"order":         order,
		})
		order++
	}

	entities := append([]models.Entity(nil), ac.Entities...)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].Value < entities[j].Value
	})
	var ids []string
	for _, e := range entities {
		switch e.Type {
		case "ip":
			id := "block-" + e.Value
			add(id, "block_ip", e.Value, "MEDIUM", "source of confirmed hostile traffic", "unblock_ip")
			ids = append(ids, id)
		case "user":
			id := "disable-" + e.Value
			add(id, "disable_account", e.Value, "HIGH", "credential likely compromised", "enable_account")
			ids = append(ids, id)
		case "host":
			id := "isolate-" + e.Value
			add(id, "isolate_host", e.Value, "HIGH", "possible lateral movement source", "release_host")
			ids = append(ids, id)
		}
	}
	add("notify-soc", "notify", "soc-channel", "LOW", "keep humans informed", "")

	// Containment actions may run together; notification waits for them.
	deps := map[string]any{}
	if len(ids) > 0 {
		deps["notify-soc"] = ids
	}
	content := map[string]any{
		"actions":      actions,
		"dependencies": deps,
	}
	if len(ids) > 0 {
		content["parallel_groups"] = []any{ids, []any{"notify-soc"}}
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeProposal,
		Confidence: 0.7,
		Reasoning:  fmt.Sprintf("proposed %d actions for %d entities", len(actions), len(entities)),
		Content:    content,
		TokensUsed: 500,
	}, nil
}

// overseerAgent rules on proposals by worst risk level.
type overseerAgent struct{ name string }

// NewOverseerAgent returns the heuristic overseer persona.
func NewOverseerAgent(name string) Agent { return &overseerAgent{name: name} }

func (a *overseerAgent) Name() string { return a.name }

func (a *overseerAgent) Process(ctx context.Context, ac *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Read the latest proposal finding; approve LOW/MEDIUM outright, pass
	// only the safe subset when HIGH risk appears, escalate on CRITICAL.
	var proposal *Proposal
	for i := len(ac.Findings) - 1; i >= 0; i-- {
		f := ac.Findings[i]
		if f.FindingType != models.FindingTypeProposal {
			continue
		}
		var p Proposal
		if err := decode(f.Content, &p); err == nil {
			proposal = &p
		}
		break
	}
	if proposal == nil {
		return &Output{
			AgentName:  a.name,
			OutputType: models.FindingTypeOversight,
			Confidence: 1,
			Reasoning:  "no proposal to review",
			Content:    map[string]any{"decision": DecisionEscalate, "reason": "no proposal recorded"},
			TokensUsed: 100,
		}, nil
	}

	decision := DecisionApprove
	reason := "all actions within approved risk tolerance"
	var approved []string
	hasHigh, hasCritical := false, false
	for _, act := range proposal.Actions {
		switch models.RiskLevel(act.RiskLevel) {
		case models.RiskCritical:
			hasCritical = true
		case models.RiskHigh:
			hasHigh = true
		default:
			approved = append(approved, act.ID)
		}
	}
	switch {
	case hasCritical:
		decision = DecisionEscalate
		reason = "critical-risk action requires human review"
		approved = nil
	case hasHigh && len(approved) == 0:
		decision = DecisionEscalate
		reason = "every proposed action is high risk"
	case hasHigh:
		decision = DecisionPartial
		reason = "high-risk actions withheld pending human approval"
	default:
		approved = nil
	}
	content := map[string]any{"decision": decision, "reason": reason}
	if len(approved) > 0 {
		content["approved_action_ids"] = approved
	}
	return &Output{
		AgentName:  a.name,
		OutputType: models.FindingTypeOversight,
		Confidence: 0.9,
		Reasoning:  reason,
		Content:    content,
		TokensUsed: 300,
	}, nil
}

// RegisterBuiltins registers the heuristic squad and role personas under
// the configured names.
func RegisterBuiltins(r *Registry, squadNames []string, router, intel, analyst, responder, overseer string) error {
	for _, name := range squadNames {
		if err := r.Register(NewDetectionAgent(name)); err != nil {
			return err
		}
	}
	for _, pair := range []struct {
		name string
		a    Agent
	}{
		{router, NewRouterAgent(router)},
		{intel, NewIntelAgent(intel)},
		{analyst, NewAnalystAgent(analyst)},
		{responder, NewResponderAgent(responder)},
		{overseer, NewOverseerAgent(overseer)},
	} {
		if pair.name == "" {
			continue
		}
		if err := r.Register(pair.a); err != nil {
			return err
		}
	}
	return nil
}
