package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/models"
)

func bruteForceContext() *Context {
	return &Context{
		IncidentID: "inc-1",
		TenantID:   "tenant-a",
		Event: &models.Event{
			ID:        "evt-1",
			EventType: "auth.brute_force",
			Severity:  models.SeverityHigh,
			Entities: []models.Entity{
				{Type: "ip", Value: "192.168.1.100"},
				{Type: "user", Value: "admin"},
			},
		},
		Entities: []models.Entity{
			{Type: "ip", Value: "192.168.1.100"},
			{Type: "user", Value: "admin"},
		},
		TokenBudget: models.DefaultTokenBudget,
	}
}

func TestDetectionAgentScoresSuspiciousEvents(t *testing.T) {
	a := NewDetectionAgent("signature-analyst")
	out, err := a.Process(context.Background(), bruteForceContext())
	require.NoError(t, err)
	assert.Equal(t, "signature-analyst", out.AgentName)
	assert.GreaterOrEqual(t, out.Confidence, 0.3)
	assert.Positive(t, out.TokensUsed)

	benign, err := a.Process(context.Background(), &Context{
		Event: &models.Event{EventType: "app.deploy", Severity: models.SeverityLow},
	})
	require.NoError(t, err)
	assert.Less(t, benign.Confidence, 0.3)
}

func TestDetectionSquadMembersDisagree(t *testing.T) {
	ac := bruteForceContext()
	seen := map[float64]bool{}
	for _, name := range []string{"signature-analyst", "anomaly-hunter", "threat-profiler"} {
		out, err := NewDetectionAgent(name).Process(context.Background(), ac)
		require.NoError(t, err)
		seen[out.Confidence] = true
	}
	assert.Greater(t, len(seen), 1, "squad members should not all agree exactly")
}

func TestAnalystVerdictFollowsFindings(t *testing.T) {
	analyst := NewAnalystAgent("analyst")
	ac := bruteForceContext()
	ac.Findings = []*models.Finding{
		{FindingType: models.FindingTypeDetection, Confidence: 0.9},
	}
	out, err := analyst.Process(context.Background(), ac)
	require.NoError(t, err)
	v, err := ParseVerdict(out)
	require.NoError(t, err)
	assert.Equal(t, VerdictConfirmed, v.Verdict)

	ac.Findings = []*models.Finding{
		{FindingType: models.FindingTypeDetection, Confidence: 0.1},
	}
	out, err = analyst.Process(context.Background(), ac)
	require.NoError(t, err)
	v, err = ParseVerdict(out)
	require.NoError(t, err)
	assert.Equal(t, VerdictDismissed, v.Verdict)
}

func TestResponderProposalParses(t *testing.T) {
	out, err := NewResponderAgent("responder").Process(context.Background(), bruteForceContext())
	require.NoError(t, err)
	p, err := ParseProposal(out)
	require.NoError(t, err)

	types := map[string]bool{}
	for _, a := range p.Actions {
		types[a.ActionType] = true
	}
	assert.True(t, types["block_ip"])
	assert.True(t, types["disable_account"])
	assert.True(t, types["notify"])
	// Notification depends on the containment actions.
	assert.NotEmpty(t, p.Dependencies["notify-soc"])
}

func TestOverseerWithholdsHighRisk(t *testing.T) {
	responderOut, err := NewResponderAgent("responder").Process(context.Background(), bruteForceContext())
	require.NoError(t, err)

	ac := bruteForceContext()
	ac.Findings = []*models.Finding{{
		FindingType: models.FindingTypeProposal,
		Content:     responderOut.Content,
	}}
	out, err := NewOverseerAgent("overseer").Process(context.Background(), ac)
	require.NoError(t, err)
	d, err := ParseOversightDecision(out)
	require.NoError(t, err)
	// disable_account is HIGH risk, so only part of the plan clears.
	assert.Equal(t, DecisionPartial, d.Decision)
	assert.Contains(t, d.ApprovedActionIDs, "notify-soc")
	assert.NotContains(t, d.ApprovedActionIDs, "disable-admin")
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	squad := []string{"signature-analyst", "anomaly-hunter", "threat-profiler", "identity-watcher", "network-sentinel"}
	require.NoError(t, RegisterBuiltins(r, squad, "router", "intel-collector", "analyst", "responder", "overseer"))
	assert.Len(t, r.Names(), 10)
	_, err := r.Get("network-sentinel")
	assert.NoError(t, err)
}
