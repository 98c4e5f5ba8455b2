package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hornet-soc/hornet/pkg/models"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]any
		wantErr bool
	}{
		{
			name: "confirmed",
			content: map[string]any{
				"verdict": "CONFIRMED", "severity": "HIGH",
				"confidence": 0.92, "summary": "credential stuffing",
			},
		},
		{
			name:    "unknown verdict",
			content: map[string]any{"verdict": "MAYBE", "confidence": 0.5},
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			content: map[string]any{"verdict": "DISMISSED", "confidence": 1.5},
			wantErr: true,
		},
		{
			name:    "bad severity",
			content: map[string]any{"verdict": "UNCERTAIN", "confidence": 0.5, "severity": "WILD"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(&Output{Content: tt.content})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, VerdictConfirmed, v.Verdict)
			assert.Equal(t, models.SeverityHigh, v.Severity)
			assert.InDelta(t, 0.92, v.Confidence, 1e-9)
		})
	}

	_, err := ParseVerdict(nil)
	assert.Error(t, err)
}

func TestParseOversightDecision(t *testing.T) {
	d, err := ParseOversightDecision(&Output{Content: map[string]any{
		"decision":            "PARTIAL",
		"reason":              "high risk withheld",
		"approved_action_ids": []any{"a-1", "a-2"},
	}})
	require.NoError(t, err)
	assert.Equal(t, DecisionPartial, d.Decision)
	assert.Equal(t, []string{"a-1", "a-2"}, d.ApprovedActionIDs)

	// PARTIAL without any approved actions is malformed.
	_, err = ParseOversightDecision(&Output{Content: map[string]any{
		"decision": "PARTIAL", "reason": "x",
	}})
	assert.Error(t, err)

	_, err = ParseOversightDecision(&Output{Content: map[string]any{
		"decision": "SHRUG",
	}})
	assert.Error(t, err)

	d, err = ParseOversightDecision(&Output{Content: map[string]any{
		"decision": "VETO", "reason": "patient_safety",
	}})
	require.NoError(t, err)
	assert.Equal(t, "patient_safety", d.Reason)
}

func TestParseProposal(t *testing.T) {
	content := map[string]any{
		"actions": []any{
			map[string]any{"id": "a-1", "action_type": "block_ip", "target": "10.0.0.1", "risk_level": "MEDIUM", "order": 0},
			map[string]any{"id": "a-2", "action_type": "notify", "target": "soc", "risk_level": "LOW", "order": 1},
		},
		"parallel_groups": []any{[]any{"a-1"}, []any{"a-2"}},
		"dependencies":    map[string]any{"a-2": []any{"a-1"}},
	}
	p, err := ParseProposal(&Output{Content: content})
	require.NoError(t, err)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, "block_ip", p.Actions[0].ActionType)
	assert.Equal(t, []string{"a-1"}, p.Dependencies["a-2"])
}

func TestParseProposalRejectsMalformedPlans(t *testing.T) {
	tests := []struct {
		name    string
		content map[string]any
	}{
		{
			name: "duplicate action id",
			content: map[string]any{"actions": []any{
				map[string]any{"id": "a-1", "action_type": "notify", "risk_level": "LOW"},
				map[string]any{"id": "a-1", "action_type": "notify", "risk_level": "LOW"},
			}},
		},
		{
			name: "unknown risk level",
			content: map[string]any{"actions": []any{
				map[string]any{"id": "a-1", "action_type": "notify", "risk_level": "EXTREME"},
			}},
		},
		{
			name: "dependency on unknown action",
			content: map[string]any{
				"actions": []any{
					map[string]any{"id": "a-1", "action_type": "notify", "risk_level": "LOW"},
				},
				"dependencies": map[string]any{"a-1": []any{"ghost"}},
			},
		},
		{
			name: "parallel group names unknown action",
			content: map[string]any{
				"actions": []any{
					map[string]any{"id": "a-1", "action_type": "notify", "risk_level": "LOW"},
				},
				"parallel_groups": []any{[]any{"ghost"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProposal(&Output{Content: tt.content})
			assert.Error(t, err)
		})
	}
}
