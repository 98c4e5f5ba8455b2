package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionAction(t *testing.T) {
	allowed := []struct{ from, to ActionStatus }{
		{ActionProposed, ActionApproved},
		{ActionProposed, ActionRejected},
		{ActionProposed, ActionVetoed},
		{ActionApproved, ActionExecuting},
		{ActionExecuting, ActionCompleted},
		{ActionExecuting, ActionFailed},
		{ActionCompleted, ActionRolledBack},
	}
	for _, tt := range allowed {
		assert.True(t, CanTransitionAction(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	denied := []struct{ from, to ActionStatus }{
		{ActionApproved, ActionProposed},
		{ActionCompleted, ActionProposed},
		{ActionFailed, ActionExecuting},
		{ActionRejected, ActionApproved},
		{ActionVetoed, ActionExecuting},
		{ActionRolledBack, ActionCompleted},
		{ActionProposed, ActionCompleted},
	}
	for _, tt := range denied {
		assert.False(t, CanTransitionAction(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestValidRiskLevel(t *testing.T) {
	assert.True(t, ValidRiskLevel(RiskLow))
	assert.True(t, ValidRiskLevel(RiskCritical))
	assert.False(t, ValidRiskLevel("EXTREME"))
	assert.False(t, ValidRiskLevel(""))
}

func TestAPIKeyExpired(t *testing.T) {
	now := time.Now()

	k := &APIKey{}
	assert.False(t, k.Expired(now), "no expiry never expires")

	future := now.Add(time.Hour)
	k.ExpiresAt = &future
	assert.False(t, k.Expired(now))

	past := now.Add(-time.Minute)
	k.ExpiresAt = &past
	assert.True(t, k.Expired(now))
}
