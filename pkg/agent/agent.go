// Package agent defines the contract between the core engine and the
// worker personas that score, enrich, analyze, and oversee incidents. The
// core treats an agent as an opaque function from context to output; only
// three output shapes (verdict, proposal, oversight decision) are parsed.
package agent

import (
	"context"

	"github.com/hornet-soc/hornet/pkg/models"
)

// Context carries everything an agent may consider for one invocation.
// Agents must not mutate it.
type Context struct {
	IncidentID  string
	TenantID    string
	Event       *models.Event
	Entities    []models.Entity
	Findings    []*models.Finding
	TokenBudget int
}

// Output is the result of one agent invocation. Content is opaque to the
// core except for the three typed shapes in parse.go. TokensUsed is the
// agent's declared cost and feeds the incident budget.
type Output struct {
	AgentName  string          `json:"agent_name"`
	OutputType string          `json:"output_type"`
	Confidence float64         `json:"confidence"`
	Severity   models.Severity `json:"severity,omitempty"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Content    map[string]any  `json:"content,omitempty"`
	TokensUsed int             `json:"tokens_used"`
}

// Agent is one worker persona. Process must honor ctx cancellation and
// return within the caller's deadline.
type Agent interface {
	Name() string
	Process(ctx context.Context, ac *Context) (*Output, error)
}
