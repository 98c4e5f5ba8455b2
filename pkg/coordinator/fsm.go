package coordinator

import (
	"github.com/hornet-soc/hornet/pkg/models"
)

// transitions is the legal state graph. Anything absent is rejected.
var transitions = map[models.State][]models.State{
	models.StateIdle:       {models.StateDetection},
	models.StateDetection:  {models.StateEnrichment, models.StateClosed, models.StateEscalated},
	models.StateEnrichment: {models.StateAnalysis, models.StateEscalated},
	models.StateAnalysis:   {models.StateProposal, models.StateClosed, models.StateEscalated},
	models.StateProposal:   {models.StateOversight, models.StateClosed, models.StateEscalated},
	models.StateOversight:  {models.StateExecution, models.StateClosed, models.StateEscalated},
	models.StateExecution:  {models.StateClosed, models.StateError, models.StateEscalated},
	models.StateEscalated:  {models.StateClosed, models.StateAnalysis},
	models.StateError:      {models.StateClosed},
	models.StateClosed:     {},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to models.State) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Failure transitions land in ERROR from any live phase; the graph above
// only routes EXECUTION there, so error handling checks this separately.
func canFail(from models.State) bool {
	switch from {
	case models.StateClosed, models.StateError:
		return false
	}
	return true
}

// BudgetStatus is the result of the pre-phase token budget check.
type BudgetStatus int

// Budget gate outcomes, in increasing order of pressure.
const (
	BudgetOK BudgetStatus = iota
	BudgetWarning
	BudgetForceTransition
	BudgetCritical
)

func (b BudgetStatus) String() string {
	switch b {
	case BudgetOK:
		return "OK"
	case BudgetWarning:
		return "WARNING"
	case BudgetForceTransition:
		return "FORCE_TRANSITION"
	case BudgetCritical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// CheckBudget grades token usage against the budget. Gates: 0.80 warns,
// 0.90 forces a transition to the next terminal, 0.95 closes immediately.
func CheckBudget(used, budget int) BudgetStatus {
	if budget <= 0 {
		return BudgetOK
	}
	ratio := float64(used) / float64(budget)
	switch {
	case ratio < 0.80:
		return BudgetOK
	case ratio < 0.90:
		return BudgetWarning
	case ratio < 0.95:
		return BudgetForceTransition
	default:
		return BudgetCritical
	}
}
