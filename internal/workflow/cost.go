package workflow

import (
	"context"
	"database/sql"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/store"
)

// BudgetGovernor enforces a per-session spend cap on agent usage.
type BudgetGovernor struct {
	DB       *sql.DB
	CostRepo *store.CostDeltaRepo

	// CapUSD is the per-session budget. Zero or less disables the check.
	CapUSD float64
	// WarnRatio is the fraction of budget at which a warning is issued (default 0.8).
	WarnRatio float64
	// HaltRatio is the fraction of budget at which execution is halted (default 1.0).
	HaltRatio float64
}

// NewBudgetGovernor creates a governor with standard thresholds.
func NewBudgetGovernor(db *sql.DB, capUSD float64) *BudgetGovernor {
	return &BudgetGovernor{
		DB:        db,
		CostRepo:  &store.CostDeltaRepo{},
		CapUSD:    capUSD,
		WarnRatio: 0.8,
		HaltRatio: 1.0,
	}
}

// CheckSession evaluates the recorded spend of a session against the cap and
// returns the action together with the amount used.
func (g *BudgetGovernor) CheckSession(ctx context.Context, sessionID string) (domain.CostAction, float64, error) {
	if g.CapUSD <= 0 || sessionID == "" {
		return domain.CostContinue, 0, nil
	}
	used, err := g.CostRepo.SumBySession(ctx, g.DB, sessionID)
	if err != nil {
		return domain.CostContinue, 0, err
	}
	return g.Evaluate(used), used, nil
}

// Evaluate maps an amount used to a budget action.
func (g *BudgetGovernor) Evaluate(used float64) domain.CostAction {
	return g.evaluate(used, g.CapUSD)
}

func (g *BudgetGovernor) evaluate(used, cap float64) domain.CostAction {
	if cap <= 0 {
		return domain.CostContinue
	}
	ratio := used / cap
	if ratio >= g.HaltRatio {
		return domain.CostHalt
	}
	if ratio >= g.WarnRatio {
		return domain.CostWarn
	}
	return domain.CostContinue
}
