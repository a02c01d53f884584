// Package guard admits or rejects requests before an agent turn starts:
// session ownership, per-caller request rate, and per-session spend.
package guard

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/workflow"
)

// GuardConfig holds rate limits.
type GuardConfig struct {
	// RateLimitPerMinute caps requests per caller. Zero disables the limit.
	RateLimitPerMinute int
	// Burst is the number of requests a caller may make at once (default 5).
	Burst int
}

// Guard coordinates ownership, rate, and budget checks.
type Guard struct {
	Governor *workflow.BudgetGovernor
	Config   GuardConfig

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewGuard creates a Guard. gov may be nil to skip budget checks.
func NewGuard(gov *workflow.BudgetGovernor, cfg GuardConfig) *Guard {
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Guard{
		Governor: gov,
		Config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// CheckOwner rejects callers other than the session's owner.
func CheckOwner(sess *domain.Session, callerID string) error {
	if sess.UserID != callerID {
		return domain.NewEngineError(domain.ErrSessionForbidden.Code,
			fmt.Sprintf("session %s belongs to another caller", sess.ID))
	}
	return nil
}

// CheckRateLimit consumes one request token for callerID.
func (g *Guard) CheckRateLimit(callerID string) error {
	if g.Config.RateLimitPerMinute <= 0 {
		return nil
	}
	if !g.limiter(callerID).Allow() {
		return domain.ErrRateLimitExceeded
	}
	return nil
}

func (g *Guard) limiter(callerID string) *rate.Limiter {
	g.mu.RLock()
	l, ok := g.limiters[callerID]
	g.mu.RUnlock()
	if ok {
		return l
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.limiters[callerID]; ok {
		return l
	}
	perSecond := rate.Limit(float64(g.Config.RateLimitPerMinute) / 60)
	l = rate.NewLimiter(perSecond, g.Config.Burst)
	g.limiters[callerID] = l
	return l
}

// CheckBudget delegates to the BudgetGovernor. Returns ErrBudgetExceeded if
// the session has reached its cap.
func (g *Guard) CheckBudget(ctx context.Context, sessionID string) (domain.CostAction, error) {
	if g.Governor == nil {
		return domain.CostContinue, nil
	}
	action, used, err := g.Governor.CheckSession(ctx, sessionID)
	if err != nil {
		return domain.CostContinue, err
	}
	if action == domain.CostHalt {
		return action, domain.NewEngineError(domain.ErrBudgetExceeded.Code,
			fmt.Sprintf("session %s has used $%.2f of its $%.2f budget", sessionID, used, g.Governor.CapUSD))
	}
	return action, nil
}

// CheckAll runs the ownership, rate and budget checks for one chat turn.
// It short-circuits on the first error.
func (g *Guard) CheckAll(ctx context.Context, sess *domain.Session, callerID string) (domain.CostAction, error) {
	if err := CheckOwner(sess, callerID); err != nil {
		return domain.CostContinue, err
	}
	if err := g.CheckRateLimit(callerID); err != nil {
		return domain.CostContinue, err
	}
	return g.CheckBudget(ctx, sess.ID)
}
