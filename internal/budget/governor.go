package budget

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
)

// Ledger is the durable per-day cost record the governor reads and appends.
type Ledger interface {
	AddCostLedger(ctx context.Context, date string, requests, tokens int, costUsd float64) error
	CostLedgerFor(ctx context.Context, date string) (domain.CostLedgerEntry, error)
}

// Governor enforces the daily spend ceiling on extraction calls. Granted
// reservations are counted in-flight until released, so concurrent workers
// cannot overshoot the limit by more than the actual-vs-estimate variance of
// a single call. If a process dies between the extraction call and Commit,
// that call's cost is undercounted; cost tracking is advisory.
type Governor struct {
	ledger   Ledger
	limitUsd float64
	log      *zap.Logger

	mu       sync.Mutex
	inflight float64
	now      func() time.Time
}

func New(ledger Ledger, dailyLimitUsd float64, log *zap.Logger) *Governor {
	return &Governor{
		ledger:   ledger,
		limitUsd: dailyLimitUsd,
		log:      log,
		now:      time.Now,
	}
}

// Reserve reports whether spending estimatedCost more today would stay within
// the daily limit, counting reservations already in flight. A granted reserve
// must be paired with Release.
func (g *Governor) Reserve(ctx context.Context, estimatedCost float64) (bool, error) {
	date := domain.LedgerDate(g.now())
	entry, err := g.ledger.CostLedgerFor(ctx, date)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry.EstimatedCostUsd+g.inflight+estimatedCost > g.limitUsd {
		g.log.Info("budget: reserve denied",
			zap.Float64("spent_usd", entry.EstimatedCostUsd),
			zap.Float64("inflight_usd", g.inflight),
			zap.Float64("estimated_usd", estimatedCost),
			zap.Float64("limit_usd", g.limitUsd))
		return false, nil
	}
	g.inflight += estimatedCost
	return true, nil
}

// Release settles a granted reservation, whether or not the call went out.
func (g *Governor) Release(estimatedCost float64) {
	g.mu.Lock()
	g.inflight -= estimatedCost
	if g.inflight < 0 {
		g.inflight = 0
	}
	g.mu.Unlock()
}

// Commit records a completed extraction call (success or failure; failed
// calls may still consume tokens). Rollover to a new date key happens here.
func (g *Governor) Commit(ctx context.Context, actualCost float64, tokens int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger.AddCostLedger(ctx, domain.LedgerDate(g.now()), 1, tokens, actualCost)
}

// Today returns the current day's ledger entry.
func (g *Governor) Today(ctx context.Context) (domain.CostLedgerEntry, error) {
	return g.ledger.CostLedgerFor(ctx, domain.LedgerDate(g.now()))
}
