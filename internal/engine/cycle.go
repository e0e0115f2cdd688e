package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rentradar/internal/domain"
	"rentradar/internal/extract"
	"rentradar/internal/pricing"
	"rentradar/internal/runner"
	"rentradar/internal/sched"
)

// minRefSamples is the smallest regional sample that counts as a usable
// market-rent reference.
const minRefSamples = 3

type Selector interface {
	SelectBatch(ctx context.Context, maxSize int) ([]sched.Selected, bool, error)
}

type Executor interface {
	Execute(ctx context.Context, job domain.QueueJob, runOnce func(context.Context) (domain.ExtractionResult, error)) (runner.Outcome, error)
}

type Governor interface {
	Reserve(ctx context.Context, estimatedCost float64) (bool, error)
	Release(estimatedCost float64)
	Commit(ctx context.Context, actualCost float64, tokens int) error
}

// Coordinator is the cross-cycle scheduling state: cooldown parking and the
// pause flag.
type Coordinator interface {
	ReleaseDue(ctx context.Context, now time.Time, batch int64) ([]string, error)
	Paused(ctx context.Context) (bool, string, error)
	Pause(ctx context.Context, reason string) error
}

// ResultStore is the slice of the persistence adapter the cycle writes
// results and feedback stats through.
type ResultStore interface {
	ReleaseJob(ctx context.Context, externalID string, attemptCount int, lastError string) error
	UpsertExtraction(ctx context.Context, externalID string, res domain.ExtractionResult) error
	UpsertPriceIntelligence(ctx context.Context, region string, pi domain.PriceIntelligence) error
	RegionAveragePrice(ctx context.Context, region string) (float64, int, error)
	UpdateSourceStats(ctx context.Context, sourceID string, success bool, durationMs int, rateFloor float64, minAttempts int) error
	SaveCycleReport(ctx context.Context, rep domain.CycleReport) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (extract.Response, error)
}

// Options are the cycle-level knobs, set once at startup.
type Options struct {
	Concurrency           int
	EstCostPerCall        float64
	DeactivateRateFloor   float64
	DeactivateMinAttempts int
}

// Engine wires the scheduler, retry controller, cost governor and pricing
// engine into the single outward entry point, RunCycle.
type Engine struct {
	selector  Selector
	executor  Executor
	governor  Governor
	coord     Coordinator
	store     ResultStore
	fetcher   Fetcher
	extractor Extractor
	pricer    *pricing.Engine
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func New(selector Selector, executor Executor, governor Governor, coord Coordinator,
	store ResultStore, fetcher Fetcher, extractor Extractor, pricer *pricing.Engine,
	opts Options, log *zap.Logger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Engine{
		selector:  selector,
		executor:  executor,
		governor:  governor,
		coord:     coord,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		pricer:    pricer,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

type cycleState struct {
	mu  sync.Mutex
	rep *domain.CycleReport
}

func (c *cycleState) addUsage(costUsd float64, tokens int) {
	c.mu.Lock()
	c.rep.CostUsd += costUsd
	c.rep.TokensUsed += tokens
	c.mu.Unlock()
}

// RunCycle executes one scheduling cycle: release due cooldowns, select a
// batch under the budget gate, run it on the bounded worker pool, and report.
// A budget or operator pause yields an empty cycle with Paused set; only
// storage or configuration failures abort with FatalError.
func (e *Engine) RunCycle(ctx context.Context, maxBatchSize int) (domain.CycleReport, error) {
	rep := domain.CycleReport{CycleID: uuid.NewString(), StartedAt: e.now()}
	state := &cycleState{rep: &rep}

	released, err := e.coord.ReleaseDue(ctx, e.now(), int64(maxBatchSize))
	if err != nil {
		return e.finish(ctx, rep, err)
	}
	if len(released) > 0 {
		e.log.Info("cooldowns released", zap.Int("count", len(released)))
	}

	paused, reason, err := e.coord.Paused(ctx)
	if err != nil {
		return e.finish(ctx, rep, err)
	}
	if paused {
		e.log.Info("cycle skipped: scheduling paused", zap.String("reason", reason))
		rep.Paused = true
		return e.finish(ctx, rep, nil)
	}

	batch, budgetPaused, err := e.selector.SelectBatch(ctx, maxBatchSize)
	if err != nil {
		return e.finish(ctx, rep, err)
	}
	rep.Paused = budgetPaused

	var budgetHit atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for _, sel := range batch {
		sel := sel
		g.Go(func() error {
			return e.processJob(gctx, sel, state, &budgetHit)
		})
	}
	if werr := g.Wait(); werr != nil {
		return e.finish(ctx, rep, werr)
	}

	if budgetHit.Load() {
		rep.Paused = true
		if perr := e.coord.Pause(ctx, "daily cost budget exhausted"); perr != nil {
			e.log.Error("failed to set pause flag", zap.Error(perr))
		}
	}
	return e.finish(ctx, rep, nil)
}

func (e *Engine) finish(ctx context.Context, rep domain.CycleReport, fatal error) (domain.CycleReport, error) {
	rep.FinishedAt = e.now()
	if fatal != nil {
		rep.FatalError = fatal.Error()
	}
	if serr := e.store.SaveCycleReport(ctx, rep); serr != nil {
		e.log.Error("failed to persist cycle report", zap.Error(serr))
	}
	e.log.Info("cycle finished",
		zap.String("cycle_id", rep.CycleID),
		zap.Int("attempted", rep.Attempted),
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("retried", rep.Retried),
		zap.Float64("cost_usd", rep.CostUsd),
		zap.Bool("paused", rep.Paused),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)))
	return rep, fatal
}

// processJob runs one claimed job through the retry controller and folds the
// outcome back into the source's performance stats.
func (e *Engine) processJob(ctx context.Context, sel sched.Selected, state *cycleState, budgetHit *atomic.Bool) error {
	// The budget may run out mid-batch; affected jobs go back untouched
	// (a denial is not an attempt).
	if budgetHit.Load() {
		return e.store.ReleaseJob(ctx, sel.Job.ExternalID, sel.Job.AttemptCount, "")
	}
	ok, err := e.governor.Reserve(ctx, e.opts.EstCostPerCall)
	if err != nil {
		return err
	}
	if !ok {
		budgetHit.Store(true)
		return e.store.ReleaseJob(ctx, sel.Job.ExternalID, sel.Job.AttemptCount, "")
	}
	defer e.governor.Release(e.opts.EstCostPerCall)

	start := e.now()
	out, err := e.executor.Execute(ctx, sel.Job, e.attempt(sel, state))
	if err != nil {
		return err
	}
	durationMs := int(e.now().Sub(start).Milliseconds())

	state.mu.Lock()
	state.rep.Attempted++
	switch {
	case out.Status == domain.Completed:
		state.rep.Succeeded++
	case out.Status == domain.Failed:
		state.rep.Failed++
	case out.Retrying:
		state.rep.Retried++
	}
	state.mu.Unlock()

	// A rate limit is our pacing, not source health: it is not a completed
	// attempt and never feeds the stats that can deactivate a source.
	if out.Kind == domain.KindRateLimit {
		return nil
	}

	success := out.Status == domain.Completed
	if serr := e.store.UpdateSourceStats(ctx, sel.Source.ID, success, durationMs,
		e.opts.DeactivateRateFloor, e.opts.DeactivateMinAttempts); serr != nil {
		e.log.Error("failed to update source stats",
			zap.String("source_id", sel.Source.ID), zap.Error(serr))
	}
	return nil
}

// attempt is the full body of one job attempt: fetch, extract, validate,
// derive, persist. Errors come back classified for the retry controller.
func (e *Engine) attempt(sel sched.Selected, state *cycleState) func(context.Context) (domain.ExtractionResult, error) {
	return func(ctx context.Context) (domain.ExtractionResult, error) {
		html, err := e.fetcher.Fetch(ctx, sel.Job.URL)
		if err != nil {
			return domain.ExtractionResult{}, err
		}

		resp, xerr := e.extractor.Extract(ctx, extract.Request{
			URL:         sel.Job.URL,
			HTMLContent: html,
			SourceLabel: sel.Source.Region,
		})
		// Any completed exchange with the service costs money, including a
		// rate-limited one. Transport-level failures never reached it.
		if xerr == nil || domain.Classify(xerr) == domain.KindRateLimit {
			if cerr := e.governor.Commit(ctx, resp.CostUsd, resp.TokensUsed); cerr != nil {
				e.log.Error("cost ledger commit failed", zap.Error(cerr))
			}
			state.addUsage(resp.CostUsd, resp.TokensUsed)
		}
		if xerr != nil {
			return domain.ExtractionResult{}, xerr
		}

		res, err := extract.Validate(resp.Data)
		if err != nil {
			return domain.ExtractionResult{}, err
		}

		ref, samples, err := e.store.RegionAveragePrice(ctx, sel.Source.Region)
		if err != nil {
			return domain.ExtractionResult{}, domain.E(domain.KindStorage, err)
		}
		mc := pricing.MarketContext{Demand: demandForSamples(samples)}
		if samples >= minRefSamples {
			mc.MarketRent = ref
		}
		pi := e.pricer.Derive(sel.Job.ExternalID, res, mc)

		if err := e.store.UpsertExtraction(ctx, sel.Job.ExternalID, res); err != nil {
			return domain.ExtractionResult{}, domain.E(domain.KindStorage, err)
		}
		if err := e.store.UpsertPriceIntelligence(ctx, sel.Source.Region, pi); err != nil {
			return domain.ExtractionResult{}, domain.E(domain.KindStorage, err)
		}
		return res, nil
	}
}

// demandForSamples maps regional market activity to a coarse demand level.
func demandForSamples(n int) domain.DemandLevel {
	switch {
	case n >= 20:
		return domain.DemandHigh
	case n >= 5:
		return domain.DemandMedium
	default:
		return domain.DemandLow
	}
}
