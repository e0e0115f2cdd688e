package sched

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
)

// SourceStore is the slice of the persistence adapter the scheduler needs.
type SourceStore interface {
	ListActiveSources(ctx context.Context) ([]domain.SourceRecord, error)
	EnsurePendingJob(ctx context.Context, externalID, sourceID, url string, priorityScore, maxAttempts int) error
	ClaimJob(ctx context.Context, externalID string) (domain.QueueJob, bool, error)
}

// BudgetGate is consulted before any batch is issued. A granted Reserve is
// paired with Release once selection is done.
type BudgetGate interface {
	Reserve(ctx context.Context, estimatedCost float64) (bool, error)
	Release(estimatedCost float64)
}

// Cooldowns reports jobs parked by the rate-limit cooldown; those targets are
// skipped at selection time.
type Cooldowns interface {
	CoolingSet(ctx context.Context, now time.Time) (map[string]struct{}, error)
}

// Selected pairs a claimed job with the source that backs it.
type Selected struct {
	Job    domain.QueueJob
	Source domain.SourceRecord
}

// Scheduler picks the next batch of due crawl targets by priority score and
// claims their jobs atomically (selection and the pending -> processing
// transition happen in one step, so two schedulers never pick the same job).
type Scheduler struct {
	store       SourceStore
	gate        BudgetGate
	cooldowns   Cooldowns
	batchSize   int
	maxAttempts int
	estPerCall  float64
	log         *zap.Logger
	now         func() time.Time
}

func New(store SourceStore, gate BudgetGate, cooldowns Cooldowns, batchSize, maxAttempts int, estPerCall float64, log *zap.Logger) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Scheduler{
		store:       store,
		gate:        gate,
		cooldowns:   cooldowns,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		estPerCall:  estPerCall,
		log:         log,
		now:         time.Now,
	}
}

// SelectBatch returns up to maxSize claimed jobs in priority order. The
// second return value reports a budget pause: an empty batch with paused=true
// is a normal state, not an error.
func (s *Scheduler) SelectBatch(ctx context.Context, maxSize int) ([]Selected, bool, error) {
	if maxSize <= 0 || maxSize > s.batchSize {
		maxSize = s.batchSize
	}

	ok, err := s.gate.Reserve(ctx, s.estPerCall)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.log.Info("scheduler paused: daily budget exhausted")
		return nil, true, nil
	}
	defer s.gate.Release(s.estPerCall)

	sources, err := s.store.ListActiveSources(ctx)
	if err != nil {
		return nil, false, err
	}
	cooling, err := s.cooldowns.CoolingSet(ctx, s.now())
	if err != nil {
		return nil, false, err
	}

	type scored struct {
		src   domain.SourceRecord
		score int
	}
	candidates := make([]scored, 0, len(sources))
	for _, src := range sources {
		if _, parked := cooling[src.ID]; parked {
			continue
		}
		candidates = append(candidates, scored{src: src, score: s.Score(src)})
	}

	// Priority order; ties break oldest-created first so nothing starves.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].src.CreatedAt.Before(candidates[j].src.CreatedAt)
	})

	var batch []Selected
	for _, c := range candidates {
		if len(batch) == maxSize {
			break
		}
		externalID := c.src.ID
		if err := s.store.EnsurePendingJob(ctx, externalID, c.src.ID, c.src.URL, c.score, s.maxAttempts); err != nil {
			return nil, false, err
		}
		job, claimed, err := s.store.ClaimJob(ctx, externalID)
		if err != nil {
			return nil, false, err
		}
		if !claimed {
			// Lost the race or the target is mid-flight elsewhere.
			continue
		}
		batch = append(batch, Selected{Job: job, Source: c.src})
	}

	s.log.Info("batch selected",
		zap.Int("candidates", len(candidates)),
		zap.Int("claimed", len(batch)))
	return batch, false, nil
}

// Score computes tierWeight + recencyBonus - successPenalty for a source.
func (s *Scheduler) Score(src domain.SourceRecord) int {
	return tierWeight(src.PriorityTier) + s.recencyBonus(src) - successPenalty(src)
}

func tierWeight(tier domain.PriorityTier) int {
	switch tier {
	case domain.TierHigh:
		return 100
	case domain.TierMedium:
		return 50
	default:
		return 25
	}
}

// recencyBonus favors stale targets: 2 points per day since the last
// successful crawl, capped at 50. Never-crawled sources get the full bonus.
func (s *Scheduler) recencyBonus(src domain.SourceRecord) int {
	if src.LastSuccessAt == nil {
		return 50
	}
	days := int(s.now().Sub(*src.LastSuccessAt).Hours() / 24)
	bonus := 2 * days
	if bonus > 50 {
		bonus = 50
	}
	if bonus < 0 {
		bonus = 0
	}
	return bonus
}

// successPenalty discourages hammering a chronically failing source without
// ever excluding it: at most 50 points, so a high-tier source always retains
// a positive score. Untried sources are not penalized.
func successPenalty(src domain.SourceRecord) int {
	if src.TotalAttempts == 0 || src.SuccessRate >= 0.5 {
		return 0
	}
	return int(math.Round(100 * (0.5 - src.SuccessRate)))
}
