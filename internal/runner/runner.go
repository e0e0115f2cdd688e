package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rentradar/internal/domain"
)

// JobStore is the slice of the persistence adapter that mutates job state.
// Jobs are mutated only here: every terminal state is either Completed or
// Failed with a human-readable reason, never a silent disappearance.
type JobStore interface {
	ReleaseJob(ctx context.Context, externalID string, attemptCount int, lastError string) error
	CompleteJob(ctx context.Context, externalID string, attemptCount int) error
	FailJob(ctx context.Context, externalID string, attemptCount int, lastError string) error
}

// CooldownQueue parks rate-limited jobs until their earliest retry time.
type CooldownQueue interface {
	ScheduleCooldown(ctx context.Context, externalID string, until time.Time) error
}

// Outcome describes how one attempt ended.
type Outcome struct {
	Status     domain.Status
	Kind       domain.ErrorKind
	Retrying   bool
	CooledDown bool
	Result     domain.ExtractionResult
	Err        error
}

// Runner wraps a single job attempt with the retry policy: FetchError and
// ValidationError retry on the next cycle, RateLimitError retries no sooner
// than the cooldown window, Fatal and exhausted-retry cases are terminal.
// Budget denials and storage faults consume no attempt at all.
type Runner struct {
	jobs      JobStore
	cooldowns CooldownQueue
	cooldown  time.Duration
	log       *zap.Logger
	now       func() time.Time
}

func New(jobs JobStore, cooldowns CooldownQueue, cooldown time.Duration, log *zap.Logger) *Runner {
	return &Runner{
		jobs:      jobs,
		cooldowns: cooldowns,
		cooldown:  cooldown,
		log:       log,
		now:       time.Now,
	}
}

// Execute runs one attempt of a claimed (processing) job and applies the
// resulting state transition. runOnce is the full attempt body: fetch,
// extract, validate, derive, persist.
func (r *Runner) Execute(ctx context.Context, job domain.QueueJob, runOnce func(context.Context) (domain.ExtractionResult, error)) (Outcome, error) {
	res, err := runOnce(ctx)
	if err == nil {
		attempt := job.AttemptCount + 1
		if serr := r.jobs.CompleteJob(ctx, job.ExternalID, attempt); serr != nil {
			return Outcome{}, serr
		}
		r.log.Info("job completed",
			zap.String("external_id", job.ExternalID),
			zap.Int("attempt", attempt))
		return Outcome{Status: domain.Completed, Result: res}, nil
	}

	kind := domain.Classify(err)

	// A budget denial mid-batch is not an attempt against the job.
	if kind == domain.KindBudget {
		if serr := r.jobs.ReleaseJob(ctx, job.ExternalID, job.AttemptCount, ""); serr != nil {
			return Outcome{}, serr
		}
		return Outcome{Status: domain.Pending, Kind: kind, Retrying: true, Err: err}, nil
	}

	// A storage fault is an infrastructure failure, not a job outcome: the
	// job goes back untouched and the error propagates to abort the cycle.
	if kind == domain.KindStorage {
		if serr := r.jobs.ReleaseJob(ctx, job.ExternalID, job.AttemptCount, ""); serr != nil {
			return Outcome{}, serr
		}
		return Outcome{Status: domain.Pending, Kind: kind, Err: err}, err
	}

	attempt := job.AttemptCount + 1
	exhausted := attempt >= job.MaxAttempts
	if attempt > job.MaxAttempts {
		attempt = job.MaxAttempts
	}

	switch {
	case kind == domain.KindFatal || exhausted:
		if serr := r.jobs.FailJob(ctx, job.ExternalID, attempt, err.Error()); serr != nil {
			return Outcome{}, serr
		}
		r.log.Warn("job failed terminally",
			zap.String("external_id", job.ExternalID),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return Outcome{Status: domain.Failed, Kind: kind, Err: err}, nil

	case kind == domain.KindRateLimit:
		if serr := r.jobs.ReleaseJob(ctx, job.ExternalID, attempt, err.Error()); serr != nil {
			return Outcome{}, serr
		}
		until := r.now().Add(r.cooldown)
		if serr := r.cooldowns.ScheduleCooldown(ctx, job.ExternalID, until); serr != nil {
			return Outcome{}, serr
		}
		r.log.Info("job cooling down after rate limit",
			zap.String("external_id", job.ExternalID),
			zap.Int("attempt", attempt),
			zap.Time("retry_after", until))
		return Outcome{Status: domain.Pending, Kind: kind, Retrying: true, CooledDown: true, Err: err}, nil

	default: // FetchError, ValidationError: retry on the next cycle
		if serr := r.jobs.ReleaseJob(ctx, job.ExternalID, attempt, err.Error()); serr != nil {
			return Outcome{}, serr
		}
		r.log.Info("job released for retry",
			zap.String("external_id", job.ExternalID),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return Outcome{Status: domain.Pending, Kind: kind, Retrying: true, Err: err}, nil
	}
}
