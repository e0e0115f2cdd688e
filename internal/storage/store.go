package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"rentradar/internal/domain"
)

// Store is the Postgres persistence adapter (source of truth for sources,
// jobs, derived pricing, and the cost ledger). All upserts are idempotent.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

// InsertSource registers a new crawl target.
func (s *Store) InsertSource(ctx context.Context, src *domain.SourceRecord) (string, error) {
	id := src.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.Exec(ctx, `insert into sources(
id, url, region, priority_tier, is_active, success_count, total_attempts,
success_rate, avg_duration_ms, created_at
) values ($1,$2,$3,$4,true,0,0,0,0,now())
on conflict (id) do nothing`,
		id, src.URL, src.Region, src.PriorityTier,
	)
	return id, errors.Wrap(err, "insert source")
}

// ListActiveSources returns active sources that are not currently backing a
// processing job (the single-flight precondition for selection).
func (s *Store) ListActiveSources(ctx context.Context) ([]domain.SourceRecord, error) {
	rows, err := s.db.Query(ctx, `
select s.id, s.url, s.region, s.priority_tier, s.is_active, s.success_count,
       s.total_attempts, s.success_rate, s.avg_duration_ms, s.last_success_at, s.created_at
  from sources s
 where s.is_active
   and not exists (
         select 1 from queue_jobs j
          where j.source_id = s.id and j.status = 'processing')
 order by s.created_at asc`)
	if err != nil {
		return nil, errors.Wrap(err, "list sources")
	}
	defer rows.Close()

	var out []domain.SourceRecord
	for rows.Next() {
		var src domain.SourceRecord
		if err := rows.Scan(&src.ID, &src.URL, &src.Region, &src.PriorityTier, &src.IsActive,
			&src.SuccessCount, &src.TotalAttempts, &src.SuccessRate, &src.AvgDurationMs,
			&src.LastSuccessAt, &src.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// EnsurePendingJob creates (or, after a terminal run, resets) the job row for
// a target. Jobs currently processing are left untouched.
func (s *Store) EnsurePendingJob(ctx context.Context, externalID, sourceID, url string, priorityScore, maxAttempts int) error {
	_, err := s.db.Exec(ctx, `insert into queue_jobs(
id, external_id, source_id, url, status, priority_score, attempt_count, max_attempts, created_at
) values ($1,$2,$3,$4,'pending',$5,0,$6,now())
on conflict (external_id) do update set
  priority_score = excluded.priority_score,
  status = case when queue_jobs.status in ('completed','failed') then 'pending' else queue_jobs.status end,
  attempt_count = case when queue_jobs.status in ('completed','failed') then 0 else queue_jobs.attempt_count end,
  last_error = case when queue_jobs.status in ('completed','failed') then null else queue_jobs.last_error end,
  started_at = null,
  completed_at = null
where queue_jobs.status <> 'processing'`,
		uuid.NewString(), externalID, sourceID, url, priorityScore, maxAttempts,
	)
	return errors.Wrap(err, "ensure pending job")
}

// ClaimJob atomically moves a job from pending to processing and returns the
// claimed row. Returns false if another claimant won or the job is not pending.
func (s *Store) ClaimJob(ctx context.Context, externalID string) (domain.QueueJob, bool, error) {
	var j domain.QueueJob
	err := s.db.QueryRow(ctx, `update queue_jobs
   set status = 'processing', started_at = now()
 where external_id = $1 and status = 'pending'
returning id, external_id, source_id, url, status, priority_score, attempt_count,
          max_attempts, last_error, created_at, started_at, completed_at`, externalID).Scan(
		&j.ID, &j.ExternalID, &j.SourceID, &j.URL, &j.Status, &j.PriorityScore,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err == pgx.ErrNoRows {
		return domain.QueueJob{}, false, nil
	}
	if err != nil {
		return domain.QueueJob{}, false, errors.Wrap(err, "claim job")
	}
	return j, true, nil
}

// ReleaseJob returns a processing job to pending for a later retry.
func (s *Store) ReleaseJob(ctx context.Context, externalID string, attemptCount int, lastError string) error {
	_, err := s.db.Exec(ctx, `update queue_jobs
   set status = 'pending', attempt_count = $2, last_error = nullif($3, ''), started_at = null
 where external_id = $1 and status = 'processing'`, externalID, attemptCount, lastError)
	return errors.Wrap(err, "release job")
}

// CompleteJob marks a processing job terminal-successful.
func (s *Store) CompleteJob(ctx context.Context, externalID string, attemptCount int) error {
	_, err := s.db.Exec(ctx, `update queue_jobs
   set status = 'completed', attempt_count = $2, last_error = null, completed_at = now()
 where external_id = $1 and status = 'processing'`, externalID, attemptCount)
	return errors.Wrap(err, "complete job")
}

// FailJob marks a job terminal-failed with a human-readable reason.
func (s *Store) FailJob(ctx context.Context, externalID string, attemptCount int, lastError string) error {
	_, err := s.db.Exec(ctx, `update queue_jobs
   set status = 'failed', attempt_count = $2, last_error = $3, completed_at = now()
 where external_id = $1`, externalID, attemptCount, lastError)
	return errors.Wrap(err, "fail job")
}

// GetJob fetches one job by its external key.
func (s *Store) GetJob(ctx context.Context, externalID string) (domain.QueueJob, bool, error) {
	var j domain.QueueJob
	err := s.db.QueryRow(ctx, `
select id, external_id, source_id, url, status, priority_score, attempt_count,
       max_attempts, last_error, created_at, started_at, completed_at
  from queue_jobs where external_id = $1`, externalID).Scan(
		&j.ID, &j.ExternalID, &j.SourceID, &j.URL, &j.Status, &j.PriorityScore,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err == pgx.ErrNoRows {
		return domain.QueueJob{}, false, nil
	}
	if err != nil {
		return domain.QueueJob{}, false, errors.Wrap(err, "get job")
	}
	return j, true, nil
}

// RecentJobs lists the most recently created jobs for the API.
func (s *Store) RecentJobs(ctx context.Context, limit int) ([]domain.QueueJob, error) {
	rows, err := s.db.Query(ctx, `
select id, external_id, source_id, url, status, priority_score, attempt_count,
       max_attempts, last_error, created_at, started_at, completed_at
  from queue_jobs order by created_at desc limit $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "recent jobs")
	}
	defer rows.Close()

	var out []domain.QueueJob
	for rows.Next() {
		var j domain.QueueJob
		if err := rows.Scan(&j.ID, &j.ExternalID, &j.SourceID, &j.URL, &j.Status, &j.PriorityScore,
			&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, errors.Wrap(err, "scan job")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateSourceStats folds one completed attempt into a source's performance
// counters. Sources below the rate floor after minAttempts completed attempts
// are soft-deactivated, never deleted.
func (s *Store) UpdateSourceStats(ctx context.Context, sourceID string, success bool, durationMs int, rateFloor float64, minAttempts int) error {
	_, err := s.db.Exec(ctx, `update sources set
  total_attempts  = total_attempts + 1,
  success_count   = success_count + (case when $2 then 1 else 0 end),
  success_rate    = (success_count + (case when $2 then 1 else 0 end))::float8 / (total_attempts + 1),
  avg_duration_ms = ((avg_duration_ms * total_attempts) + $3) / (total_attempts + 1),
  last_success_at = case when $2 then now() else last_success_at end,
  is_active       = case
                      when total_attempts + 1 >= $4
                       and (success_count + (case when $2 then 1 else 0 end))::float8 / (total_attempts + 1) < $5
                      then false
                      else is_active
                    end
 where id = $1`, sourceID, success, durationMs, minAttempts, rateFloor)
	return errors.Wrap(err, "update source stats")
}

// UpsertExtraction stores the validated extraction payload for a target.
func (s *Store) UpsertExtraction(ctx context.Context, externalID string, res domain.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshal extraction")
	}
	_, err = s.db.Exec(ctx, `insert into extractions(external_id, payload, updated_at)
values ($1,$2,now())
on conflict (external_id) do update set payload = excluded.payload, updated_at = now()`,
		externalID, payload)
	return errors.Wrap(err, "upsert extraction")
}

// UpsertPriceIntelligence overwrites the derived pricing row for a target.
func (s *Store) UpsertPriceIntelligence(ctx context.Context, region string, pi domain.PriceIntelligence) error {
	_, err := s.db.Exec(ctx, `insert into price_intelligence(
external_id, region, base_price, effective_price, ai_price, concession_value,
market_position, confidence_score, competitiveness_score, updated_at
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
on conflict (external_id) do update set
  region = excluded.region,
  base_price = excluded.base_price,
  effective_price = excluded.effective_price,
  ai_price = excluded.ai_price,
  concession_value = excluded.concession_value,
  market_position = excluded.market_position,
  confidence_score = excluded.confidence_score,
  competitiveness_score = excluded.competitiveness_score,
  updated_at = now()`,
		pi.ExternalID, region, pi.BasePrice, pi.EffectivePrice, pi.AIPrice, pi.ConcessionValue,
		pi.MarketPosition, pi.ConfidenceScore, pi.CompetitivenessScore)
	return errors.Wrap(err, "upsert price intelligence")
}

// RegionAveragePrice returns the mean stored base price for a region over the
// last 30 days, with the sample size. Zero samples means no reference rent.
func (s *Store) RegionAveragePrice(ctx context.Context, region string) (float64, int, error) {
	var avg float64
	var n int
	err := s.db.QueryRow(ctx, `
select coalesce(avg(base_price), 0), count(*)
  from price_intelligence
 where region = $1 and updated_at > now() - interval '30 days'`, region).Scan(&avg, &n)
	return avg, n, errors.Wrap(err, "region average price")
}

// AddCostLedger folds one extraction call into the day's ledger entry,
// creating the entry on date rollover. Counters only ever increase.
func (s *Store) AddCostLedger(ctx context.Context, date string, requests, tokens int, costUsd float64) error {
	_, err := s.db.Exec(ctx, `insert into cost_ledger(date, requests_made, tokens_used, estimated_cost_usd)
values ($1,$2,$3,$4)
on conflict (date) do update set
  requests_made = cost_ledger.requests_made + excluded.requests_made,
  tokens_used = cost_ledger.tokens_used + excluded.tokens_used,
  estimated_cost_usd = cost_ledger.estimated_cost_usd + excluded.estimated_cost_usd`,
		date, requests, tokens, costUsd)
	return errors.Wrap(err, "add cost ledger")
}

// CostLedgerFor reads the ledger entry for a day key; zero entry if absent.
func (s *Store) CostLedgerFor(ctx context.Context, date string) (domain.CostLedgerEntry, error) {
	e := domain.CostLedgerEntry{Date: date}
	err := s.db.QueryRow(ctx, `
select requests_made, tokens_used, estimated_cost_usd
  from cost_ledger where date = $1`, date).Scan(&e.RequestsMade, &e.TokensUsed, &e.EstimatedCostUsd)
	if err == pgx.ErrNoRows {
		return e, nil
	}
	return e, errors.Wrap(err, "cost ledger")
}

// SaveCycleReport records the outcome of one scheduling cycle.
func (s *Store) SaveCycleReport(ctx context.Context, rep domain.CycleReport) error {
	_, err := s.db.Exec(ctx, `insert into cycle_reports(
cycle_id, started_at, finished_at, paused, attempted, succeeded, failed,
retried, cost_usd, tokens_used, fatal_error
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,nullif($11,''))`,
		rep.CycleID, rep.StartedAt, rep.FinishedAt, rep.Paused, rep.Attempted, rep.Succeeded,
		rep.Failed, rep.Retried, rep.CostUsd, rep.TokensUsed, rep.FatalError)
	return errors.Wrap(err, "save cycle report")
}

// LatestCycleReport returns the most recent cycle summary.
func (s *Store) LatestCycleReport(ctx context.Context) (domain.CycleReport, bool, error) {
	var rep domain.CycleReport
	var fatal *string
	err := s.db.QueryRow(ctx, `
select cycle_id, started_at, finished_at, paused, attempted, succeeded, failed,
       retried, cost_usd, tokens_used, fatal_error
  from cycle_reports order by started_at desc limit 1`).Scan(
		&rep.CycleID, &rep.StartedAt, &rep.FinishedAt, &rep.Paused, &rep.Attempted,
		&rep.Succeeded, &rep.Failed, &rep.Retried, &rep.CostUsd, &rep.TokensUsed, &fatal)
	if err == pgx.ErrNoRows {
		return rep, false, nil
	}
	if err != nil {
		return rep, false, errors.Wrap(err, "latest cycle report")
	}
	if fatal != nil {
		rep.FatalError = *fatal
	}
	return rep, true, nil
}

// ListSources returns every source with its performance stats.
func (s *Store) ListSources(ctx context.Context) ([]domain.SourceRecord, error) {
	rows, err := s.db.Query(ctx, `
select id, url, region, priority_tier, is_active, success_count, total_attempts,
       success_rate, avg_duration_ms, last_success_at, created_at
  from sources order by created_at asc`)
	if err != nil {
		return nil, errors.Wrap(err, "list all sources")
	}
	defer rows.Close()

	var out []domain.SourceRecord
	for rows.Next() {
		var src domain.SourceRecord
		if err := rows.Scan(&src.ID, &src.URL, &src.Region, &src.PriorityTier, &src.IsActive,
			&src.SuccessCount, &src.TotalAttempts, &src.SuccessRate, &src.AvgDurationMs,
			&src.LastSuccessAt, &src.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
