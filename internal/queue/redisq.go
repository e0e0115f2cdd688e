package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

const (
	cooldownKey = "cooldown:jobs"
	pauseKey    = "sched:paused"
)

// RedisQ coordinates the scheduler across cycles: rate-limited jobs sit in
// a cooldown ZSET scored by their earliest retry time, and the operator /
// budget pause flag lives under a single key.
type RedisQ struct{ rdb *r.Client }

func New(rdb *r.Client) *RedisQ { return &RedisQ{rdb} }

// ScheduleCooldown parks a job until `until`; it is not eligible for
// selection before then.
func (q *RedisQ) ScheduleCooldown(ctx context.Context, externalID string, until time.Time) error {
	return q.rdb.ZAdd(ctx, cooldownKey, r.Z{Score: float64(until.Unix()), Member: externalID}).Err()
}

// ReleaseDue pops job IDs whose cooldown has elapsed.
func (q *RedisQ) ReleaseDue(ctx context.Context, now time.Time, batch int64) ([]string, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, cooldownKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, cooldownKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// CoolingSet returns the IDs of jobs whose cooldown has not yet elapsed.
// The scheduler skips these at selection time.
func (q *RedisQ) CoolingSet(ctx context.Context, now time.Time) (map[string]struct{}, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, cooldownKey, &r.ZRangeBy{
		Min: fmt.Sprintf("(%d", now.Unix()), Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// CoolingDown reports how many jobs are still parked.
func (q *RedisQ) CoolingDown(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, cooldownKey).Result()
}

// Pause raises the scheduling pause flag with a human-readable reason.
func (q *RedisQ) Pause(ctx context.Context, reason string) error {
	return q.rdb.Set(ctx, pauseKey, reason, 0).Err()
}

// Resume clears the pause flag.
func (q *RedisQ) Resume(ctx context.Context) error {
	return q.rdb.Del(ctx, pauseKey).Err()
}

// Paused returns the pause flag and its reason, if set.
func (q *RedisQ) Paused(ctx context.Context) (bool, string, error) {
	reason, err := q.rdb.Get(ctx, pauseKey).Result()
	if err == r.Nil {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, reason, nil
}
