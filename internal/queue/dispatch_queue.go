// Package queue holds the Redis-backed dispatch queue feeding the Factory worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"boss-office/internal/config"
)

// NewClient builds a Redis client from config.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// DispatchQueue coordinates ready, in-flight and scheduled-retry job ids.
type DispatchQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	failedKey     string
	metaPrefix    string
	visibilityTTL time.Duration
}

// NewDispatchQueue builds a queue on client. In-flight leases expire after visibility.
func NewDispatchQueue(client *redis.Client, visibility time.Duration) *DispatchQueue {
	if visibility <= 0 {
		visibility = time.Minute
	}
	return &DispatchQueue{
		client:        client,
		readyKey:      "dispatch:ready",
		inflightKey:   "dispatch:inflight",
		scheduledKey:  "dispatch:scheduled",
		failedKey:     "dispatch:failed",
		metaPrefix:    "dispatch:meta:",
		visibilityTTL: visibility,
	}
}

func (q *DispatchQueue) metaKey(jobID string) string {
	return q.metaPrefix + jobID
}

// Enqueue makes a job ready for dispatch and resets its attempt counter. A job
// already waiting is not duplicated.
func (q *DispatchQueue) Enqueue(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "attempts", 0)
	pipe.ZRem(ctx, q.scheduledKey, jobID)
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.RPush(ctx, q.readyKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule defers a job until runAt.
func (q *DispatchQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err()
}

// PromoteScheduled moves due scheduled jobs into the ready list. It returns how many were promoted.
func (q *DispatchQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.dueMembers(ctx, q.scheduledKey, now, limit)
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next ready job and records it in flight until the
// visibility deadline. An empty id means nothing is ready.
func (q *DispatchQueue) DequeueWithLease(ctx context.Context, now time.Time) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, now.Add(q.visibilityTTL).UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *DispatchQueue) ExtendLease(ctx context.Context, jobID string, until time.Time) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{Score: float64(until.UnixMilli()), Member: jobID}).Err()
}

// RecordAttempt bumps and returns the job's dispatch attempt count.
func (q *DispatchQueue) RecordAttempt(ctx context.Context, jobID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.metaKey(jobID), "attempts", 1).Result()
	return int(n), err
}

// Attempts returns the recorded attempt count, zero if none.
func (q *DispatchQueue) Attempts(ctx context.Context, jobID string) (int, error) {
	v, err := q.client.HGet(ctx, q.metaKey(jobID), "attempts").Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}

// Release drops the in-flight lease but keeps the attempt counter, for retries.
func (q *DispatchQueue) Release(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *DispatchQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out and makes them ready again.
func (q *DispatchQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.dueMembers(ctx, q.inflightKey, now, limit)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// MarkFailed records a job that exhausted its attempts, for operational inspection.
func (q *DispatchQueue) MarkFailed(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.failedKey, jobID).Err()
}

// Failed reads the most recent failed job ids.
func (q *DispatchQueue) Failed(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.failedKey, -count, -1).Result()
}

// Depth returns ready plus scheduled jobs.
func (q *DispatchQueue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey)
	scheduled := pipe.ZCard(ctx, q.scheduledKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return ready.Val() + scheduled.Val(), nil
}

func (q *DispatchQueue) dueMembers(ctx context.Context, key string, now time.Time, limit int64) ([]string, error) {
	return q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
