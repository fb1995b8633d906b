package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) *DispatchQueue {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return NewDispatchQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 30*time.Second)
}

func TestEnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	now := time.Now()

	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "job-1"); err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("expected duplicate enqueue to collapse, depth=%d", depth)
	}

	id, err := q.DequeueWithLease(ctx, now)
	if err != nil || id != "job-1" {
		t.Fatalf("dequeue: id=%q err=%v", id, err)
	}
	if id, _ := q.DequeueWithLease(ctx, now); id != "" {
		t.Fatalf("expected empty queue, got %q", id)
	}

	if n, _ := q.RecordAttempt(ctx, "job-1"); n != 1 {
		t.Fatalf("expected first attempt, got %d", n)
	}
	if err := q.Ack(ctx, "job-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if n, _ := q.Attempts(ctx, "job-1"); n != 0 {
		t.Fatalf("ack should clear attempts, got %d", n)
	}
	if reclaimed, _ := q.RequeueExpired(ctx, now.Add(time.Hour), 10); len(reclaimed) != 0 {
		t.Fatalf("acked job must not be reclaimed: %v", reclaimed)
	}
}

func TestScheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	now := time.Now()

	if err := q.Schedule(ctx, "later", now.Add(time.Minute)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if n, _ := q.PromoteScheduled(ctx, now, 10); n != 0 {
		t.Fatalf("job promoted too early")
	}
	if n, _ := q.PromoteScheduled(ctx, now.Add(2*time.Minute), 10); n != 1 {
		t.Fatalf("expected one promotion, got %d", n)
	}
	if id, _ := q.DequeueWithLease(ctx, now); id != "later" {
		t.Fatalf("expected promoted job, got %q", id)
	}
}

func TestRequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	now := time.Now()

	_ = q.Enqueue(ctx, "slow")
	if id, _ := q.DequeueWithLease(ctx, now); id != "slow" {
		t.Fatalf("dequeue failed")
	}
	_, _ = q.RecordAttempt(ctx, "slow")

	if ids, _ := q.RequeueExpired(ctx, now.Add(10*time.Second), 10); len(ids) != 0 {
		t.Fatalf("lease reclaimed before visibility timeout")
	}
	ids, err := q.RequeueExpired(ctx, now.Add(time.Minute), 10)
	if err != nil || len(ids) != 1 || ids[0] != "slow" {
		t.Fatalf("expected slow reclaimed, got %v err=%v", ids, err)
	}
	if n, _ := q.Attempts(ctx, "slow"); n != 1 {
		t.Fatalf("reclaim must keep attempts, got %d", n)
	}
	if id, _ := q.DequeueWithLease(ctx, now); id != "slow" {
		t.Fatalf("reclaimed job not ready")
	}
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	_ = q.MarkFailed(ctx, "a")
	_ = q.MarkFailed(ctx, "b")
	ids, err := q.Failed(ctx, 1)
	if err != nil || len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("expected latest failed job, got %v err=%v", ids, err)
	}
}
