package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "job-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	exerciseMutualExclusion(t, NewMemoryLocker())
}

func TestMemoryLockerContextCancel(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "job-1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired got %v", err)
	}

	other, err := l.Lock(context.Background(), "job-2")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	other()
}

func TestMemoryLockerCleansUpSlots(t *testing.T) {
	l := NewMemoryLocker()
	unlock, _ := l.Lock(context.Background(), "job-1")
	unlock()
	unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.slots) != 0 {
		t.Fatalf("expected no slots left, got %d", len(l.slots))
	}
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisLocker(client, time.Second, 2*time.Millisecond), mr
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, l)
}

func TestRedisLockerTimesOutWhileHeld(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("lock:job:job-1") {
		t.Fatalf("expected lock key in redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "job-1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired got %v", err)
	}

	unlock()
	if mr.Exists("lock:job:job-1") {
		t.Fatalf("expected lock key removed after unlock")
	}
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Simulate expiry and takeover by another holder.
	if err := mr.Set("lock:job:job-1", "someone-else"); err != nil {
		t.Fatalf("set: %v", err)
	}
	unlock()
	got, _ := mr.Get("lock:job:job-1")
	if got != "someone-else" {
		t.Fatalf("unlock removed a lock it did not own")
	}
}
