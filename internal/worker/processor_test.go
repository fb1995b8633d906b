package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"boss-office/internal/config"
	"boss-office/internal/models"
	"boss-office/internal/queue"
	"boss-office/internal/statemachine"
	"boss-office/internal/store"
)

func TestBackoffWithJitter(t *testing.T) {
	rand.Seed(1)
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}

	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}

	if b := backoffWithJitter(base, max, 10); b > max {
		t.Fatalf("backoff above cap: %s", b)
	}
}

type fakeSubmitter struct {
	mu    sync.Mutex
	fails int
	calls []models.Job
}

func (f *fakeSubmitter) Submit(_ context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, job)
	if f.fails > 0 {
		f.fails--
		return errors.New("factory unreachable")
	}
	return nil
}

type harness struct {
	proc  *Processor
	queue *queue.DispatchQueue
	repo  *store.Memory
	sub   *fakeSubmitter
	clock *time.Time
}

func newHarness(t *testing.T, fails, maxAttempts int) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	q := queue.NewDispatchQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	repo := store.NewMemory()
	engine := statemachine.New(repo, statemachine.WithJobs(repo))
	sub := &fakeSubmitter{fails: fails}
	cfg := config.Config{MaxAttempts: maxAttempts, BackoffInitial: time.Second, BackoffMax: 4 * time.Second}

	p := NewProcessor(cfg, q, repo, engine, sub, nil)
	clock := time.Now()
	p.now = func() time.Time { return clock }
	return &harness{proc: p, queue: q, repo: repo, sub: sub, clock: &clock}
}

func (h *harness) newJob(t *testing.T) string {
	t.Helper()
	job, _, err := h.repo.CreateJob(context.Background(), store.CreateJobParams{OriginalFilename: "brief.docx", FileType: models.FileTypeDOCX})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := h.queue.Enqueue(context.Background(), job.JobID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job.JobID
}

func (h *harness) statuses(t *testing.T, jobID string) []models.Status {
	t.Helper()
	entries, _ := h.repo.QueryByJob(context.Background(), jobID)
	out := make([]models.Status, len(entries))
	for i, e := range entries {
		out[i] = e.ToStatus
	}
	return out
}

func TestProcessorSubmitsDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 3)
	id := h.newJob(t)

	worked, err := h.proc.ProcessOnce(ctx)
	if err != nil || !worked {
		t.Fatalf("process: worked=%v err=%v", worked, err)
	}
	job, _ := h.repo.GetJob(ctx, id)
	if job.Status != models.StatusSent || job.SubmittedAt == nil || job.LastAttemptAt == nil {
		t.Fatalf("unexpected job after dispatch %+v", job)
	}
	if got := h.statuses(t, id); len(got) != 2 || got[1] != models.StatusSent {
		t.Fatalf("unexpected audit trail %v", got)
	}
	if worked, _ := h.proc.ProcessOnce(ctx); worked {
		t.Fatalf("queue should be empty after ack")
	}
}

func TestProcessorRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1, 3)
	id := h.newJob(t)

	if _, err := h.proc.ProcessOnce(ctx); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	job, _ := h.repo.GetJob(ctx, id)
	if job.Status != models.StatusDraft {
		t.Fatalf("failed attempt must not change status, got %s", job.Status)
	}
	if worked, _ := h.proc.ProcessOnce(ctx); worked {
		t.Fatalf("retry ran before its backoff elapsed")
	}

	*h.clock = h.clock.Add(5 * time.Second)
	if _, err := h.proc.ProcessOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ = h.repo.GetJob(ctx, id)
	if job.Status != models.StatusSent {
		t.Fatalf("expected SENT after retry, got %s", job.Status)
	}
	if len(h.sub.calls) != 2 {
		t.Fatalf("expected 2 submissions got %d", len(h.sub.calls))
	}
}

func TestProcessorMarksFailedSendAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10, 2)
	id := h.newJob(t)

	for i := 0; i < 2; i++ {
		if _, err := h.proc.ProcessOnce(ctx); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		*h.clock = h.clock.Add(10 * time.Second)
	}
	job, _ := h.repo.GetJob(ctx, id)
	if job.Status != models.StatusFailedSend || job.FailureReason == nil || *job.FailureReason != "factory unreachable" {
		t.Fatalf("unexpected job %+v", job)
	}
	failed, _ := h.queue.Failed(ctx, 10)
	if len(failed) != 1 || failed[0] != id {
		t.Fatalf("expected job in failed list, got %v", failed)
	}
	if worked, _ := h.proc.ProcessOnce(ctx); worked {
		t.Fatalf("failed job must not be retried")
	}
}

func TestProcessorResubmitsRevision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 3)
	id := h.newJob(t)
	if _, err := h.proc.ProcessOnce(ctx); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	engine := h.proc.engine
	if _, err := engine.Apply(ctx, id, models.StatusReadyForReview, models.ActorFactory, "", nil); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if _, err := engine.Apply(ctx, id, models.StatusRevisionRequested, models.ActorBoss, "more contrast", func(j *models.Job) {
		j.RevisionCount++
	}); err != nil {
		t.Fatalf("revision: %v", err)
	}
	_ = h.queue.Enqueue(ctx, id)

	if _, err := h.proc.ProcessOnce(ctx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	entries, _ := h.repo.QueryByJob(ctx, id)
	last := entries[len(entries)-1]
	if last.FromStatus != models.StatusRevisionRequested || last.ToStatus != models.StatusSent || last.Note != "resubmitted after revision 1" {
		t.Fatalf("unexpected resend entry %+v", last)
	}
}

func TestProcessorSkipsJobsNotAwaitingDispatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0, 3)
	id := h.newJob(t)
	if _, err := h.proc.engine.Apply(ctx, id, models.StatusSent, models.ActorSystem, "", nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if worked, err := h.proc.ProcessOnce(ctx); err != nil || !worked {
		t.Fatalf("process: worked=%v err=%v", worked, err)
	}
	if len(h.sub.calls) != 0 {
		t.Fatalf("SENT job must not be submitted again")
	}

	_ = h.queue.Enqueue(ctx, "ghost")
	if _, err := h.proc.ProcessOnce(ctx); err != nil {
		t.Fatalf("unknown job should be acked, got %v", err)
	}
}
