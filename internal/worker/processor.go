// Package worker submits queued jobs to the Factory and records the outcome
// through the state machine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"boss-office/internal/config"
	"boss-office/internal/factory"
	"boss-office/internal/models"
	"boss-office/internal/queue"
	"boss-office/internal/statemachine"
	"boss-office/internal/store"
	"boss-office/internal/telemetry"
)

// JobReader loads the current job before dispatch.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (models.Job, error)
}

// Processor drives the dispatch loop.
type Processor struct {
	cfg       config.Config
	queue     *queue.DispatchQueue
	jobs      JobReader
	engine    *statemachine.Engine
	submitter factory.Submitter
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessor(cfg config.Config, q *queue.DispatchQueue, jobs JobReader, engine *statemachine.Engine, submitter factory.Submitter, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ScheduledBatchSize < 1 {
		cfg.ScheduledBatchSize = 100
	}
	if cfg.DispatchPoll <= 0 {
		cfg.DispatchPoll = time.Second
	}
	return &Processor{
		cfg:       cfg,
		queue:     q,
		jobs:      jobs,
		engine:    engine,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		worked, err := p.ProcessOnce(ctx)
		if err != nil {
			p.logger.Error("dispatch iteration failed", "err", err)
		}
		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.DispatchPoll):
		}
	}
}

// ProcessOnce promotes due retries, reclaims expired leases and handles at
// most one ready job. It reports whether a job was taken off the queue.
func (p *Processor) ProcessOnce(ctx context.Context) (bool, error) {
	now := p.now()
	if _, err := p.queue.PromoteScheduled(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil {
		return false, fmt.Errorf("promote scheduled: %w", err)
	}
	if reclaimed, err := p.queue.RequeueExpired(ctx, now, int64(p.cfg.ScheduledBatchSize)); err != nil {
		return false, fmt.Errorf("requeue expired: %w", err)
	} else if len(reclaimed) > 0 {
		p.logger.Warn("reclaimed expired dispatch leases", "job_ids", reclaimed)
	}
	if depth, err := p.queue.Depth(ctx); err == nil {
		telemetry.DispatchQueueDepth.Set(float64(depth))
	}

	jobID, err := p.queue.DequeueWithLease(ctx, now)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if jobID == "" {
		return false, nil
	}
	return true, p.handle(ctx, jobID)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	job, err := p.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		p.logger.Warn("dropping dispatch for unknown job", "job_id", jobID)
		return p.queue.Ack(ctx, jobID)
	}
	if err != nil {
		// Lease expiry puts the job back.
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !dispatchable(job.Status) {
		p.logger.Info("skipping dispatch", "job_id", jobID, "status", job.Status)
		return p.queue.Ack(ctx, jobID)
	}

	attempts, err := p.queue.RecordAttempt(ctx, jobID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	submitErr := p.submitter.Submit(ctx, job)
	if submitErr == nil {
		return p.markSent(ctx, job)
	}

	p.logger.Warn("factory submission failed", "job_id", jobID, "attempt", attempts, "err", submitErr)
	if attempts >= p.cfg.MaxAttempts {
		return p.giveUp(ctx, job, submitErr)
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, attempts)
	nextRun := p.now().Add(backoff)
	if err := p.queue.Release(ctx, jobID); err != nil {
		return err
	}
	if err := p.queue.Schedule(ctx, jobID, nextRun); err != nil {
		return err
	}
	telemetry.DispatchRetries.Inc()
	p.logger.Info("dispatch retry scheduled", "job_id", jobID, "attempt", attempts, "next_run", nextRun.UTC().Format(time.RFC3339))
	return nil
}

func (p *Processor) markSent(ctx context.Context, job models.Job) error {
	note := ""
	if job.Status == models.StatusRevisionRequested {
		note = fmt.Sprintf("resubmitted after revision %d", job.RevisionCount)
	}
	now := p.now().UTC()
	_, err := p.engine.Apply(ctx, job.JobID, models.StatusSent, models.ActorSystem, note, func(j *models.Job) {
		j.SubmittedAt = &now
		j.LastAttemptAt = &now
		j.FailureReason = nil
	})
	if err != nil && !superseded(err) {
		return fmt.Errorf("mark %s sent: %w", job.JobID, err)
	}
	if err != nil {
		p.logger.Warn("job changed while dispatching", "job_id", job.JobID, "err", err)
	} else {
		telemetry.DispatchSubmitted.Inc()
	}
	return p.queue.Ack(ctx, job.JobID)
}

// giveUp ends dispatch. Only DRAFT has a FAILED_SEND edge; a revision that
// cannot be resubmitted stays REVISION_REQUESTED and is listed as failed.
func (p *Processor) giveUp(ctx context.Context, job models.Job, cause error) error {
	telemetry.DispatchFailed.Inc()
	if job.Status == models.StatusDraft {
		now := p.now().UTC()
		reason := cause.Error()
		_, err := p.engine.Apply(ctx, job.JobID, models.StatusFailedSend, models.ActorSystem, truncate(reason, statemachine.MaxNoteLength), func(j *models.Job) {
			j.LastAttemptAt = &now
			j.FailureReason = &reason
		})
		if err != nil && !superseded(err) {
			return fmt.Errorf("mark %s failed: %w", job.JobID, err)
		}
	} else {
		p.logger.Error("revision could not be resubmitted", "job_id", job.JobID, "err", cause)
	}
	if err := p.queue.MarkFailed(ctx, job.JobID); err != nil {
		return err
	}
	return p.queue.Ack(ctx, job.JobID)
}

func dispatchable(s models.Status) bool {
	return s == models.StatusDraft || s == models.StatusRevisionRequested
}

// superseded reports errors meaning another writer moved the job first.
func superseded(err error) bool {
	return errors.Is(err, statemachine.ErrInvalidTransition) || errors.Is(err, store.ErrStatusConflict)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
