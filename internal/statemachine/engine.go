package statemachine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"boss-office/internal/audit"
	"boss-office/internal/lock"
	"boss-office/internal/models"
	"boss-office/internal/store"
	"boss-office/internal/telemetry"
)

// JobRepository persists jobs. CreateJob and ApplyTransition must write the job
// and its audit entry as one unit; ApplyTransition only if the stored status
// still equals from.
type JobRepository interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, models.AuditEntry, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	ApplyTransition(ctx context.Context, from models.Status, job models.Job, entry models.NewAuditEntry) (models.Job, models.AuditEntry, error)
}

// Result is the outcome of a successful transition.
type Result struct {
	Job   models.Job
	Entry models.AuditEntry
}

// Hook observes committed transitions. It cannot fail the transition.
type Hook func(ctx context.Context, res Result)

// Engine is the single entry point for changing a job's status.
type Engine struct {
	audit      audit.Store
	jobs       JobRepository
	locker     lock.Locker
	logger     *slog.Logger
	onTerminal []Hook
}

// Option configures an Engine.
type Option func(*Engine)

// WithJobs enables Apply against a repository.
func WithJobs(repo JobRepository) Option {
	return func(e *Engine) { e.jobs = repo }
}

// WithLocker replaces the default in-process per-job lock.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// OnTerminal registers a hook run after a job enters a terminal status.
func OnTerminal(h Hook) Option {
	return func(e *Engine) { e.onTerminal = append(e.onTerminal, h) }
}

// New builds an engine writing to the given audit store.
func New(st audit.Store, opts ...Option) *Engine {
	e := &Engine{
		audit:  st,
		locker: lock.NewMemoryLocker(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate checks a proposed transition without side effects: edge legality
// first, then note length.
func Validate(from, to models.Status, actor models.Actor, note string) error {
	if _, err := models.ParseActor(string(actor)); err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownActor, actor)
	}
	if !IsAllowed(from, to) {
		return &TransitionError{From: from, To: to, Allowed: AllowedFrom(from)}
	}
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// Transition moves a caller-held job snapshot to a new status and appends one
// audit entry. Under the job's lock the snapshot's status must still match the
// latest audit entry, otherwise store.ErrStatusConflict is returned. On error
// nothing is written and the snapshot is untouched. The caller persists the
// returned job.
func (e *Engine) Transition(ctx context.Context, job models.Job, to models.Status, actor models.Actor, note string) (Result, error) {
	if err := Validate(job.Status, to, actor, note); err != nil {
		e.reject(job.JobID, job.Status, to, err)
		return Result{}, err
	}

	unlock, err := e.locker.Lock(ctx, job.JobID)
	if err != nil {
		return Result{}, fmt.Errorf("lock job %s: %w", job.JobID, err)
	}
	defer unlock()

	if err := e.checkLatest(ctx, job.JobID, job.Status); err != nil {
		return Result{}, err
	}

	entry, err := e.audit.Append(ctx, models.NewAuditEntry{
		JobID:      job.JobID,
		FromStatus: job.Status,
		ToStatus:   to,
		Actor:      actor,
		Note:       note,
	})
	if err != nil {
		return Result{}, fmt.Errorf("append audit entry: %w", err)
	}

	updated := job
	updated.Status = to
	res := Result{Job: updated, Entry: entry}
	e.committed(ctx, res)
	return res, nil
}

// CreateInitial writes the null → DRAFT entry for a job with no history.
func (e *Engine) CreateInitial(ctx context.Context, jobID string) (models.AuditEntry, error) {
	unlock, err := e.locker.Lock(ctx, jobID)
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("lock job %s: %w", jobID, err)
	}
	defer unlock()

	if err := e.checkLatest(ctx, jobID, models.StatusNone); err != nil {
		return models.AuditEntry{}, err
	}
	entry, err := e.audit.Append(ctx, models.InitialAuditEntry(jobID))
	if err != nil {
		return models.AuditEntry{}, fmt.Errorf("append initial audit entry: %w", err)
	}
	e.committed(ctx, Result{Job: models.Job{JobID: jobID, Status: models.StatusDraft}, Entry: entry})
	return entry, nil
}

// CreateJob inserts a DRAFT job with its null → DRAFT entry through the
// repository.
func (e *Engine) CreateJob(ctx context.Context, p store.CreateJobParams) (Result, error) {
	if e.jobs == nil {
		return Result{}, ErrNoRepository
	}
	job, entry, err := e.jobs.CreateJob(ctx, p)
	if err != nil {
		return Result{}, err
	}
	res := Result{Job: job, Entry: entry}
	e.committed(ctx, res)
	return res, nil
}

// checkLatest compares the job's newest audit entry against want. Callers hold
// the job's lock.
func (e *Engine) checkLatest(ctx context.Context, jobID string, want models.Status) error {
	entries, err := e.audit.QueryByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load audit trail %s: %w", jobID, err)
	}
	latest := models.StatusNone
	if len(entries) > 0 {
		latest = entries[len(entries)-1].ToStatus
	}
	if latest != want {
		telemetry.StatusConflicts.Inc()
		e.logger.Warn("stale job snapshot", "job_id", jobID, "expected", want.String(), "actual", latest.String())
		return fmt.Errorf("job %s is %s, not %s: %w", jobID, latest.String(), want.String(), store.ErrStatusConflict)
	}
	return nil
}

// Apply is the unit of work: under the job's lock it loads the current job,
// validates, lets mutate fill payload fields, and persists the job together
// with its audit entry.
func (e *Engine) Apply(ctx context.Context, jobID string, to models.Status, actor models.Actor, note string, mutate func(*models.Job)) (Result, error) {
	if e.jobs == nil {
		return Result{}, ErrNoRepository
	}

	unlock, err := e.locker.Lock(ctx, jobID)
	if err != nil {
		return Result{}, fmt.Errorf("lock job %s: %w", jobID, err)
	}
	defer unlock()

	current, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	if err := Validate(current.Status, to, actor, note); err != nil {
		e.reject(jobID, current.Status, to, err)
		return Result{}, err
	}

	updated := current
	if mutate != nil {
		mutate(&updated)
	}
	updated.JobID = current.JobID
	updated.Status = to

	saved, entry, err := e.jobs.ApplyTransition(ctx, current.Status, updated, models.NewAuditEntry{
		JobID:      jobID,
		FromStatus: current.Status,
		ToStatus:   to,
		Actor:      actor,
		Note:       note,
	})
	if err != nil {
		return Result{}, fmt.Errorf("apply transition %s → %s: %w", current.Status, to, err)
	}

	res := Result{Job: saved, Entry: entry}
	e.committed(ctx, res)
	return res, nil
}

func (e *Engine) committed(ctx context.Context, res Result) {
	telemetry.TransitionsTotal.WithLabelValues(res.Entry.FromStatus.String(), string(res.Entry.ToStatus), string(res.Entry.Actor)).Inc()
	e.logger.Info("audit entry created",
		"audit_id", res.Entry.ID,
		"job_id", res.Entry.JobID,
		"from", res.Entry.FromStatus.String(),
		"to", res.Entry.ToStatus,
		"actor", res.Entry.Actor,
	)
	if !IsTerminal(res.Job.Status) {
		return
	}
	for _, h := range e.onTerminal {
		h(ctx, res)
	}
}

func (e *Engine) reject(jobID string, from, to models.Status, err error) {
	reason := "invalid_transition"
	switch err {
	case ErrNoteTooLong:
		reason = "note_too_long"
	default:
		if _, ok := err.(*TransitionError); !ok {
			reason = "invalid_actor"
		}
	}
	telemetry.TransitionRejections.WithLabelValues(reason).Inc()
	e.logger.Warn("transition rejected", "job_id", jobID, "from", from.String(), "to", to, "reason", err.Error())
}
