// Package store persists jobs and their audit trail.
package store

import (
	"context"
	"errors"

	"boss-office/internal/audit"
	"boss-office/internal/models"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	JobID            string
	OriginalFilename string
	FileType         models.FileType
	FileSizeBytes    int64
	FileStorageKey   string
}

// Repository is everything the service needs from a backing store. The audit
// half is append-only; no method updates or removes an entry.
type Repository interface {
	audit.Store

	// CreateJob inserts a DRAFT job and its null → DRAFT entry as one unit.
	CreateJob(ctx context.Context, p CreateJobParams) (models.Job, models.AuditEntry, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
	// ListJobs returns jobs newest first, optionally filtered by status.
	ListJobs(ctx context.Context, status models.Status) ([]models.Job, error)
	ApplyTransition(ctx context.Context, from models.Status, job models.Job, entry models.NewAuditEntry) (models.Job, models.AuditEntry, error)
	Ping(ctx context.Context) error
}
