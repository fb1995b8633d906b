package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"boss-office/internal/audit"
	"boss-office/internal/models"
	"boss-office/internal/telemetry"
)

// Memory keeps jobs and audit entries in process memory. A single mutex covers
// the job write and the audit append so the pair is never observed half done.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
	log  *audit.MemoryStore
	now  func() time.Time
}

// NewMemory builds an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		jobs: make(map[string]models.Job),
		log:  audit.NewMemoryStore(),
		now:  time.Now,
	}
}

func (m *Memory) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, models.AuditEntry, error) {
	id := p.JobID
	if id == "" {
		id = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; ok {
		return models.Job{}, models.AuditEntry{}, ErrJobExists
	}

	now := m.now().UTC()
	job := models.Job{
		JobID:            id,
		OriginalFilename: p.OriginalFilename,
		FileType:         p.FileType,
		FileSizeBytes:    p.FileSizeBytes,
		FileStorageKey:   p.FileStorageKey,
		Status:           models.StatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	entry, err := m.log.Append(ctx, models.InitialAuditEntry(id))
	if err != nil {
		return models.Job{}, models.AuditEntry{}, err
	}
	m.jobs[id] = job
	return cloneJob(job), entry, nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return models.Job{}, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *Memory) ListJobs(_ context.Context, status models.Status) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if status != models.StatusNone && j.Status != status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].JobID > out[k].JobID
		}
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})
	return out, nil
}

// ApplyTransition stores job only if the current status is still from.
func (m *Memory) ApplyTransition(ctx context.Context, from models.Status, job models.Job, entry models.NewAuditEntry) (models.Job, models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[job.JobID]
	if !ok {
		return models.Job{}, models.AuditEntry{}, ErrJobNotFound
	}
	if cur.Status != from {
		telemetry.StatusConflicts.Inc()
		return models.Job{}, models.AuditEntry{}, ErrStatusConflict
	}

	saved := cloneJob(job)
	saved.CreatedAt = cur.CreatedAt
	saved.StateVersion = cur.StateVersion + 1
	saved.UpdatedAt = m.now().UTC()

	appended, err := m.log.Append(ctx, entry)
	if err != nil {
		return models.Job{}, models.AuditEntry{}, err
	}
	m.jobs[job.JobID] = saved
	return cloneJob(saved), appended, nil
}

func (m *Memory) Append(ctx context.Context, entry models.NewAuditEntry) (models.AuditEntry, error) {
	return m.log.Append(ctx, entry)
}

func (m *Memory) QueryByJob(ctx context.Context, jobID string) ([]models.AuditEntry, error) {
	return m.log.QueryByJob(ctx, jobID)
}

func (m *Memory) ExistsForJob(ctx context.Context, jobID string) (bool, error) {
	return m.log.ExistsForJob(ctx, jobID)
}

func (m *Memory) Ping(context.Context) error { return nil }

func cloneJob(j models.Job) models.Job {
	if j.QAReport != nil {
		report := make(map[string]any, len(j.QAReport))
		for k, v := range j.QAReport {
			report[k] = v
		}
		j.QAReport = report
	}
	return j
}
