// Package audit holds the append-only job audit trail and its paginated reads.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"boss-office/internal/models"
)

// Store is the append-only audit log. Implementations never update or delete
// an entry once appended.
type Store interface {
	// Append assigns an id and a server-side timestamp and stores the entry.
	Append(ctx context.Context, entry models.NewAuditEntry) (models.AuditEntry, error)
	// QueryByJob returns all entries for a job in insertion order.
	QueryByJob(ctx context.Context, jobID string) ([]models.AuditEntry, error)
	// ExistsForJob reports whether at least one entry exists for the job.
	ExistsForJob(ctx context.Context, jobID string) (bool, error)
}

// MemoryStore keeps audit entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	byJob   map[string][]int
	nextID  int64
	last    time.Time
	now     func() time.Time
}

// NewMemoryStore builds an empty in-memory audit log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byJob:  make(map[string][]int),
		nextID: 1,
		now:    time.Now,
	}
}

// Append stores the entry. Timestamps never go backwards within a store so
// that timestamp order and insertion order agree.
func (m *MemoryStore) Append(_ context.Context, in models.NewAuditEntry) (models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Nanosecond)
	}
	m.last = ts

	entry := models.AuditEntry{
		ID:         FormatID(m.nextID),
		JobID:      in.JobID,
		FromStatus: in.FromStatus,
		ToStatus:   in.ToStatus,
		Timestamp:  ts,
		Actor:      in.Actor,
		Note:       in.Note,
	}
	m.nextID++
	m.byJob[in.JobID] = append(m.byJob[in.JobID], len(m.entries))
	m.entries = append(m.entries, entry)
	return entry, nil
}

// QueryByJob returns a copy of the job's entries.
func (m *MemoryStore) QueryByJob(_ context.Context, jobID string) ([]models.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.byJob[jobID]
	out := make([]models.AuditEntry, 0, len(idx))
	for _, i := range idx {
		out = append(out, m.entries[i])
	}
	return out, nil
}

// ExistsForJob reports whether the job has any history.
func (m *MemoryStore) ExistsForJob(_ context.Context, jobID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byJob[jobID]) > 0, nil
}

// FormatID renders a store sequence number as a public audit id.
func FormatID(n int64) string {
	return fmt.Sprintf("audit_%d", n)
}
