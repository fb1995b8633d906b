package audit

import (
	"context"
	"fmt"
	"sort"
	"time"

	"boss-office/internal/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// EntryResponse is the public projection of an audit entry.
type EntryResponse struct {
	ID         string       `json:"id"`
	JobID      string       `json:"job_id"`
	FromStatus *string      `json:"from_status"`
	ToStatus   string       `json:"to_status"`
	Timestamp  string       `json:"timestamp"`
	Actor      models.Actor `json:"actor"`
	Note       *string      `json:"note,omitempty"`
}

// Pagination describes the slice of the trail returned.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// Page is one page of a job's audit trail.
type Page struct {
	Entries    []EntryResponse `json:"entries"`
	Pagination Pagination      `json:"pagination"`
}

// QueryService serves read-only, chronological pages of a job's audit log.
type QueryService struct {
	store Store
}

// NewQueryService wraps a store for paginated reads.
func NewQueryService(st Store) *QueryService {
	return &QueryService{store: st}
}

// GetAuditLog returns entries oldest first. page is clamped to >= 1 and limit
// to [1, MaxLimit]; a page past the end yields no entries.
func (q *QueryService) GetAuditLog(ctx context.Context, jobID string, page, limit int) (Page, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page < 1 {
		page = 1
	}

	entries, err := q.store.QueryByJob(ctx, jobID)
	if err != nil {
		return Page{}, fmt.Errorf("query audit log: %w", err)
	}
	sorted := make([]models.AuditEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	total := len(sorted)
	pages := (total + limit - 1) / limit

	out := make([]EntryResponse, 0)
	if page <= pages {
		start := (page - 1) * limit
		end := start + limit
		if end > total {
			end = total
		}
		for _, e := range sorted[start:end] {
			out = append(out, ToResponse(e))
		}
	}

	return Page{
		Entries: out,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: pages,
		},
	}, nil
}

// ToResponse projects an entry onto its stable public field names.
func ToResponse(e models.AuditEntry) EntryResponse {
	resp := EntryResponse{
		ID:        e.ID,
		JobID:     e.JobID,
		ToStatus:  string(e.ToStatus),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     e.Actor,
	}
	if e.FromStatus != models.StatusNone {
		from := string(e.FromStatus)
		resp.FromStatus = &from
	}
	if e.Note != "" {
		note := e.Note
		resp.Note = &note
	}
	return resp
}
