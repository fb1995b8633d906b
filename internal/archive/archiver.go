// Package archive exports a finished job's audit trail as NDJSON.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"boss-office/internal/audit"
	"boss-office/internal/models"
	"boss-office/internal/statemachine"
	"boss-office/internal/telemetry"
)

const contentType = "application/x-ndjson"

// Archiver writes <job_id>/audit.ndjson once a job is terminal.
type Archiver struct {
	store    audit.Store
	uploader Uploader
	logger   *slog.Logger
}

func New(st audit.Store, up Uploader, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Archiver{store: st, uploader: up, logger: logger}
}

// Key is the object key of a job's archive.
func Key(jobID string) string {
	return jobID + "/audit.ndjson"
}

// Archive exports every entry of the job in timestamp order and returns the
// upload location.
func (a *Archiver) Archive(ctx context.Context, jobID string) (string, error) {
	entries, err := a.store.QueryByJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load audit trail: %w", err)
	}
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, entries); err != nil {
		return "", err
	}
	return a.uploader.Upload(ctx, Key(jobID), buf.Bytes(), contentType)
}

// OnTerminal archives after a terminal transition. Failures are logged; the
// transition has already committed.
func (a *Archiver) OnTerminal(ctx context.Context, res statemachine.Result) {
	loc, err := a.Archive(ctx, res.Job.JobID)
	if err != nil {
		telemetry.ArchiveFailures.Inc()
		a.logger.Error("audit archive failed", "job_id", res.Job.JobID, "status", res.Job.Status, "err", err)
		return
	}
	a.logger.Info("audit trail archived", "job_id", res.Job.JobID, "status", res.Job.Status, "location", loc)
}

type exportLine struct {
	audit.EntryResponse
	IntegritySHA256 string `json:"integrity_sha256"`
}

// WriteNDJSON encodes one entry per line in timestamp order. Each line carries
// a SHA-256 chained to the previous line so an edited or truncated archive is
// detectable.
func WriteNDJSON(w io.Writer, entries []models.AuditEntry) error {
	sorted := make([]models.AuditEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, k int) bool {
		return sorted[i].Timestamp.Before(sorted[k].Timestamp)
	})

	enc := json.NewEncoder(w)
	prev := ""
	for _, e := range sorted {
		resp := audit.ToResponse(e)
		raw, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.ID, err)
		}
		sum := sha256.Sum256(append([]byte(prev), raw...))
		prev = hex.EncodeToString(sum[:])
		if err := enc.Encode(exportLine{EntryResponse: resp, IntegritySHA256: prev}); err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
	}
	return nil
}
