// Package factory submits jobs to the external tool generator.
package factory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"boss-office/internal/models"
)

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("factory webhook url is not configured")

// Submitter hands a job to the Factory. A nil error means the Factory
// accepted the job; the result arrives later via callback.
type Submitter interface {
	Submit(ctx context.Context, job models.Job) error
}

// SubmitRequest is the JSON body posted to the webhook.
type SubmitRequest struct {
	JobID            string          `json:"job_id"`
	OriginalFilename string          `json:"original_filename"`
	FileType         models.FileType `json:"file_type"`
	FileSizeBytes    int64           `json:"file_size_bytes"`
	FileStorageKey   string          `json:"file_storage_key"`
	RevisionCount    int             `json:"revision_count"`
	RevisionNotes    string          `json:"revision_notes,omitempty"`
}

// WebhookClient posts jobs to the Factory webhook.
type WebhookClient struct {
	url        string
	httpClient *http.Client
}

// NewWebhookClient builds a client with the given per-request timeout.
func NewWebhookClient(url string, timeout time.Duration) *WebhookClient {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *WebhookClient) Submit(ctx context.Context, job models.Job) error {
	if c.url == "" {
		return ErrNotConfigured
	}
	body := SubmitRequest{
		JobID:            job.JobID,
		OriginalFilename: job.OriginalFilename,
		FileType:         job.FileType,
		FileSizeBytes:    job.FileSizeBytes,
		FileStorageKey:   job.FileStorageKey,
		RevisionCount:    job.RevisionCount,
	}
	if job.RevisionNotes != nil {
		body.RevisionNotes = *job.RevisionNotes
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("submit job: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
