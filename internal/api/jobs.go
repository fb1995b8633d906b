package api

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"boss-office/internal/models"
	"boss-office/internal/store"
)

// MaxFileSize is the largest document a job may reference.
const MaxFileSize = 10 * 1024 * 1024

type createJobRequest struct {
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
	FileSizeBytes    int64  `json:"file_size_bytes"`
	FileStorageKey   string `json:"file_storage_key"`
}

// jobDetail adds the generated tool markup, which list views leave out.
type jobDetail struct {
	models.Job
	ToolHTML *string `json:"tool_html,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	req.OriginalFilename = strings.TrimSpace(req.OriginalFilename)
	if req.OriginalFilename == "" {
		writeError(w, http.StatusBadRequest, "NO_FILE", "No file uploaded.")
		return
	}
	rawType := req.FileType
	if rawType == "" {
		rawType = strings.TrimPrefix(filepath.Ext(req.OriginalFilename), ".")
	}
	fileType, err := models.ParseFileType(strings.ToUpper(rawType))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "Wrong file type. Use PDF, DOCX, TXT, or MD.")
		return
	}
	if req.FileSizeBytes <= 0 {
		writeError(w, http.StatusBadRequest, "FILE_EMPTY", "File is empty. Upload a document with content.")
		return
	}
	if req.FileSizeBytes > MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too large. Split it.")
		return
	}

	res, err := s.engine.CreateJob(r.Context(), store.CreateJobParams{
		OriginalFilename: req.OriginalFilename,
		FileType:         fileType,
		FileSizeBytes:    req.FileSizeBytes,
		FileStorageKey:   req.FileStorageKey,
	})
	if err != nil {
		s.logger.Error("create job failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if err := s.enqueue(r, res.Job.JobID); err != nil {
		s.logger.Error("enqueue dispatch failed", "job_id", res.Job.JobID, "err", err)
	}

	writeJSON(w, http.StatusCreated, res.Job)
}

// enqueue schedules dispatch. A failure leaves the job in its current status
// until it is resubmitted.
func (s *Server) enqueue(r *http.Request, jobID string) error {
	if s.queue == nil {
		return nil
	}
	return s.queue.Enqueue(r.Context(), jobID)
}

// handleSubmit re-enqueues a job stuck before the Factory: a DRAFT whose first
// enqueue failed, or a revision whose resubmission ran out of attempts.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.repo.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("load job failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if job.Status != models.StatusDraft && job.Status != models.StatusRevisionRequested {
		writeError(w, http.StatusBadRequest, "INVALID_STATUS", "Job cannot be submitted from status "+job.Status.String())
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "DISPATCH_UNAVAILABLE", "Dispatch queue is not configured")
		return
	}
	if err := s.enqueue(r, jobID); err != nil {
		s.logger.Error("enqueue dispatch failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	s.logger.Info("job resubmitted", "job_id", jobID, "status", job.Status)
	writeJSON(w, http.StatusAccepted, actionResponse{
		JobID:   jobID,
		Status:  job.Status,
		Message: "Job queued for Factory submission",
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := models.StatusNone
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STATUS", err.Error())
			return
		}
		status = parsed
	}
	s.listJobs(w, r, status)
}

// handleInbox lists what the Boss can act on. FACTORY_FAILED jobs never reach it.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	s.listJobs(w, r, models.StatusReadyForReview)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request, status models.Status) {
	jobs, err := s.repo.ListJobs(r.Context(), status)
	if err != nil {
		s.logger.Error("list jobs failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.repo.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job failed", "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, jobDetail{Job: job, ToolHTML: job.ToolHTML})
}
