package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"boss-office/internal/models"
	"boss-office/internal/statemachine"
)

type actionRequest struct {
	Note          string `json:"note"`
	RevisionNotes string `json:"revision_notes"`
}

type actionResponse struct {
	JobID        string        `json:"job_id"`
	Status       models.Status `json:"status"`
	Message      string        `json:"message"`
	AuditEntryID string        `json:"audit_entry_id,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	s.bossAction(w, r, models.StatusDeployRequested, strings.TrimSpace(req.Note), nil, "Job approved for deployment")
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		writeError(w, http.StatusBadRequest, "NOTE_REQUIRED", "Note is required for this action.")
		return
	}
	s.bossAction(w, r, models.StatusRejected, note, nil, "Job rejected")
}

func (s *Server) handleRequestRevision(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	notes := strings.TrimSpace(req.RevisionNotes)
	if notes == "" {
		notes = strings.TrimSpace(req.Note)
	}
	if notes == "" {
		writeError(w, http.StatusBadRequest, "NOTE_REQUIRED", "Revision notes are required")
		return
	}
	res, ok := s.bossAction(w, r, models.StatusRevisionRequested, notes, func(j *models.Job) {
		j.RevisionNotes = &notes
		j.RevisionCount++
	}, "Revision request sent to Factory")
	if !ok {
		return
	}
	if err := s.enqueue(r, res.Job.JobID); err != nil {
		s.logger.Error("enqueue dispatch failed", "job_id", res.Job.JobID, "err", err)
	}
}

// bossAction applies a BOSS transition and writes the response.
func (s *Server) bossAction(w http.ResponseWriter, r *http.Request, to models.Status, note string, mutate func(*models.Job), msg string) (statemachine.Result, bool) {
	jobID := chi.URLParam(r, "id")
	res, err := s.engine.Apply(r.Context(), jobID, to, models.ActorBoss, note, mutate)
	if err != nil {
		s.writeTransitionError(w, jobID, err)
		return statemachine.Result{}, false
	}
	writeJSON(w, http.StatusOK, actionResponse{
		JobID:        jobID,
		Status:       res.Job.Status,
		Message:      msg,
		AuditEntryID: res.Entry.ID,
	})
	return res, true
}

type callbackRequest struct {
	QAStatus string         `json:"qa_status"`
	ToolID   string         `json:"tool_id"`
	ToolHTML string         `json:"tool_html"`
	QAReport map[string]any `json:"qa_report"`
	Note     string         `json:"note"`
}

// handleFactoryCallback records the Factory's verdict on a SENT job.
func (s *Server) handleFactoryCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	var to models.Status
	switch strings.ToUpper(req.QAStatus) {
	case models.QAPass:
		to = models.StatusReadyForReview
	case models.QAFail:
		to = models.StatusFactoryFailed
	default:
		writeError(w, http.StatusBadRequest, "INVALID_QA_STATUS", "qa_status must be PASS or FAIL")
		return
	}

	jobID := chi.URLParam(r, "id")
	qa := strings.ToUpper(req.QAStatus)
	res, err := s.engine.Apply(r.Context(), jobID, to, models.ActorFactory, strings.TrimSpace(req.Note), func(j *models.Job) {
		now := time.Now().UTC()
		j.QAStatus = &qa
		j.QAReport = req.QAReport
		j.CallbackReceivedAt = &now
		if req.ToolID != "" {
			j.ToolID = &req.ToolID
		}
		if req.ToolHTML != "" {
			j.ToolHTML = &req.ToolHTML
		}
	})
	if err != nil {
		s.writeTransitionError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		JobID:        jobID,
		Status:       res.Job.Status,
		Message:      "Callback recorded",
		AuditEntryID: res.Entry.ID,
	})
}

// handleDeployed confirms a requested deployment finished.
func (s *Server) handleDeployed(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body.")
		return
	}
	jobID := chi.URLParam(r, "id")
	res, err := s.engine.Apply(r.Context(), jobID, models.StatusDeployed, models.ActorSystem, strings.TrimSpace(req.Note), nil)
	if err != nil {
		s.writeTransitionError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{
		JobID:        jobID,
		Status:       res.Job.Status,
		Message:      "Job deployed",
		AuditEntryID: res.Entry.ID,
	})
}
