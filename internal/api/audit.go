package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"boss-office/internal/audit"
	"boss-office/internal/store"
	"boss-office/internal/telemetry"
)

// handleAuditLog serves GET /api/boss/jobs/{id}/audit-log?page=&limit=.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	page, ok := queryInt(r, "page", 1)
	if !ok || page < 1 {
		writeError(w, http.StatusBadRequest, "INVALID_PAGE", "Invalid page parameter")
		return
	}
	limit, ok := queryInt(r, "limit", audit.DefaultLimit)
	if !ok || limit < 1 || limit > audit.MaxLimit {
		writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "Invalid limit parameter")
		return
	}

	telemetry.AuditQueries.Inc()
	result, err := s.audit.GetAuditLog(r.Context(), jobID, page, limit)
	if err != nil {
		s.logger.Error("audit log query failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
		return
	}
	if result.Pagination.Total == 0 {
		_, err := s.repo.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
			return
		}
		if err != nil {
			s.logger.Error("load job failed", "job_id", jobID, "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}
