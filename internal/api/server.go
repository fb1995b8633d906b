// Package api exposes the Boss Office HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"boss-office/internal/audit"
	"boss-office/internal/config"
	"boss-office/internal/ratelimit"
	"boss-office/internal/statemachine"
	"boss-office/internal/store"
	"boss-office/internal/telemetry"
)

// Enqueuer hands a job to the dispatch worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Limiter throttles Boss actions per client.
type Limiter interface {
	Allow(ctx context.Context, reviewer string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the Boss Office API.
type Server struct {
	cfg     config.Config
	repo    store.Repository
	engine  *statemachine.Engine
	audit   *audit.QueryService
	queue   Enqueuer
	limiter Limiter
	logger  *slog.Logger
}

// New constructs the API server. queue and limiter may be nil to disable
// dispatch and rate limiting.
func New(cfg config.Config, repo store.Repository, engine *statemachine.Engine, q Enqueuer, limiter Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		cfg:     cfg,
		repo:    repo,
		engine:  engine,
		audit:   audit.NewQueryService(repo),
		queue:   q,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/boss/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/inbox", s.handleInbox)
		r.Get("/{id}", s.handleGetJob)
		// Audit entries are append-only; no route mutates them.
		r.Get("/{id}/audit-log", s.handleAuditLog)
		r.Post("/{id}/submit", s.handleSubmit)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/request-revision", s.handleRequestRevision)
		})
	})

	r.Route("/api/jobs/{id}", func(r chi.Router) {
		r.Use(s.requireCallbackSecret)
		r.Post("/callback", s.handleFactoryCallback)
		r.Post("/deployed", s.handleDeployed)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimit throttles per client address. X-Reviewer-ID is caller supplied and
// never picks the bucket.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		d, err := s.limiter.Allow(r.Context(), clientAddr(r))
		if err != nil {
			s.logger.Error("rate limiter unavailable", "err", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
			return
		}
		if !d.Allowed {
			if d.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
			}
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many actions. Slow down.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireCallbackSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.FactoryCallbackSecret
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Callback-Secret")), []byte(secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// writeTransitionError maps state machine and store failures onto HTTP.
func (s *Server) writeTransitionError(w http.ResponseWriter, jobID string, err error) {
	var te *statemachine.TransitionError
	switch {
	case errors.As(err, &te):
		writeError(w, http.StatusBadRequest, "INVALID_TRANSITION", te.Error())
	case errors.Is(err, statemachine.ErrNoteTooLong):
		writeError(w, http.StatusBadRequest, "NOTE_TOO_LONG", err.Error())
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
	case errors.Is(err, store.ErrStatusConflict):
		writeError(w, http.StatusConflict, "STATUS_CONFLICT", "Job status changed. Reload and try again.")
	default:
		s.logger.Error("transition failed", "job_id", jobID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
