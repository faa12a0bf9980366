package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/metafield-link-auditor/internal/audit"
	"github.com/JakeFAU/metafield-link-auditor/internal/config"
	"github.com/JakeFAU/metafield-link-auditor/internal/metrics"
)

// JobSubmitter validates, records and starts a job.
type JobSubmitter interface {
	Submit(ctx context.Context, cfg audit.JobConfig) (audit.Job, error)
}

// JobCanceller stops a running job at its next batch boundary.
type JobCanceller interface {
	Cancel(jobID string) bool
}

// ActionApplier applies a reviewer's action to one product of a finished job.
type ActionApplier interface {
	Apply(ctx context.Context, jobID string, productID int64, action audit.BrokenAction) (audit.ActionType, error)
}

// Server wires HTTP handlers to the job services and store.
type Server struct {
	router    chi.Router
	jobs      JobSubmitter
	canceller JobCanceller
	actions   ActionApplier
	progress  *ProgressHandler
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store audit.JobStore,
	jobs JobSubmitter,
	canceller JobCanceller,
	actions ActionApplier,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		canceller: canceller,
		actions:   actions,
		progress:  NewProgressHandler(store, logger),
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Get("/", s.progress.ListJobs)
			r.Post("/preset", s.submitPresetJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.progress.GetJob)
				r.Get("/results", s.progress.ListResults)
				r.Post("/cancel", s.cancelJob)
				r.Post("/products/{product_id}/action", s.applyAction)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := req.toJobConfig(s.cfg.JobConfig())
	s.submit(w, r, cfg)
}

func (s *Server) submitPresetJob(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing preset name")
		return
	}
	cfg, err := s.cfg.Preset(req.Name)
	if err != nil {
		writeError(w, http.StatusNotFound, "preset not found")
		return
	}
	cfg.Token = req.Token
	cfg.ResumeToken = req.ResumeToken
	s.submit(w, r, cfg)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, cfg audit.JobConfig) {
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.jobs.Submit(r.Context(), cfg)
	if err != nil {
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.canceller.Cancel(jobID) {
		writeError(w, http.StatusConflict, "job is not running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}

func (s *Server) applyAction(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product_id")
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Action == "" {
		writeError(w, http.StatusBadRequest, "missing action")
		return
	}
	applied, err := s.actions.Apply(r.Context(), jobID, productID, audit.BrokenAction(req.Action))
	if err != nil {
		status := actionErrorStatus(err)
		if status == http.StatusBadGateway {
			s.logger.Error("manual action failed", zap.String("job_id", jobID), zap.Int64("product_id", productID), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"product_id": productID,
		"action":     applied,
	})
}

func actionErrorStatus(err error) int {
	switch {
	case errors.Is(err, audit.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, audit.ErrJobNotFound), errors.Is(err, audit.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, audit.ErrDryRunJob), errors.Is(err, audit.ErrJobRunning):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

type presetRequest struct {
	Name        string `json:"name"`
	Token       string `json:"token"`
	ResumeToken string `json:"resume_token"`
}

type actionRequest struct {
	Action string `json:"action"`
}

type jobRequest struct {
	Shop            string     `json:"shop"`
	Token           string     `json:"token"`
	Namespace       string     `json:"namespace"`
	Key             string     `json:"key"`
	APIVersion      *string    `json:"api_version"`
	Status          *string    `json:"status"`
	CollectionIDs   []int64    `json:"collection_ids"`
	BatchSize       *int       `json:"batch_size"`
	Concurrency     *int       `json:"concurrency"`
	TimeoutMS       *int       `json:"timeout_ms"`
	FollowRedirects *bool      `json:"follow_redirects"`
	MaxRedirects    *int       `json:"max_redirects"`
	DryRun          *bool      `json:"dry_run"`
	AutoAction      *bool      `json:"auto_action"`
	BrokenAction    *string    `json:"broken_action"`
	UpdatedAfter    *time.Time `json:"updated_after"`
	ResumeToken     string     `json:"resume_token"`
}

func (req jobRequest) toJobConfig(defaults audit.JobConfig) audit.JobConfig {
	cfg := defaults
	cfg.Shop = req.Shop
	cfg.Token = req.Token
	cfg.Namespace = req.Namespace
	cfg.Key = req.Key
	cfg.CollectionIDs = req.CollectionIDs
	cfg.UpdatedAfter = req.UpdatedAfter
	cfg.ResumeToken = req.ResumeToken
	cfg.APIVersion = valueOrDefault(req.APIVersion, cfg.APIVersion)
	cfg.Status = audit.ProductStatus(valueOrDefault(req.Status, string(cfg.Status)))
	cfg.BatchSize = valueOrDefault(req.BatchSize, cfg.BatchSize)
	cfg.Concurrency = valueOrDefault(req.Concurrency, cfg.Concurrency)
	if req.TimeoutMS != nil {
		cfg.Timeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}
	cfg.FollowRedirects = valueOrDefault(req.FollowRedirects, cfg.FollowRedirects)
	cfg.MaxRedirects = valueOrDefault(req.MaxRedirects, cfg.MaxRedirects)
	cfg.DryRun = valueOrDefault(req.DryRun, cfg.DryRun)
	cfg.AutoAction = valueOrDefault(req.AutoAction, cfg.AutoAction)
	cfg.BrokenAction = audit.BrokenAction(valueOrDefault(req.BrokenAction, string(cfg.BrokenAction)))
	return cfg
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already sent; an encode failure means the client went away.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
