// Package api exposes the HTTP interface for the keyword engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/config"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/gap"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/metrics"
	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/scheduler"
)

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router      chi.Router
	scheduler   *scheduler.Scheduler
	keywords    keyword.KeywordStore
	snapshots   keyword.SnapshotStore
	competitors keyword.CompetitorStore
	analyzer    *gap.Analyzer
	clock       keyword.Clock
	cfg         config.Config
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sched *scheduler.Scheduler,
	keywords keyword.KeywordStore,
	snapshots keyword.SnapshotStore,
	competitors keyword.CompetitorStore,
	analyzer *gap.Analyzer,
	clock keyword.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		scheduler:   sched,
		keywords:    keywords,
		snapshots:   snapshots,
		competitors: competitors,
		analyzer:    analyzer,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/discovery/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
		r.Get("/keywords/{keyword_id}/trend", s.getTrend)
		r.Get("/apps/{app_id}/gap-report", s.getGapReport)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req keyword.DiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.scheduler.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, keyword.ErrDuplicateJob):
			s.writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			s.writeError(w, http.StatusRequestTimeout, err.Error())
		case errors.Is(err, scheduler.ErrInvalidRequest):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scheduler.GetStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, keyword.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.scheduler.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, keyword.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, keyword.ErrAlreadyTerminal):
		s.writeError(w, http.StatusConflict, "job already terminal")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getTrend(w http.ResponseWriter, r *http.Request) {
	keywordID := chi.URLParam(r, "keyword_id")
	kw, err := s.keywords.GetKeyword(r.Context(), keywordID)
	if err != nil {
		if errors.Is(err, keyword.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "keyword not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	windowDays := 30
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 365 {
			s.writeError(w, http.StatusBadRequest, "window_days must be in 1..365")
			return
		}
		windowDays = n
	}
	since := s.clock.Now().AddDate(0, 0, -windowDays)
	snaps, err := s.snapshots.ListSnapshots(r.Context(), keywordID, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"keyword":     kw,
		"window_days": windowDays,
		"snapshots":   snaps,
	})
}

func (s *Server) getGapReport(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "app_id")
	region := r.URL.Query().Get("region")
	if region == "" {
		s.writeError(w, http.StatusBadRequest, "region is required")
		return
	}
	competitors := splitList(r.URL.Query().Get("competitors"))
	if len(competitors) == 0 {
		s.writeError(w, http.StatusBadRequest, "competitors is required")
		return
	}
	competitorSet := make(map[string]struct{}, len(competitors))
	for _, c := range competitors {
		competitorSet[c] = struct{}{}
	}

	kws, err := s.keywords.ListKeywordsByApp(r.Context(), appID, region)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(kws) == 0 {
		s.writeError(w, http.StatusNotFound, "no keywords tracked for app")
		return
	}

	var targets []gap.TargetKeyword
	var observations []gap.CompetitorObservation
	for _, kw := range kws {
		snap, err := s.snapshots.LatestSnapshot(r.Context(), kw.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if snap == nil {
			continue
		}
		targets = append(targets, gap.TargetKeyword{
			Term:            kw.Term,
			Position:        snap.Position,
			EstimatedVolume: snap.EstimatedVolume,
			SnapshotDate:    snap.SnapshotDate,
		})
		entries, err := s.competitors.ListEntries(r.Context(), kw.ID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, e := range entries {
			if _, ok := competitorSet[e.CompetitorAppID]; !ok {
				continue
			}
			observations = append(observations, gap.CompetitorObservation{
				Term:         kw.Term,
				AppID:        e.CompetitorAppID,
				Position:     e.Position,
				SnapshotDate: e.SnapshotDate,
			})
		}
	}

	report := s.analyzer.AnalyzeGap(appID, region, targets, observations)
	s.writeJSON(w, http.StatusOK, report)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		metrics.ObserveHTTPRequest(r.Method, ww.status)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != expected {
				writeJSONWith(zap.L(), w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	writeJSONWith(s.logger, w, status, payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONWith(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
