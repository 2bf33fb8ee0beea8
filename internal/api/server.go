// Package api exposes the control surface for the discovery engine:
// starting and stopping runs, inspecting run state, and listing the
// content discovered for a patch.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/patchwork-dev/patchcrawl/internal/crawl"
	"github.com/patchwork-dev/patchcrawl/internal/metrics"
	"github.com/patchwork-dev/patchcrawl/internal/middleware"
	"github.com/patchwork-dev/patchcrawl/internal/orchestrator"
	"github.com/patchwork-dev/patchcrawl/internal/store"
)

const (
	defaultContentLimit = 50
	maxContentLimit     = 200
)

// Config tunes the HTTP server surface.
type Config struct {
	// APIKey enables key auth on /v1 routes when non-empty.
	APIKey string
	// RequestTimeout bounds each request end to end.
	RequestTimeout time.Duration
}

// Server routes control API requests to the orchestrator and stores.
type Server struct {
	router   chi.Router
	orch     *orchestrator.Orchestrator
	contents store.ContentRepository
	logger   *zap.Logger
}

// NewServer builds the router with the standard middleware stack.
func NewServer(orch *orchestrator.Orchestrator, contents store.ContentRepository, cfg Config, logger *zap.Logger) *Server {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		orch:     orch,
		contents: contents,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(middleware.APIKey(cfg.APIKey))
		}
		r.Use(timeoutMiddleware(cfg.RequestTimeout))

		r.Route("/patches/{patch_id}", func(r chi.Router) {
			r.Post("/runs", s.startRun)
			r.Get("/content", s.listContent)
		})
		r.Route("/runs/{run_id}", func(r chi.Router) {
			r.Get("/", s.getRun)
			r.Post("/stop", s.stopRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Readiness is backed by the content store: if it answers, the
	// database path is up.
	if _, err := s.contents.ListByPatch(r.Context(), "readiness-probe", "", 1); err != nil {
		writeError(w, http.StatusServiceUnavailable, "content store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRunRequest struct {
	Topic           string   `json:"topic"`
	Keywords        []string `json:"keywords"`
	SeedURLs        []string `json:"seed_urls"`
	MaxDepth        *int     `json:"max_depth"`
	MaxPages        *int     `json:"max_pages"`
	Sources         []string `json:"sources"`
	HeadlessAllowed *bool    `json:"headless_allowed"`
	RespectRobots   *bool    `json:"respect_robots"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	patchID := chi.URLParam(r, "patch_id")
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	runCfg := crawl.RunConfig{
		Topic:           req.Topic,
		Keywords:        req.Keywords,
		SeedURLs:        req.SeedURLs,
		MaxDepth:        valueOrDefault(req.MaxDepth, 0),
		MaxPages:        valueOrDefault(req.MaxPages, 0),
		HeadlessAllowed: valueOrDefault(req.HeadlessAllowed, false),
		RespectRobots:   valueOrDefault(req.RespectRobots, true),
	}
	for _, src := range req.Sources {
		runCfg.Sources = append(runCfg.Sources, crawl.SourceKind(src))
	}

	run, err := s.orch.StartRun(r.Context(), patchID, runCfg)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrTooManyRuns):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.orch.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) stopRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	if err := s.orch.StopRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("stop run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "stopping"})
}

func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	patchID := chi.URLParam(r, "patch_id")
	limit := defaultContentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if parsed > maxContentLimit {
			parsed = maxContentLimit
		}
		limit = parsed
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := s.contents.ListByPatch(r.Context(), patchID, cursor, limit)
	if err != nil {
		s.logger.Error("list content failed", zap.String("patch_id", patchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list content")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       toContentDTOs(page.Items),
		"next_cursor": page.NextCursor,
	})
}

// contentDTO is the wire shape for a discovered content row. The full
// text stays out of list responses; summaries are enough for browsing.
type contentDTO struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	CanonicalURL   string         `json:"canonical_url"`
	Title          string         `json:"title"`
	Summary        string         `json:"summary"`
	Source         string         `json:"source"`
	RelevanceScore int            `json:"relevance_score"`
	QualityScore   int            `json:"quality_score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DiscoveredAt   time.Time      `json:"discovered_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func toContentDTOs(in []store.DiscoveredContent) []contentDTO {
	out := make([]contentDTO, 0, len(in))
	for _, c := range in {
		out = append(out, contentDTO{
			ID:             c.ID,
			URL:            c.URL,
			CanonicalURL:   c.CanonicalURL,
			Title:          c.Title,
			Summary:        c.Summary,
			Source:         string(c.Source),
			RelevanceScore: c.RelevanceScore,
			QualityScore:   c.QualityScore,
			Metadata:       c.Metadata,
			DiscoveredAt:   c.DiscoveredAt,
			UpdatedAt:      c.UpdatedAt,
		})
	}
	return out
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
