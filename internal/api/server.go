// Package api is the HTTP route layer over the orchestrator.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/time/rate"

	"forgescan/scan-engine/internal/broadcast"
	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/orchestrator"
	"forgescan/scan-engine/internal/queue"
	"forgescan/scan-engine/internal/scanners"
	"forgescan/scan-engine/internal/store"
)

// Service is the part of the orchestrator the routes call.
type Service interface {
	CreateScan(ctx context.Context, req orchestrator.Request) (orchestrator.Created, error)
	CancelScan(ctx context.Context, scanID string) bool
	QueueStats(ctx context.Context) queue.Stats
	Scan(ctx context.Context, scanID string) (model.Scan, []model.Vulnerability, error)
	CountScans(ctx context.Context, f store.Filter) (int, error)
}

type ToolLister interface {
	Entries() []scanners.Entry
}

type Subscriber interface {
	Subscribe(topic string, buffer int) *broadcast.Subscription
}

type Config struct {
	// SubmitRate is the sustained number of scan submissions per second.
	SubmitRate  float64
	SubmitBurst int
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	svc     Service
	tools   ToolLister
	events  Subscriber
	limiter *rate.Limiter
	metrics http.Handler
	logger  *slog.Logger
}

func NewServer(svc Service, tools ToolLister, events Subscriber, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SubmitRate <= 0 {
		cfg.SubmitRate = 2
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 5
	}
	return &Server{
		svc:     svc,
		tools:   tools,
		events:  events,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubmitRate), cfg.SubmitBurst),
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/scans", func(r chi.Router) {
		r.With(s.limitSubmissions).Post("/", s.CreateScanHandler)
		r.Get("/", s.CountScansHandler)
		r.Route("/{scanID}", func(r chi.Router) {
			r.Get("/", s.GetScanHandler)
			r.Delete("/", s.CancelScanHandler)
			r.Get("/events", s.EventsHandler)
		})
	})
	r.Get("/queue/stats", s.QueueStatsHandler)
	r.Get("/tools", s.ToolsHandler)
	return r
}

func (s *Server) limitSubmissions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, map[string]string{"error": "too many scan submissions"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.svc.QueueStats(r.Context()))
}

func (s *Server) ToolsHandler(w http.ResponseWriter, r *http.Request) {
	entries := s.tools.Entries()
	out := make([]toolResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toolResponse{
			Name:      e.Name,
			Binary:    e.Binary,
			Category:  string(e.Category),
			Timeout:   e.Timeout.String(),
			Available: e.Status.Available,
			Version:   e.Status.Version,
			Error:     e.Status.Error,
		})
	}
	render.JSON(w, r, out)
}

type toolResponse struct {
	Name      string `json:"name"`
	Binary    string `json:"binary"`
	Category  string `json:"category"`
	Timeout   string `json:"timeout"`
	Available bool   `json:"available"`
	Version   string `json:"version"`
	Error     string `json:"error,omitempty"`
}
