// Package server exposes the engine's control plane over HTTP: sync
// triggering, backlog inspection, cache history, and operational
// endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldrec/pitchside/internal/domain"
	syncengine "github.com/fieldrec/pitchside/internal/sync"
)

// SyncEngine is the orchestrator surface the control plane exposes.
type SyncEngine interface {
	RetrySync(ctx context.Context) (*syncengine.Result, error)
	PendingEvents(ctx context.Context) ([]syncengine.PendingEvent, error)
	Stats(ctx context.Context) (domain.SyncStats, error)
}

// EventCache is the cache surface the control plane exposes.
type EventCache interface {
	EventsForMatch(ctx context.Context, matchID int64) ([]domain.CachedEvent, error)
	ClearAll(ctx context.Context) error
}

type Server struct {
	Router *chi.Mux
	Port   int

	store  EventCache
	sync   SyncEngine
	logger *slog.Logger

	httpServer *http.Server
}

// New builds the control-plane server. gatherer may be nil to leave
// /metrics unregistered.
func New(port int, logger *slog.Logger, sync SyncEngine, cacheStore EventCache, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(5 * time.Minute))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "pitchside")
	})

	s := &Server{
		Router: r,
		Port:   port,
		store:  cacheStore,
		sync:   sync,
		logger: logger,
	}

	r.Post("/sync/retry", s.handleRetrySync)
	r.Get("/sync/stats", s.handleSyncStats)
	r.Get("/sync/pending", s.handlePending)
	r.Get("/matches/{id}/events", s.handleMatchEvents)
	r.Post("/cache/clear", s.handleClearCache)
	r.Get("/healthz", s.handleHealthz)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: s.Router,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
