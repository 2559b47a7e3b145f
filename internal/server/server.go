// Package server exposes the question-answering service over HTTP/JSON:
// session lifecycle, document upload, querying, health, metrics, and a
// WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/raglab/docqa/internal/observability"
	"github.com/raglab/docqa/internal/tracing"
	"github.com/raglab/docqa/pkg/gateway"
	"github.com/raglab/docqa/pkg/ingest"
	"github.com/raglab/docqa/pkg/registry"
	"github.com/raglab/docqa/pkg/vectorstore"
)

// Options configures the HTTP server.
type Options struct {
	Host         string
	Port         int
	QueryTimeout time.Duration
	MaxUploadMB  int

	// DocumentsDir receives uploaded files; IndexPath is the shared index.
	DocumentsDir string
	IndexPath    string
	// SessionIndexDir holds per-session private indexes.
	SessionIndexDir string
}

// Server is the HTTP front of the service.
type Server struct {
	options  Options
	server   *http.Server
	registry *registry.Registry
	ingestor *ingest.Ingestor
	hub      *gateway.Hub
	embedder vectorstore.EmbeddingProvider
	logger   zerolog.Logger

	sharedMu sync.RWMutex
	shared   *vectorstore.Store

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// New creates the server. The shared store may be unavailable until the first
// ingestion; the server still answers queries, just without document search.
func New(options Options, reg *registry.Registry, ingestor *ingest.Ingestor, hub *gateway.Hub, shared *vectorstore.Store, embedder vectorstore.EmbeddingProvider, logger zerolog.Logger) (*Server, error) {
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.Port == 0 {
		options.Port = 8000
	}
	if options.QueryTimeout == 0 {
		options.QueryTimeout = 120 * time.Second
	}
	if options.MaxUploadMB == 0 {
		options.MaxUploadMB = 32
	}
	if reg == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}

	observability.EnsureRegistered()

	return &Server{
		options:  options,
		registry: reg,
		ingestor: ingestor,
		hub:      hub,
		embedder: embedder,
		shared:   shared,
		logger:   logger,
	}, nil
}

// SharedStore returns the current shared document index.
func (s *Server) SharedStore() *vectorstore.Store {
	s.sharedMu.RLock()
	defer s.sharedMu.RUnlock()
	return s.shared
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /session/create", s.track("session_create", s.handleSessionCreate))
	mux.HandleFunc("POST /session/clear", s.track("session_clear", s.handleSessionClear))
	mux.HandleFunc("GET /session/{id}/history", s.track("session_history", s.handleSessionHistory))
	mux.HandleFunc("DELETE /session/{id}", s.track("session_delete", s.handleSessionDelete))
	mux.HandleFunc("GET /sessions", s.track("sessions_list", s.handleSessionsList))
	mux.HandleFunc("POST /upload", s.track("upload", s.handleUpload))
	mux.HandleFunc("POST /query", s.track("query", s.handleQuery))
	mux.HandleFunc("GET /health", s.track("health", s.handleHealth))
	mux.Handle("GET /metrics", observability.Handler())
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}

	return mux
}

// Start runs the server until Stop is called. It blocks.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the server, waiting for in-flight requests.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("shutting down HTTP server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// track wraps a handler with shutdown gating, request tracking, trace
// context, and per-route metrics.
func (s *Server) track(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.shutdownMu.RLock()
		shuttingDown := s.isShuttingDown
		s.shutdownMu.RUnlock()
		if shuttingDown {
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}

		s.inFlightReqs.Add(1)
		defer s.inFlightReqs.Done()

		ctx := tracing.NewRequestContext(r.Context())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		defer func() {
			if rv := recover(); rv != nil {
				s.logger.Error().
					Interface("panic", rv).
					Str("route", route).
					Msg("handler panicked")
				writeError(rec, http.StatusInternalServerError, "internal server error")
			}
			observability.RecordHTTPRequest(route, fmt.Sprintf("%d", rec.status))
			reqLogger := tracing.LoggerFromContext(ctx, s.logger)
			reqLogger.Debug().
				Str("route", route).
				Str("method", r.Method).
				Int("status", rec.status).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		}()

		next(rec, r.WithContext(ctx))
	}
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
