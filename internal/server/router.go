// Copyright 2025 AgentLens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/storage"
)

// Server serves the query API, plus run deletion, over the read store.
type Server struct {
	cfg     *config.Config
	store   storage.ReadStore
	logger  *slog.Logger
	version string
	mux     *http.ServeMux
	handler http.Handler
}

// New creates the API server.
func New(cfg *config.Config, store storage.ReadStore, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = log.WithComponent(log.New(log.FromEnv()), "api")
	}
	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		version: version,
		mux:     http.NewServeMux(),
	}
	s.routes()

	if cfg.APIKeyRequired {
		// Log only the key's tail so a pasted log line never leaks it.
		s.logger.Info("API key authentication enabled",
			slog.String("api_key", log.SanitizeAPIKey(cfg.APIKey)))
	}

	var handler http.Handler = s.mux
	handler = s.authMiddleware(handler)
	if cfg.RateLimitEnabled {
		handler = newRateLimiter(cfg.RateLimitPerMinute).middleware(handler)
	}
	handler = s.corsMiddleware(handler)
	s.handler = handler
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /v1/runs/{run_id}", s.handleGetRun)
	s.mux.HandleFunc("DELETE /v1/runs/{run_id}", s.handleDeleteRun)
	s.mux.HandleFunc("GET /v1/runs/{run_id}/steps", s.handleGetSteps)
	s.mux.HandleFunc("GET /v1/runs/{run_id}/timeline", s.handleGetTimeline)
	s.mux.HandleFunc("GET /v1/runs/{run_id}/steps/{step_id}/data", s.handleGetStepData)
	s.mux.HandleFunc("GET /v1/runs/{run_id}/export", s.handleExportRun)
	s.mux.HandleFunc("GET /v1/stats", s.handleStats)
}

// Handler returns the composed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", slog.String("addr", addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// authMiddleware enforces the optional X-API-Key check. Health and metrics
// stay open for probes and scrapers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.APIKeyRequired || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies the configured allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "X-API-Key, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleHealth reports liveness plus database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	database := "ok"
	status := http.StatusOK
	overall := "ok"
	if err := s.store.Ping(ctx); err != nil {
		database = "down"
		overall = "degraded"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]any{
		"status":    overall,
		"timestamp": time.Now().UnixMilli(),
		"database":  database,
		"version":   s.version,
	})
}
