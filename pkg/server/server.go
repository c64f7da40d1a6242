// Copyright 2025 The Clarvis Authors
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

// Package server is the HTTP/SSE surface of the gateway. It translates
// requests into orchestrator calls and frames streaming responses as SSE.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clarvis-ai/clarvis/pkg/config"
	"github.com/clarvis-ai/clarvis/pkg/orchestrator"
	"github.com/clarvis-ai/clarvis/pkg/registry"
)

const (
	// defaultOrchestratorTimeout bounds routed and streamed queries without
	// a configured orchestrator_timeout_seconds.
	defaultOrchestratorTimeout = 180 * time.Second

	// defaultAgentTimeout bounds direct agent queries without a configured
	// timeout_seconds.
	defaultAgentTimeout = 120 * time.Second
)

// Server hosts the gateway's HTTP endpoints.
type Server struct {
	cfg        *config.APIConfig
	orch       *orchestrator.Orchestrator
	registry   *registry.AgentRegistry
	version    string
	httpServer *http.Server
}

// New creates a Server.
func New(cfg *config.APIConfig, orch *orchestrator.Orchestrator, reg *registry.AgentRegistry, version string) *Server {
	return &Server{
		cfg:      cfg,
		orch:     orch,
		registry: reg,
		version:  version,
	}
}

// Handler builds the chi route tree with the global middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware(s.cfg.Server.CORSOrigins))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/agents", s.handleListAgents)
		r.Post("/query", s.handleQuery)
		r.Post("/query/stream", s.handleQueryStream)
		r.Post("/{agent}/query", s.handleAgentQuery)
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.Address(),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", s.cfg.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// orchestratorTimeout returns the deadline for routed and streamed queries.
func (s *Server) orchestratorTimeout() time.Duration {
	if secs := s.cfg.Server.OrchestratorTimeoutSeconds; secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultOrchestratorTimeout
}

// agentTimeout returns the per-agent deadline for direct queries.
func (s *Server) agentTimeout(name string) time.Duration {
	if a, ok := s.cfg.Agents[name]; ok && a != nil && a.TimeoutSeconds > 0 {
		return time.Duration(a.TimeoutSeconds) * time.Second
	}
	return defaultAgentTimeout
}

// agentEnabled reports whether the gateway exposes an agent. Agents without
// an entry default to enabled.
func (s *Server) agentEnabled(name string) bool {
	a, ok := s.cfg.Agents[name]
	if !ok || a == nil {
		return true
	}
	return config.BoolValue(a.Enabled, true)
}
