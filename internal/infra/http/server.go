// Package http serves the worker's operational endpoints: liveness and metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shorts-transcriber/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	port    int
	checks  []Pinger
	log     *zerolog.Logger
	handler http.Handler
	server  *http.Server
}

func NewServer(port int, logger *zerolog.Logger, checks ...Pinger) *Server {
	l := logger.With().Str("component", "OpsServer").Logger()
	s := &Server{port: port, checks: checks, log: &l}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealthCheck)
	mux.Handle("/metrics", metrics.Handler())
	s.handler = mux
	return s
}

// Handler is the mux served by Start.
func (s *Server) Handler() http.Handler { return s.handler }

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", s.port).Msg("ops server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range s.checks {
		if err := c.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "UNAVAILABLE")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
