package api

import (
	"context"
	"net/http"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Limiter throttles submissions per key within a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the public HTTP surface: submit, poll, health and metrics.
// It never executes jobs itself.
type Server struct {
	submit  usecase.SubmissionUseCase
	limiter Limiter
	health  []Pinger
	cfg     config.APIConfig
	log     *zerolog.Logger
}

// NewServer constructs the HTTP layer. limiter may be nil (no throttling).
func NewServer(submit usecase.SubmissionUseCase, limiter Limiter, cfg config.APIConfig, logger *zerolog.Logger, health ...Pinger) *Server {
	l := logger.With().Str("component", "API").Logger()
	if cfg.ClientOrigin == "" || cfg.ClientOrigin == "*" {
		l.Warn().Msg("CLIENT_ORIGIN is not set. Allowing all origins (OK for local dev).")
	}
	return &Server{submit: submit, limiter: limiter, health: health, cfg: cfg, log: &l}
}

// Router builds the chi router with the middleware stack applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		s.cors(),
		Timeout(s.cfg.RequestTimeout),
	)
	s.Register(r)
	return r
}

// Register attaches handlers to the provided router.
func (s *Server) Register(r chi.Router) {
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/transcribe", s.handleTranscribe)
	r.Get("/result/{taskID}", s.handleResult)
}

func (s *Server) cors() func(http.Handler) http.Handler {
	origins := []string{"*"}
	if o := s.cfg.ClientOrigin; o != "" && o != "*" {
		origins = []string{o}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Request-ID"},
		// credentials cannot be combined with a wildcard origin
		AllowCredentials: origins[0] != "*",
		MaxAge:           300,
	})
}
