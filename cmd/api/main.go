// File: cmd/api/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/infra/api"
	"shorts-transcriber/internal/infra/logging"
	"shorts-transcriber/internal/infra/metrics"
	red "shorts-transcriber/internal/infra/redis"
	"shorts-transcriber/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, unredacted urls)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logging & metrics ----
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit, "api")
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	// ---- Redis (broker + result backend) ----
	broker, err := red.NewClient(ctx, cfg.BrokerRedis())
	if err != nil {
		logger.Fatal().Err(err).Msg("redis broker")
	}
	defer broker.Close()

	backend, err := red.NewClient(ctx, cfg.ResultRedis())
	if err != nil {
		logger.Fatal().Err(err).Msg("redis result backend")
	}
	defer backend.Close()

	queue := red.NewJobQueue(broker, cfg.Queue.Prefix, cfg.Worker.HeartbeatTTL)
	results := red.NewResultStore(backend, cfg.Queue.Prefix, cfg.Result.TTL)
	limiter := red.NewRateLimiter(broker)

	// ---- Use cases ----
	submitUC := usecase.NewSubmissionUseCase(queue, results, logger)

	// ---- HTTP ----
	srv := api.NewServer(submitUC, limiter, cfg.API, logger, broker, backend)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("version", version).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
