// File: cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/credential"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/download"
	"shorts-transcriber/internal/infra/filelock"
	opshttp "shorts-transcriber/internal/infra/http"
	"shorts-transcriber/internal/infra/logging"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/infra/process"
	red "shorts-transcriber/internal/infra/redis"
	"shorts-transcriber/internal/infra/sched"
	"shorts-transcriber/internal/infra/worker"
	"shorts-transcriber/internal/transcribe"
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
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	beat := flag.Bool("beat", false, "also run the periodic cookie refresh trigger")
	refreshOnStart := flag.Bool("refresh-on-start", false, "with -beat, enqueue a cookie refresh immediately")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logging & metrics ----
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister(nil)
	metrics.SetBuildInfo(version, commit, "worker")

	// ---- Redis ----
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

	// ---- Refresh lock ----
	var locker adapter.Locker
	switch cfg.Credential.LockBackend {
	case "file":
		fl, err := filelock.New(cfg.Credential.LockDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("file lock")
		}
		locker = fl
	default:
		locker = red.NewLocker(broker)
	}

	// ---- Pipeline ----
	runner := process.ExecRunner{}
	exporter := credential.NewYtDlpExporter(cfg.Credential, cfg.Download.YtDlpPath, runner, logger)
	creds := credential.NewManager(cfg.Credential, locker, exporter, logger)
	downloader := download.NewDownloader(cfg.Download, creds, runner, logger)
	transcriber := transcribe.NewTranscriber(cfg.Whisper, runner, logger)
	transcriptionUC := usecase.NewTranscriptionUseCase(downloader, transcriber, logger)

	// ---- Worker pool ----
	pool := worker.NewPool(cfg.Worker.Concurrency, logger)
	processor := worker.NewTaskProcessor(queue, results, transcriptionUC, creds, worker.ProcessorOptions{
		ClaimWait:    cfg.Worker.ClaimWait,
		HeartbeatTTL: cfg.Worker.HeartbeatTTL,
	}, logger)

	var wg sync.WaitGroup
	pool.Start(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		processor.Start(ctx, pool)
	}()
	logger.Info().
		Str("worker_id", processor.WorkerID()).
		Int("concurrency", pool.Size()).
		Str("lock_backend", cfg.Credential.LockBackend).
		Str("version", version).
		Msg("worker started")

	// ---- Cookie refresh trigger (beat) ----
	if *beat {
		submitUC := usecase.NewSubmissionUseCase(queue, results, logger)
		trigger := sched.NewCookieRefreshTrigger(cfg.Credential.RefreshHours, *refreshOnStart, submitUC, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("cookie refresh trigger stopped")
			}
		}()
	}

	// ---- Ops endpoint (health + metrics) ----
	var ops *opshttp.Server
	if cfg.Worker.MetricsPort > 0 {
		ops = opshttp.NewServer(cfg.Worker.MetricsPort, logger, broker, backend)
		go func() {
			if err := ops.Start(); err != nil {
				logger.Error().Err(err).Msg("ops server error")
			}
		}()
	}

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested; waiting for in-flight jobs")
	cancel()

	wg.Wait()
	pool.Stop()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := processor.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("deregister worker")
	}
	if ops != nil {
		_ = ops.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("worker stopped")
}
