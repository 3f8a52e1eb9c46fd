package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"shorts-transcriber/internal/credential"
	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/repository"
	"shorts-transcriber/internal/infra/logging"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/retry"
	"shorts-transcriber/internal/usecase"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CookieRefresher runs one single-flight cookie refresh.
type CookieRefresher interface {
	Refresh(ctx context.Context) credential.Outcome
}

type ProcessorOptions struct {
	ClaimWait    time.Duration
	HeartbeatTTL time.Duration
}

// TaskProcessor claims tasks from the queue, one per pool worker, and routes
// them by kind. A task is acked only after its outcome has been recorded;
// otherwise it is released back to the queue.
//
// The heartbeat runs on its own lifetime, independent of the claim loop, and
// stops only in Shutdown. Tasks still finishing after the claim loop ends
// must keep the worker alive, or a peer would requeue them.
type TaskProcessor struct {
	queue         repository.TaskQueue
	results       repository.ProgressSink
	transcription usecase.TranscriptionUseCase
	refresher     CookieRefresher
	workerID      string
	opts          ProcessorOptions
	errPause      time.Duration
	publish       retry.Policy
	log           *zerolog.Logger

	life         context.Context
	stopLife     context.CancelFunc
	mu           sync.Mutex
	maintainDone chan struct{}
}

func NewTaskProcessor(
	queue repository.TaskQueue,
	results repository.ProgressSink,
	transcription usecase.TranscriptionUseCase,
	refresher CookieRefresher,
	opts ProcessorOptions,
	log *zerolog.Logger,
) *TaskProcessor {
	if opts.ClaimWait <= 0 {
		opts.ClaimWait = 2 * time.Second
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 30 * time.Second
	}
	id := NewWorkerID()
	l := log.With().Str("component", "TaskProcessor").Str("worker_id", id).Logger()
	life, stop := context.WithCancel(context.Background())
	return &TaskProcessor{
		queue:         queue,
		results:       results,
		transcription: transcription,
		refresher:     refresher,
		workerID:      id,
		opts:          opts,
		errPause:      time.Second,
		publish:       usecase.TerminalPublishPolicy(),
		log:           &l,
		life:          life,
		stopLife:      stop,
	}
}

// NewWorkerID names this process in the queue's worker registry.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func (p *TaskProcessor) WorkerID() string { return p.workerID }

// Start feeds the pool until ctx is cancelled. It should be run in a goroutine.
// Cancelling ctx stops claiming only; heartbeats continue until Shutdown.
func (p *TaskProcessor) Start(ctx context.Context, pool *Pool) {
	p.log.Info().Int("concurrency", pool.Size()).Msg("Task processor started")
	p.heartbeat(ctx)
	p.startMaintain()

	for {
		if err := pool.Submit(ctx, p.processOne); err != nil {
			p.log.Info().Msg("Task processor stopping")
			return
		}
	}
}

func (p *TaskProcessor) startMaintain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maintainDone != nil {
		return
	}
	done := make(chan struct{})
	p.maintainDone = done
	go func() {
		defer close(done)
		p.maintain(p.life)
	}()
}

// Shutdown stops the heartbeat and returns anything this worker still holds
// to the queue. Call it after the pool has drained.
func (p *TaskProcessor) Shutdown(ctx context.Context) error {
	p.stopLife()
	p.mu.Lock()
	done := p.maintainDone
	p.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	return p.queue.Deregister(ctx, p.workerID)
}

// maintain keeps the heartbeat alive and requeues work of lost workers.
func (p *TaskProcessor) maintain(ctx context.Context) {
	beat := time.NewTicker(p.opts.HeartbeatTTL / 3)
	defer beat.Stop()
	reap := time.NewTicker(p.opts.HeartbeatTTL)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-beat.C:
			p.heartbeat(ctx)
		case <-reap.C:
			p.reap(ctx)
		}
	}
}

func (p *TaskProcessor) heartbeat(ctx context.Context) {
	if err := p.queue.Heartbeat(ctx, p.workerID); err != nil && ctx.Err() == nil {
		p.log.Warn().Err(err).Msg("heartbeat failed")
	}
}

func (p *TaskProcessor) reap(ctx context.Context) {
	n, err := p.queue.RequeueOrphans(ctx)
	if n > 0 {
		metrics.AddRequeued(n)
		p.log.Warn().Int("count", n).Msg("requeued tasks of lost workers")
	}
	if err != nil && ctx.Err() == nil {
		p.log.Warn().Err(err).Msg("requeue orphaned tasks")
	}
}

// processOne claims at most one task and runs it to completion.
func (p *TaskProcessor) processOne(ctx context.Context) error {
	d, err := p.queue.Claim(ctx, p.workerID, p.opts.ClaimWait)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidArgument) {
			p.log.Error().Err(err).Msg("dropped undecodable task")
			return nil
		}
		p.log.Error().Err(err).Msg("claim task")
		p.pause(ctx)
		return nil
	}
	if d == nil {
		return nil
	}

	// A claimed task runs to the end even during shutdown.
	runCtx := logging.WithWorkerID(context.WithoutCancel(ctx), p.workerID)
	if !p.handle(runCtx, d.Task) {
		// left in the processing list if this fails too; Deregister or a
		// peer's reaper hands it back later
		if err := p.queue.Release(runCtx, p.workerID, d); err != nil {
			p.log.Error().Err(err).Str("task_id", d.Task.ID).Msg("release task")
		}
		return nil
	}

	if err := p.queue.Ack(runCtx, p.workerID, d); err != nil {
		p.log.Error().Err(err).Str("task_id", d.Task.ID).Msg("ack task")
	}
	return nil
}

// handle runs one task and reports whether it may be acked.
func (p *TaskProcessor) handle(ctx context.Context, task *model.Task) bool {
	log := p.log.With().Str("task_id", task.ID).Str("kind", string(task.Kind)).Logger()
	start := time.Now()

	switch task.Kind {
	case model.TaskTranscribe:
		if task.Input == nil {
			log.Error().Msg("transcribe task without input")
			failed := model.FailedView(task.ID, fmt.Errorf("%w: missing job input", domain.ErrInvalidArgument))
			out := p.publish.Do(ctx, func(ctx context.Context, _ int) error {
				return p.results.Publish(ctx, failed)
			})
			if out.Status != retry.Succeeded {
				log.Error().Err(out.LastErr).Msg("store failed view, releasing task")
				return false
			}
			return true
		}
		final, err := p.transcription.Run(ctx, task.Job(), p.results)
		if err != nil {
			log.Error().Err(err).Str("state", string(final.State)).Msg("outcome not stored, releasing task")
			return false
		}
		log.Info().Str("state", string(final.State)).Dur("took", time.Since(start)).Msg("transcription task done")
	case model.TaskRefreshCookies:
		out := p.refresher.Refresh(ctx)
		log.Info().Str("outcome", string(out)).Dur("took", time.Since(start)).Msg("cookie refresh task done")
	default:
		log.Error().Err(domain.ErrUnknownTaskKind).Msg("dropping task")
	}
	return true
}

func (p *TaskProcessor) pause(ctx context.Context) {
	t := time.NewTimer(p.errPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
