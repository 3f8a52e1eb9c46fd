package usecase

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/domain/ports/repository"
	"shorts-transcriber/internal/infra/logging"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/retry"
	"shorts-transcriber/internal/transcribe"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ TranscriptionUseCase = (*transcriptionUC)(nil)

type TranscriptionUseCase interface {
	// Run executes one job to a terminal state, publishing every transition
	// to sink, and returns the terminal view. It never panics. The error is
	// domain.ErrResultNotStored when the terminal view never reached sink;
	// the job must then stay on the queue.
	Run(ctx context.Context, job model.TranscriptionJob, sink repository.ProgressSink) (model.JobView, error)
}

// TerminalPublishPolicy retries the write of a job's final view.
func TerminalPublishPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Backoff: 500 * time.Millisecond}
}

type transcriptionUC struct {
	downloader  adapter.AudioDownloader
	transcriber adapter.Transcriber
	read        func(path string) (string, error)
	publish     retry.Policy
	log         *zerolog.Logger
}

func NewTranscriptionUseCase(downloader adapter.AudioDownloader, transcriber adapter.Transcriber, logger *zerolog.Logger) *transcriptionUC {
	l := logger.With().Str("component", "TranscriptionUC").Logger()
	return &transcriptionUC{
		downloader:  downloader,
		transcriber: transcriber,
		read:        transcribe.ReadTranscript,
		publish:     TerminalPublishPolicy(),
		log:         &l,
	}
}

func (uc *transcriptionUC) Run(ctx context.Context, job model.TranscriptionJob, sink repository.ProgressSink) (model.JobView, error) {
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, uc.log)
	defer logging.TraceDuration(log, "TranscriptionUC.Run")()

	m := newJobMachine(ctx, job.ID, sink, uc.publish, log)
	uc.execute(ctx, job, m, log)
	return m.view, m.storeErr
}

func (uc *transcriptionUC) execute(ctx context.Context, job model.TranscriptionJob, m *jobMachine, log *zerolog.Logger) {
	// The workspace is removed once, after the terminal state is published.
	var audioPath string
	defer func() {
		if audioPath == "" {
			return
		}
		if err := uc.downloader.Cleanup(audioPath); err != nil {
			log.Warn().Err(err).Str("path", audioPath).Msg("workspace cleanup failed")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job panicked")
			m.fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	format, err := model.ParseFormat(string(job.Input.Format))
	if err != nil {
		m.fail(err)
		return
	}

	m.advance(model.JobStateDownloading)
	audioPath, err = uc.downloader.Download(ctx, job.Input.URL)
	if err != nil {
		m.fail(err)
		return
	}

	m.advance(model.JobStateTranscribing)
	transcriptPath, err := uc.transcriber.Transcribe(ctx, audioPath, format)
	if err != nil {
		m.fail(err)
		return
	}

	m.advance(model.JobStateFinalizing)
	text, err := uc.read(transcriptPath)
	if err != nil {
		m.fail(err)
		return
	}
	m.succeed(text)
}

// jobMachine enforces forward-only transitions and publishes each one.
// Intermediate views are best effort; the terminal view is retried and
// storeErr is set when it still could not be written.
type jobMachine struct {
	ctx      context.Context
	id       string
	view     model.JobView
	entered  time.Time
	sink     repository.ProgressSink
	publish  retry.Policy
	storeErr error
	log      *zerolog.Logger
}

func newJobMachine(ctx context.Context, id string, sink repository.ProgressSink, publish retry.Policy, log *zerolog.Logger) *jobMachine {
	return &jobMachine{
		ctx:     ctx,
		id:      id,
		view:    model.QueuedView(id),
		entered: time.Now(),
		sink:    sink,
		publish: publish,
		log:     log,
	}
}

func (m *jobMachine) advance(state model.JobState) model.JobView {
	return m.transition(model.NewJobView(m.id, state))
}

func (m *jobMachine) succeed(text string) model.JobView {
	return m.transition(model.SucceededView(m.id, text))
}

func (m *jobMachine) fail(cause error) model.JobView {
	m.log.Error().Err(cause).Str("state", string(m.view.State)).Msg("job failed")
	return m.transition(model.FailedView(m.id, cause))
}

func (m *jobMachine) transition(next model.JobView) model.JobView {
	from := m.view.State
	if !model.CanTransition(from, next.State) {
		m.log.Error().Str("from", string(from)).Str("to", string(next.State)).Msg("illegal job transition ignored")
		return m.view
	}

	now := time.Now()
	if from != model.JobStateQueued {
		metrics.ObserveStage(string(from), now.Sub(m.entered))
	}
	m.entered = now
	m.view = next

	if next.State.IsTerminal() {
		m.storeTerminal(next)
		metrics.IncJob(string(next.State))
		m.log.Info().Str("state", string(next.State)).Msg("job finished")
		return next
	}
	if err := m.sink.Publish(m.ctx, next); err != nil {
		m.log.Warn().Err(err).Str("state", string(next.State)).Msg("publish job progress")
	}
	m.log.Debug().Str("state", string(next.State)).Int("progress", next.Progress).Msg("job progress")
	return next
}

func (m *jobMachine) storeTerminal(v model.JobView) {
	p := m.publish
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		m.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("store job outcome, retrying")
	}
	out := p.Do(m.ctx, func(ctx context.Context, _ int) error {
		return m.sink.Publish(ctx, v)
	})
	if out.Status != retry.Succeeded {
		m.storeErr = fmt.Errorf("%w: %v", domain.ErrResultNotStored, out.LastErr)
		m.log.Error().Err(out.LastErr).Int("attempts", out.Attempts).Str("state", string(v.State)).Msg("job outcome not stored")
	}
}
