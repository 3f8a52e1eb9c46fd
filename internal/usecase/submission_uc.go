package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/repository"
	"shorts-transcriber/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Compile-time check
var _ SubmissionUseCase = (*submissionUC)(nil)

type SubmissionUseCase interface {
	// Enqueue validates input and queues a transcription job, returning its id.
	// A broker failure is reported as domain.ErrQueueUnavailable.
	Enqueue(ctx context.Context, rawURL, format string) (string, error)
	// EnqueueRefresh queues a cookie refresh task.
	EnqueueRefresh(ctx context.Context) (string, error)
	// GetStatus returns the latest view; unknown ids read as queued.
	GetStatus(ctx context.Context, id string) (model.JobView, error)
}

type submissionUC struct {
	queue   repository.TaskPublisher
	results repository.ResultStore
	now     func() time.Time
	log     *zerolog.Logger
}

func NewSubmissionUseCase(queue repository.TaskPublisher, results repository.ResultStore, logger *zerolog.Logger) *submissionUC {
	l := logger.With().Str("component", "SubmissionUC").Logger()
	return &submissionUC{queue: queue, results: results, now: time.Now, log: &l}
}

func (uc *submissionUC) Enqueue(ctx context.Context, rawURL, format string) (string, error) {
	f, err := model.ParseFormat(format)
	if err != nil {
		metrics.IncSubmission(string(model.TaskTranscribe), "invalid")
		return "", err
	}
	u, err := validateMediaURL(rawURL)
	if err != nil {
		metrics.IncSubmission(string(model.TaskTranscribe), "invalid")
		return "", err
	}

	task := &model.Task{
		ID:         ulid.Make().String(),
		Kind:       model.TaskTranscribe,
		Input:      &model.JobInput{URL: u, Format: f},
		EnqueuedAt: uc.now().UTC(),
	}
	if err := uc.push(ctx, task); err != nil {
		return "", err
	}

	// Existence record; a worker that already started keeps its newer view.
	if err := uc.results.Init(ctx, model.QueuedView(task.ID)); err != nil {
		uc.log.Warn().Err(err).Str("job_id", task.ID).Msg("write queued record")
	}
	uc.log.Info().Str("job_id", task.ID).Str("format", string(f)).Msg("job enqueued")
	return task.ID, nil
}

func (uc *submissionUC) EnqueueRefresh(ctx context.Context) (string, error) {
	task := &model.Task{
		ID:         ulid.Make().String(),
		Kind:       model.TaskRefreshCookies,
		EnqueuedAt: uc.now().UTC(),
	}
	if err := uc.push(ctx, task); err != nil {
		return "", err
	}
	uc.log.Debug().Str("task_id", task.ID).Msg("cookie refresh enqueued")
	return task.ID, nil
}

func (uc *submissionUC) push(ctx context.Context, task *model.Task) error {
	if err := uc.queue.Push(ctx, task); err != nil {
		metrics.IncSubmission(string(task.Kind), "unavailable")
		uc.log.Error().Err(err).Str("kind", string(task.Kind)).Msg("enqueue failed")
		return fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
	}
	metrics.IncSubmission(string(task.Kind), "accepted")
	return nil
}

func (uc *submissionUC) GetStatus(ctx context.Context, id string) (model.JobView, error) {
	v, err := uc.results.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return model.QueuedView(id), nil
	}
	if err != nil {
		return model.JobView{}, err
	}
	return *v, nil
}

// validateMediaURL accepts absolute http(s) URLs only.
func validateMediaURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return "", fmt.Errorf("%w: malformed url", domain.ErrInvalidArgument)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url scheme must be http or https", domain.ErrInvalidArgument)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: url has no host", domain.ErrInvalidArgument)
	}
	return u.String(), nil
}
