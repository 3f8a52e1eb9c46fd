package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RefreshEnqueuer queues one parameterless cookie refresh task.
type RefreshEnqueuer interface {
	EnqueueRefresh(ctx context.Context) (string, error)
}

// CookieRefreshTrigger enqueues a cookie refresh every N hours regardless of
// job traffic. Overlap with other refreshes is harmless: the refresh itself
// is single-flight.
type CookieRefreshTrigger struct {
	spec       string
	runOnStart bool
	enqueuer   RefreshEnqueuer
	cron       *cron.Cron
	log        *zerolog.Logger
}

func NewCookieRefreshTrigger(hours int, runOnStart bool, enqueuer RefreshEnqueuer, logger *zerolog.Logger) *CookieRefreshTrigger {
	l := logger.With().Str("component", "CookieRefreshTrigger").Logger()
	return &CookieRefreshTrigger{
		spec:       CronSpec(hours),
		runOnStart: runOnStart,
		enqueuer:   enqueuer,
		cron:       cron.New(),
		log:        &l,
	}
}

// CronSpec is "at minute 0 of every Nth hour" for N in 1..23. Other values
// cannot be expressed as an hour step and fall back to a fixed interval.
func CronSpec(hours int) string {
	if hours <= 0 {
		hours = 12
	}
	if hours < 24 {
		return fmt.Sprintf("0 */%d * * *", hours)
	}
	return fmt.Sprintf("@every %dh", hours)
}

func (t *CookieRefreshTrigger) Spec() string { return t.spec }

// Run blocks until ctx is cancelled.
func (t *CookieRefreshTrigger) Run(ctx context.Context) error {
	if _, err := t.cron.AddFunc(t.spec, func() { t.fire(ctx) }); err != nil {
		return fmt.Errorf("register cookie refresh schedule %q: %w", t.spec, err)
	}
	t.log.Info().Str("schedule", t.spec).Msg("Starting cookie refresh trigger")
	if t.runOnStart {
		t.fire(ctx)
	}
	t.cron.Start()

	<-ctx.Done()
	stopped := t.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
	}
	t.log.Info().Msg("Stopping cookie refresh trigger")
	return ctx.Err()
}

func (t *CookieRefreshTrigger) fire(ctx context.Context) {
	id, err := t.enqueuer.EnqueueRefresh(ctx)
	if err != nil {
		t.log.Error().Err(err).Msg("enqueue cookie refresh")
		return
	}
	t.log.Info().Str("task_id", id).Msg("cookie refresh enqueued")
}
