// Package credential keeps the shared browser cookie file fresh. Every
// mutation of the file happens under a distributed lock so that at most one
// process exports cookies at a time.
package credential

import (
	"context"
	"errors"
	"os"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// LockKey names the refresh lock in the shared lock service.
const LockKey = "cookie_refresh_lock"

type Outcome string

const (
	Refreshed     Outcome = "refreshed"
	SkippedLocked Outcome = "skipped_locked"
	Failed        Outcome = "failed"
	Disabled      Outcome = "disabled"
	// AlreadyFresh: the lock was won after a peer had refreshed the file.
	AlreadyFresh Outcome = "already_fresh"
)

var _ adapter.CredentialProvider = (*Manager)(nil)

type Manager struct {
	enabled  bool
	path     string
	interval time.Duration
	lockTTL  time.Duration
	locker   adapter.Locker
	exporter adapter.CookieExporter
	now      func() time.Time
	log      *zerolog.Logger
}

func NewManager(cfg config.CredentialConfig, locker adapter.Locker, exporter adapter.CookieExporter, logger *zerolog.Logger) *Manager {
	l := logger.With().Str("component", "CredentialManager").Logger()
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Manager{
		enabled:  cfg.Enabled,
		path:     cfg.CookieFile,
		interval: cfg.RefreshInterval(),
		lockTTL:  ttl,
		locker:   locker,
		exporter: exporter,
		now:      time.Now,
		log:      &l,
	}
}

// Path is the well-known location of the cookie file.
func (m *Manager) Path() string { return m.path }

// EnsureFresh refreshes a missing or stale cookie file and reports whether a
// usable file exists afterwards. It never fails the caller: when no file can
// be produced the download simply runs unauthenticated.
func (m *Manager) EnsureFresh(ctx context.Context) (string, bool) {
	if !m.enabled {
		return "", false
	}
	if m.isStale() {
		metrics.IncCookieRefresh(string(m.refresh(ctx, true)))
	}
	if _, err := os.Stat(m.path); err != nil {
		m.log.Debug().Err(err).Msg("no cookie file available, continuing without cookies")
		return "", false
	}
	return m.path, true
}

// isStale reports true when the file is missing or older than the interval.
func (m *Manager) isStale() bool {
	info, err := os.Stat(m.path)
	if err != nil {
		return true
	}
	return m.now().Sub(info.ModTime()) > m.interval
}

// Refresh exports fresh cookies if it can take the lock. A held lock means
// another process is already refreshing, which is enough for us.
func (m *Manager) Refresh(ctx context.Context) Outcome {
	out := m.refresh(ctx, false)
	metrics.IncCookieRefresh(string(out))
	return out
}

// refresh runs one export under the lock. The export is bounded by the lock
// TTL so it can never outlive its lease. With onlyIfStale the file is checked
// again once the lock is held.
func (m *Manager) refresh(ctx context.Context, onlyIfStale bool) Outcome {
	if !m.enabled {
		return Disabled
	}

	token, err := m.locker.TryLock(ctx, LockKey, m.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		m.log.Debug().Msg("cookie refresh already in progress elsewhere")
		return SkippedLocked
	}
	if err != nil {
		m.log.Error().Err(err).Msg("cookie refresh lock unavailable")
		return Failed
	}
	defer func() {
		// the lock expires on its own if this fails
		if err := m.locker.Unlock(context.WithoutCancel(ctx), LockKey, token); err != nil {
			m.log.Warn().Err(err).Msg("release cookie refresh lock")
		}
	}()

	if onlyIfStale && !m.isStale() {
		m.log.Debug().Msg("cookie file refreshed by a peer while waiting for the lock")
		return AlreadyFresh
	}

	exportCtx, cancel := context.WithTimeout(ctx, m.lockTTL)
	defer cancel()

	start := m.now()
	if err := m.exporter.Export(exportCtx, m.path); err != nil {
		m.log.Error().Err(err).Msg("cookie refresh failed")
		return Failed
	}
	m.log.Info().Str("path", m.path).Dur("took", m.now().Sub(start)).Msg("cookies refreshed")
	return Refreshed
}
