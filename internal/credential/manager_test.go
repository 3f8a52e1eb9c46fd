package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/infra/process"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLocker is an in-process Locker with TTL semantics.
type memLocker struct {
	mu      sync.Mutex
	holders map[string]memLease
	seq     int
	unlocks int
	err     error
	// acquired, when set, runs right after a successful TryLock.
	acquired func()
}

type memLease struct {
	token   string
	expires time.Time
}

func newMemLocker() *memLocker { return &memLocker{holders: map[string]memLease{}} }

func (l *memLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	if h, ok := l.holders[key]; ok && time.Now().Before(h.expires) {
		return "", domain.ErrLockHeld
	}
	l.seq++
	tok := string(rune('a' + l.seq))
	l.holders[key] = memLease{token: tok, expires: time.Now().Add(ttl)}
	if l.acquired != nil {
		l.acquired()
	}
	return tok, nil
}

func (l *memLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	if h, ok := l.holders[key]; ok && h.token == token {
		delete(l.holders, key)
	}
	return nil
}

// fakeExporter writes the cookie file, optionally blocking until released.
type fakeExporter struct {
	calls   atomic.Int32
	err     error
	started chan struct{}
	release chan struct{}
	// hang blocks until the export context ends.
	hang bool
}

func (e *fakeExporter) Export(ctx context.Context, path string) error {
	e.calls.Add(1)
	if e.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if e.started != nil {
		close(e.started)
	}
	if e.release != nil {
		<-e.release
	}
	if e.err != nil {
		return e.err
	}
	return os.WriteFile(path, []byte("# Netscape HTTP Cookie File\n"), 0o600)
}

func newTestManager(t *testing.T, locker *memLocker, exp *fakeExporter) *Manager {
	t.Helper()
	l := zerolog.Nop()
	cfg := config.CredentialConfig{
		Enabled:      true,
		CookieFile:   filepath.Join(t.TempDir(), "cookies.txt"),
		RefreshHours: 12,
		LockTTL:      time.Minute,
	}
	return NewManager(cfg, locker, exp, &l)
}

func TestEnsureFreshDisabledDoesNoIO(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)
	m.enabled = false

	path, ok := m.EnsureFresh(context.Background())
	assert.False(t, ok)
	assert.Empty(t, path)
	assert.Zero(t, exp.calls.Load())
	assert.Equal(t, Disabled, m.Refresh(context.Background()))
}

func TestEnsureFreshMissingFileRefreshes(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)

	path, ok := m.EnsureFresh(context.Background())
	require.True(t, ok)
	assert.Equal(t, m.Path(), path)
	assert.EqualValues(t, 1, exp.calls.Load())
	assert.Equal(t, 1, locker.unlocks, "lock must be released after refresh")
}

func TestEnsureFreshSkipsFreshFile(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)
	require.NoError(t, os.WriteFile(m.Path(), []byte("x"), 0o600))

	_, ok := m.EnsureFresh(context.Background())
	assert.True(t, ok)
	assert.Zero(t, exp.calls.Load())
}

func TestEnsureFreshRefreshesStaleFile(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)
	require.NoError(t, os.WriteFile(m.Path(), []byte("x"), 0o600))
	m.now = func() time.Time { return time.Now().Add(13 * time.Hour) }

	_, ok := m.EnsureFresh(context.Background())
	assert.True(t, ok)
	assert.EqualValues(t, 1, exp.calls.Load())
}

func TestEnsureFreshExportFailureKeepsOldFile(t *testing.T) {
	locker := newMemLocker()
	exp := &fakeExporter{err: errors.New("browser profile locked")}
	m := newTestManager(t, locker, exp)
	require.NoError(t, os.WriteFile(m.Path(), []byte("old"), 0o600))
	m.now = func() time.Time { return time.Now().Add(24 * time.Hour) }

	path, ok := m.EnsureFresh(context.Background())
	assert.True(t, ok, "stale cookies are still better than none")
	assert.Equal(t, m.Path(), path)
}

func TestEnsureFreshExportFailureWithoutFile(t *testing.T) {
	exp := &fakeExporter{err: errors.New("no browser")}
	m := newTestManager(t, newMemLocker(), exp)

	path, ok := m.EnsureFresh(context.Background())
	assert.False(t, ok)
	assert.Empty(t, path)
	assert.Equal(t, Failed, m.Refresh(context.Background()))
}

func TestRefreshLockServiceErrorIsSwallowed(t *testing.T) {
	locker := newMemLocker()
	locker.err = errors.New("connection refused")
	exp := &fakeExporter{}
	m := newTestManager(t, locker, exp)

	assert.Equal(t, Failed, m.Refresh(context.Background()))
	assert.Zero(t, exp.calls.Load())
}

func TestRefreshIsSingleFlight(t *testing.T) {
	locker := newMemLocker()
	exp := &fakeExporter{started: make(chan struct{}), release: make(chan struct{})}
	m := newTestManager(t, locker, exp)

	first := make(chan Outcome, 1)
	go func() { first <- m.Refresh(context.Background()) }()
	<-exp.started

	// second caller sees the held lock and returns immediately
	assert.Equal(t, SkippedLocked, m.Refresh(context.Background()))

	close(exp.release)
	assert.Equal(t, Refreshed, <-first)
	assert.EqualValues(t, 1, exp.calls.Load())
}

func TestEnsureFreshSkipsExportWhenPeerRefreshedFirst(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)
	// the file is missing when checked, and a peer writes it just before
	// this process wins the lock
	locker.acquired = func() {
		require.NoError(t, os.WriteFile(m.Path(), []byte("peer"), 0o600))
	}

	path, ok := m.EnsureFresh(context.Background())
	require.True(t, ok)
	assert.Equal(t, m.Path(), path)
	assert.Zero(t, exp.calls.Load())
	assert.Equal(t, 1, locker.unlocks)
}

func TestRefreshAlwaysExportsOnRequest(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{}
	m := newTestManager(t, locker, exp)
	require.NoError(t, os.WriteFile(m.Path(), []byte("x"), 0o600))

	assert.Equal(t, Refreshed, m.Refresh(context.Background()))
	assert.EqualValues(t, 1, exp.calls.Load())
}

func TestRefreshExportBoundedByLockTTL(t *testing.T) {
	locker, exp := newMemLocker(), &fakeExporter{hang: true}
	m := newTestManager(t, locker, exp)
	m.lockTTL = 30 * time.Millisecond

	done := make(chan Outcome, 1)
	go func() { done <- m.Refresh(context.Background()) }()

	select {
	case out := <-done:
		assert.Equal(t, Failed, out)
	case <-time.After(2 * time.Second):
		t.Fatal("export outlived the lock lease")
	}
	assert.Equal(t, 1, locker.unlocks)
}

type scriptedRunner struct {
	args []string
	run  func(args []string) (process.Result, error)
}

func (r *scriptedRunner) Run(_ context.Context, _ string, args ...string) (process.Result, error) {
	r.args = args
	return r.run(args)
}

func TestYtDlpExporterRenamesTempFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cookies.txt")
	runner := &scriptedRunner{run: func(args []string) (process.Result, error) {
		return process.Result{}, os.WriteFile(args[5], []byte("cookies"), 0o600)
	}}
	exp := newTestExporter(runner)

	require.NoError(t, exp.Export(context.Background(), target))
	assert.Equal(t, []string{
		"--cookies-from-browser", "edge",
		"--max-downloads", "0",
		"--cookies", target + ".tmp",
		"--", "https://www.tiktok.com",
	}, runner.args)

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "cookies", string(b))
	assert.NoFileExists(t, target+".tmp")
}

func newTestExporter(runner process.Runner) *YtDlpExporter {
	l := zerolog.Nop()
	return NewYtDlpExporter(config.CredentialConfig{Browser: "edge", ProbeURL: "https://www.tiktok.com"}, "yt-dlp", runner, &l)
}

func TestYtDlpExporterInstallsJarDespiteNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cookies.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))
	runner := &scriptedRunner{run: func(args []string) (process.Result, error) {
		if err := os.WriteFile(args[5], []byte("fresh"), 0o600); err != nil {
			return process.Result{}, err
		}
		return process.Result{Stderr: "Maximum number of downloads reached", ExitCode: 101}, errors.New("exit status 101")
	}}

	require.NoError(t, newTestExporter(runner).Export(context.Background(), target))

	b, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(b))
	assert.NoFileExists(t, target+".tmp")
}

func TestYtDlpExporterFailureWithoutJarLeavesTargetUntouched(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cookies.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o600))
	runner := &scriptedRunner{run: func(args []string) (process.Result, error) {
		return process.Result{Stderr: "could not find edge cookies database", ExitCode: 1}, errors.New("exit status 1")
	}}

	err := newTestExporter(runner).Export(context.Background(), target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cookies database")

	b, _ := os.ReadFile(target)
	assert.Equal(t, "old", string(b))
}

func TestYtDlpExporterEmptyJarIsAnError(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cookies.txt")
	runner := &scriptedRunner{run: func(args []string) (process.Result, error) {
		return process.Result{}, os.WriteFile(args[5], nil, 0o600)
	}}

	require.Error(t, newTestExporter(runner).Export(context.Background(), target))
	assert.NoFileExists(t, target)
	assert.NoFileExists(t, target+".tmp")
}
