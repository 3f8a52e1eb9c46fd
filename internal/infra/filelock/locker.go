// Package filelock is a Locker for single-host deployments. The lock is an
// flock(2) on <dir>/<key>.lock, so the kernel drops it when the holding
// process dies; the ttl argument is not needed and is ignored.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/ports/adapter"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

var _ adapter.Locker = (*Locker)(nil)

type Locker struct {
	dir string

	mu   sync.Mutex
	held map[string]*flock.Flock // token -> lock
}

func New(dir string) (*Locker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Locker{dir: dir, held: map[string]*flock.Flock{}}, nil
}

func (l *Locker) path(key string) string {
	return filepath.Join(l.dir, filepath.Base(key)+".lock")
}

func (l *Locker) TryLock(_ context.Context, key string, _ time.Duration) (string, error) {
	fl := flock.New(l.path(key))
	ok, err := fl.TryLock()
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.held[token] = fl
	l.mu.Unlock()
	return token, nil
}

// Unlock releases the lock acquired with token. Unknown tokens are a no-op.
func (l *Locker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	fl, ok := l.held[token]
	delete(l.held, token)
	l.mu.Unlock()

	if !ok || fl.Path() != l.path(key) {
		return nil
	}
	return fl.Unlock()
}
