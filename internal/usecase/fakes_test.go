// File: internal/usecase/fakes_test.go
package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
)

// recordingSink keeps every published view in order. err fails progress
// writes; the first terminalFailures terminal writes fail too.
type recordingSink struct {
	mu               sync.Mutex
	views            []model.JobView
	err              error
	terminalFailures int
}

func (s *recordingSink) Publish(_ context.Context, v model.JobView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, v)
	if v.State.IsTerminal() {
		if s.terminalFailures > 0 {
			s.terminalFailures--
			return errors.New("redis: i/o timeout")
		}
		return nil
	}
	return s.err
}

func (s *recordingSink) progress() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v.Progress)
	}
	return out
}

func (s *recordingSink) states() []model.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.JobState, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, v.State)
	}
	return out
}

// memResultStore is an in-memory ResultStore.
type memResultStore struct {
	mu     sync.Mutex
	views  map[string]model.JobView
	getErr error
}

func newMemResultStore() *memResultStore {
	return &memResultStore{views: map[string]model.JobView{}}
}

func (m *memResultStore) Publish(_ context.Context, v model.JobView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views[v.ID] = v
	return nil
}

func (m *memResultStore) Init(_ context.Context, v model.JobView) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.views[v.ID]; !ok {
		m.views[v.ID] = v
	}
	return nil
}

func (m *memResultStore) Get(_ context.Context, id string) (*model.JobView, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

// memQueue records pushed tasks or fails every push.
type memQueue struct {
	mu    sync.Mutex
	tasks []*model.Task
	err   error
}

func (q *memQueue) Push(_ context.Context, t *model.Task) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return nil
}

// fakeDownloader creates a real workspace with an audio file in it.
type fakeDownloader struct {
	root     string
	err      error
	panicMsg string
	cleaned  []string
	lastPath string
}

func (d *fakeDownloader) Download(_ context.Context, _ string) (string, error) {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	if d.err != nil {
		return "", d.err
	}
	dir, err := os.MkdirTemp(d.root, "transcribe-*")
	if err != nil {
		return "", err
	}
	p := filepath.Join(dir, "vid.wav")
	if err := os.WriteFile(p, []byte("RIFF"), 0o600); err != nil {
		return "", err
	}
	d.lastPath = p
	return p, nil
}

func (d *fakeDownloader) Cleanup(audioPath string) error {
	d.cleaned = append(d.cleaned, audioPath)
	return os.RemoveAll(filepath.Dir(audioPath))
}

// fakeTranscriber writes text next to the audio file, or fails like whisper-cli.
type fakeTranscriber struct {
	text  string
	err   error
	calls int
	got   model.Format
}

func (t *fakeTranscriber) Transcribe(_ context.Context, audioPath string, format model.Format) (string, error) {
	t.calls++
	t.got = format
	if t.err != nil {
		return "", t.err
	}
	out := audioPath[:len(audioPath)-len(filepath.Ext(audioPath))] + format.OutputExt()
	if err := os.WriteFile(out, []byte(t.text), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

var errBrokerDown = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
