package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/infra/process"

	"github.com/rs/zerolog"
)

// fakeRunner simulates whisper-cli.
type fakeRunner struct {
	run   func(ctx context.Context, name string, args ...string) (process.Result, error)
	calls int
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (process.Result, error) {
	f.calls++
	if f.run == nil {
		return process.Result{}, nil
	}
	return f.run(ctx, name, args...)
}

func newTestTranscriber(runner process.Runner) *Transcriber {
	l := zerolog.Nop()
	cfg := baseWhisperConfig()
	cfg.CLIPath = "whisper-custom"
	return NewTranscriber(cfg, runner, &l)
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestTranscribeWritesTextNextToAudio(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "abc.wav")
	mustWriteFile(t, audio, "wav")

	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		if name != "whisper-custom" {
			t.Fatalf("command = %q, want whisper-custom", name)
		}
		base := argValue(args, "--output-file")
		mustWriteFile(t, base+".txt", " hello world \n")
		return process.Result{}, nil
	}}

	path, err := newTestTranscriber(runner).Transcribe(context.Background(), audio, model.FormatPlain)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if path != filepath.Join(dir, "abc.txt") {
		t.Fatalf("path = %q", path)
	}
	text, err := ReadTranscript(path)
	if err != nil {
		t.Fatalf("ReadTranscript() error = %v", err)
	}
	if text != "hello world" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeTimestampsExpectsSRT(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "abc.wav")

	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		// writes the wrong kind of file
		mustWriteFile(t, argValue(args, "--output-file")+".txt", "text")
		return process.Result{}, nil
	}}

	_, err := newTestTranscriber(runner).Transcribe(context.Background(), audio, model.FormatTimestamps)
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if !strings.Contains(err.Error(), "abc.srt") {
		t.Fatalf("error should name the missing srt file: %v", err)
	}
}

func TestTranscribeNonZeroExitCarriesStderr(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		return process.Result{Stderr: "error: failed to load model", ExitCode: 2}, errors.New("exit status 2")
	}}

	_, err := newTestTranscriber(runner).Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), model.FormatPlain)
	if err == nil {
		t.Fatal("expected error")
	}
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if terr.CommandLog.ExitCode != 2 {
		t.Fatalf("exit code = %d", terr.CommandLog.ExitCode)
	}
	if !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("stderr missing from error: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("whisper-cli must run exactly once, ran %d times", runner.calls)
	}
}

func TestTranscribeTimeout(t *testing.T) {
	runner := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (process.Result, error) {
		<-ctx.Done()
		return process.Result{ExitCode: -1}, ctx.Err()
	}}
	tr := newTestTranscriber(runner)
	tr.cfg.Timeout = 20 * time.Millisecond

	_, err := tr.Transcribe(context.Background(), filepath.Join(t.TempDir(), "a.wav"), model.FormatPlain)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestReadTranscriptEmptySpeech(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	mustWriteFile(t, path, "   \n")

	text, err := ReadTranscript(path)
	if err != nil {
		t.Fatalf("ReadTranscript() error = %v", err)
	}
	if text != model.NoSpeechPlaceholder {
		t.Fatalf("text = %q, want placeholder", text)
	}
}
