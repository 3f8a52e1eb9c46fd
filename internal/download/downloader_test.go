package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/infra/process"
	"shorts-transcriber/internal/retry"

	"github.com/rs/zerolog"
)

type fakeRunner struct {
	run   func(attempt int, args []string) (process.Result, error)
	calls int
	args  [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (process.Result, error) {
	f.calls++
	f.args = append(f.args, args)
	return f.run(f.calls, args)
}

type staticCreds struct {
	path string
	ok   bool
}

func (s staticCreds) EnsureFresh(context.Context) (string, bool) { return s.path, s.ok }

func testConfig() config.DownloadConfig {
	return config.DownloadConfig{
		YtDlpPath:     "yt-dlp",
		FFmpegPath:    "/usr/bin/ffmpeg",
		AudioFormat:   "wav",
		AudioQuality:  "64K",
		EngineRetries: 5,
		MaxAttempts:   3,
		Backoff:       time.Millisecond,
	}
}

func newTestDownloader(t *testing.T, runner process.Runner, creds staticCreds) *Downloader {
	t.Helper()
	l := zerolog.Nop()
	cfg := testConfig()
	cfg.WorkDir = t.TempDir()
	return NewDownloader(cfg, creds, runner, &l)
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// writeOutput emulates yt-dlp writing <id>.wav into the output template dir.
func writeOutput(t *testing.T, args []string, name string) {
	t.Helper()
	dir := filepath.Dir(argAfter(args, "--output"))
	if err := os.WriteFile(filepath.Join(dir, name), []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write output: %v", err)
	}
}

func workspaces(t *testing.T, root string) []string {
	t.Helper()
	m, err := filepath.Glob(filepath.Join(root, "transcribe-*"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDownloadSucceedsAfterTwoFailures(t *testing.T) {
	runner := &fakeRunner{}
	runner.run = func(attempt int, args []string) (process.Result, error) {
		if attempt < 3 {
			return process.Result{Stderr: "HTTP Error 403", ExitCode: 1}, errors.New("exit status 1")
		}
		writeOutput(t, args, "vid123.wav")
		return process.Result{}, nil
	}
	d := newTestDownloader(t, runner, staticCreds{})

	path, err := d.Download(context.Background(), "https://example.com/v/1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if runner.calls != 3 {
		t.Fatalf("calls = %d, want 3", runner.calls)
	}
	if !filepath.IsAbs(path) || filepath.Base(path) != "vid123.wav" {
		t.Fatalf("path = %q", path)
	}
	// only the successful attempt's workspace survives
	if ws := workspaces(t, d.tempRoot); len(ws) != 1 || ws[0] != filepath.Dir(path) {
		t.Fatalf("workspaces = %v", ws)
	}
}

func TestDownloadExhaustedReturnsSingleErrorKind(t *testing.T) {
	runner := &fakeRunner{run: func(attempt int, args []string) (process.Result, error) {
		return process.Result{Stderr: "Unsupported URL", ExitCode: 1}, errors.New("exit status 1")
	}}
	d := newTestDownloader(t, runner, staticCreds{})

	_, err := d.Download(context.Background(), "https://example.com/nope")
	var derr *Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if derr.Attempts != 3 || derr.Status != retry.Exhausted {
		t.Fatalf("attempts=%d status=%s", derr.Attempts, derr.Status)
	}
	if !strings.HasPrefix(err.Error(), "download failed after retries: ") {
		t.Fatalf("message = %q", err.Error())
	}
	if !strings.Contains(err.Error(), "Unsupported URL") {
		t.Fatalf("last cause missing: %q", err.Error())
	}
	if ws := workspaces(t, d.tempRoot); len(ws) != 0 {
		t.Fatalf("failed attempts left workspaces behind: %v", ws)
	}
}

func TestDownloadMissingOutputIsRetried(t *testing.T) {
	runner := &fakeRunner{run: func(attempt int, args []string) (process.Result, error) {
		if attempt == 1 {
			return process.Result{}, nil
		}
		writeOutput(t, args, "x.wav")
		return process.Result{}, nil
	}}
	d := newTestDownloader(t, runner, staticCreds{})

	if _, err := d.Download(context.Background(), "https://example.com/v"); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if runner.calls != 2 {
		t.Fatalf("calls = %d, want 2", runner.calls)
	}
}

func TestDownloadOnlyMissingOutputWrapsSentinel(t *testing.T) {
	runner := &fakeRunner{run: func(int, []string) (process.Result, error) { return process.Result{}, nil }}
	d := newTestDownloader(t, runner, staticCreds{})

	_, err := d.Download(context.Background(), "https://example.com/v")
	if !errors.Is(err, ErrNoAudioOutput) {
		t.Fatalf("expected ErrNoAudioOutput in chain, got %v", err)
	}
}

func TestDownloadCookieArgument(t *testing.T) {
	ok := func(attempt int, args []string) (process.Result, error) {
		writeOutput(t, args, "a.wav")
		return process.Result{}, nil
	}

	withCookies := &fakeRunner{run: ok}
	d := newTestDownloader(t, withCookies, staticCreds{path: "/data/cookies.txt", ok: true})
	if _, err := d.Download(context.Background(), "https://example.com/a"); err != nil {
		t.Fatal(err)
	}
	if got := argAfter(withCookies.args[0], "--cookies"); got != "/data/cookies.txt" {
		t.Fatalf("--cookies = %q", got)
	}

	without := &fakeRunner{run: ok}
	d = newTestDownloader(t, without, staticCreds{})
	if _, err := d.Download(context.Background(), "https://example.com/a"); err != nil {
		t.Fatal(err)
	}
	if slices.Contains(without.args[0], "--cookies") {
		t.Fatalf("unauthenticated download must omit --cookies: %v", without.args[0])
	}
}

func TestDownloadNilCredentialProvider(t *testing.T) {
	runner := &fakeRunner{run: func(attempt int, args []string) (process.Result, error) {
		writeOutput(t, args, "a.wav")
		return process.Result{}, nil
	}}
	l := zerolog.Nop()
	cfg := testConfig()
	cfg.WorkDir = t.TempDir()
	d := NewDownloader(cfg, nil, runner, &l)

	path, err := d.Download(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if got := filepath.Dir(filepath.Dir(path)); got != cfg.WorkDir {
		t.Errorf("workspace parent = %q, want configured work dir %q", got, cfg.WorkDir)
	}
}

func TestDownloadStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{run: func(int, []string) (process.Result, error) {
		cancel()
		return process.Result{ExitCode: -1}, context.Canceled
	}}
	d := newTestDownloader(t, runner, staticCreds{})
	d.policy.Backoff = time.Hour

	_, err := d.Download(ctx, "https://example.com/a")
	var derr *Error
	if !errors.As(err, &derr) || derr.Status != retry.Aborted {
		t.Fatalf("expected aborted *Error, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("calls = %d, want 1", runner.calls)
	}
}

func TestBuildYtDlpArgs(t *testing.T) {
	args := BuildYtDlpArgs(testConfig(), "/w/%(id)s.%(ext)s", "", "-https://evil")

	for flag, want := range map[string]string{
		"--format":           "worstaudio/best",
		"--output":           "/w/%(id)s.%(ext)s",
		"--audio-format":     "wav",
		"--audio-quality":    "64K",
		"--retries":          "5",
		"--fragment-retries": "5",
		"--ffmpeg-location":  "/usr/bin/ffmpeg",
	} {
		if got := argAfter(args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}
	for _, flag := range []string{"--no-playlist", "--extract-audio", "--quiet"} {
		if !slices.Contains(args, flag) {
			t.Errorf("missing %s", flag)
		}
	}
	n := len(args)
	if args[n-2] != "--" || args[n-1] != "-https://evil" {
		t.Fatalf("url must follow --, args=%v", args)
	}
}

func TestCleanupRemovesWorkspaceAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "transcribe-abc")
	if err := os.Mkdir(ws, 0o700); err != nil {
		t.Fatal(err)
	}
	audio := filepath.Join(ws, "a.wav")
	if err := os.WriteFile(audio, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "a.txt"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	d := newTestDownloader(t, &fakeRunner{}, staticCreds{})
	if err := d.Cleanup(audio); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(ws); !os.IsNotExist(err) {
		t.Fatalf("workspace still exists: %v", err)
	}
	if err := d.Cleanup(audio); err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if err := d.Cleanup(""); err != nil {
		t.Fatalf("Cleanup(\"\") error = %v", err)
	}
}

func TestCleanupRefusesSharedDirectories(t *testing.T) {
	d := newTestDownloader(t, &fakeRunner{}, staticCreds{})
	removed := false
	d.removeAll = func(string) error { removed = true; return nil }

	for _, p := range []string{"a.wav", "/a.wav", filepath.Join(os.TempDir(), "a.wav")} {
		if err := d.Cleanup(p); err == nil {
			t.Errorf("Cleanup(%q) should refuse", p)
		}
	}
	if removed {
		t.Fatal("removeAll must not be called for shared directories")
	}
}
