package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/infra/process"
	"shorts-transcriber/internal/retry"

	"github.com/rs/zerolog"
)

// WorkspacePattern is the os.MkdirTemp pattern of every download workspace.
const WorkspacePattern = "transcribe-*"

// ErrNoAudioOutput means yt-dlp exited cleanly but left no audio file behind.
var ErrNoAudioOutput = errors.New("yt-dlp did not produce an audio file")

var _ adapter.AudioDownloader = (*Downloader)(nil)

// Error is the single failure kind callers see once the retry budget is spent
// (or the context ended). It unwraps to the last attempt's cause.
type Error struct {
	URL      string
	Attempts int
	Status   retry.Status
	Err      error
}

func (e *Error) Error() string {
	if e.Status == retry.Aborted {
		return fmt.Sprintf("download aborted after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("download failed after retries: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Downloader fetches worst-quality audio with yt-dlp and converts it to a
// fixed container via ffmpeg.
type Downloader struct {
	cfg       config.DownloadConfig
	creds     adapter.CredentialProvider
	runner    process.Runner
	policy    retry.Policy
	tempRoot  string
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
	log       *zerolog.Logger
}

// NewDownloader wires the downloader. creds may be nil (always unauthenticated).
func NewDownloader(cfg config.DownloadConfig, creds adapter.CredentialProvider, runner process.Runner, logger *zerolog.Logger) *Downloader {
	l := logger.With().Str("component", "Downloader").Logger()
	d := &Downloader{
		cfg:       cfg,
		creds:     creds,
		runner:    runner,
		policy:    retry.Policy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff},
		tempRoot:  cfg.WorkDir,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
		log:       &l,
	}
	d.policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		d.log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("download attempt failed, retrying")
	}
	return d
}

// Download returns the absolute path of the converted audio file.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	var audioPath string
	out := d.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		p, err := d.attempt(ctx, url)
		if err != nil {
			metrics.IncDownloadAttempt("error")
			return err
		}
		metrics.IncDownloadAttempt("ok")
		audioPath = p
		return nil
	})
	metrics.IncDownload(out.Status.String())

	if out.Status != retry.Succeeded {
		return "", &Error{URL: url, Attempts: out.Attempts, Status: out.Status, Err: out.LastErr}
	}
	d.log.Debug().Str("path", audioPath).Int("attempts", out.Attempts).Msg("audio downloaded")
	return audioPath, nil
}

// attempt is one isolated try: fresh workspace, one yt-dlp run, locate output.
// A failed attempt removes its own workspace.
func (d *Downloader) attempt(ctx context.Context, url string) (path string, err error) {
	dir, err := d.mkdirTemp(d.tempRoot, WorkspacePattern)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = d.removeAll(dir)
		}
	}()

	cookies := ""
	if d.creds != nil {
		if p, ok := d.creds.EnsureFresh(ctx); ok {
			cookies = p
		}
	}

	args := BuildYtDlpArgs(d.cfg, filepath.Join(dir, "%(id)s.%(ext)s"), cookies, url)
	res, runErr := d.runner.Run(ctx, d.cfg.YtDlpPath, args...)
	if runErr != nil {
		if stderr := process.Tail(res.Stderr, 512); stderr != "" {
			return "", fmt.Errorf("yt-dlp: %w: %s", runErr, stderr)
		}
		return "", fmt.Errorf("yt-dlp: %w", runErr)
	}

	return findAudio(dir, d.audioExt())
}

func (d *Downloader) audioExt() string {
	if d.cfg.AudioFormat == "" {
		return "wav"
	}
	return d.cfg.AudioFormat
}

// Cleanup removes the workspace that holds audioPath.
func (d *Downloader) Cleanup(audioPath string) error {
	return removeWorkspace(audioPath, d.removeAll)
}

// BuildYtDlpArgs composes the yt-dlp argument vector. cookieFile is optional.
func BuildYtDlpArgs(cfg config.DownloadConfig, outTemplate, cookieFile, url string) []string {
	format := cfg.AudioFormat
	if format == "" {
		format = "wav"
	}
	args := []string{
		"--format", "worstaudio/best",
		"--output", outTemplate,
		"--quiet",
		"--no-warnings",
		"--no-playlist",
		"--extract-audio",
		"--audio-format", format,
	}
	if cfg.AudioQuality != "" {
		args = append(args, "--audio-quality", cfg.AudioQuality)
	}
	if cfg.EngineRetries > 0 {
		n := strconv.Itoa(cfg.EngineRetries)
		args = append(args, "--retries", n, "--fragment-retries", n)
	}
	if cfg.FFmpegPath != "" {
		args = append(args, "--ffmpeg-location", cfg.FFmpegPath)
	}
	if cookieFile != "" {
		args = append(args, "--cookies", cookieFile)
	}
	// "--" ends option parsing so a URL can never be read as a flag.
	return append(args, "--", url)
}

// findAudio resolves the single converted file yt-dlp left in dir.
func findAudio(dir, ext string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*."+ext))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrNoAudioOutput
	}
	return filepath.Abs(matches[0])
}
