package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/infra/process"

	"github.com/rs/zerolog"
)

const stderrTail = 2048

var _ adapter.Transcriber = (*Transcriber)(nil)

// Error is a transcription failure with the captured command context.
type Error struct {
	Message    string      `json:"message"`
	CommandLog process.Log `json:"commandLog"`
	Err        error       `json:"-"`
}

// Error formats the failure with the tail of whisper-cli's stderr, which is
// what ends up in the job's error field.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := "transcription failed: " + e.Message
	if e.CommandLog.Command != "" {
		msg += fmt.Sprintf(" (exit=%d)", e.CommandLog.ExitCode)
	}
	if stderr := process.Tail(e.CommandLog.Stderr, stderrTail); stderr != "" {
		msg += ". Stderr: " + stderr
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Transcriber runs whisper-cli once per audio file. It never retries.
type Transcriber struct {
	cfg    config.WhisperConfig
	runner process.Runner
	stat   func(name string) (os.FileInfo, error)
	log    *zerolog.Logger
}

func NewTranscriber(cfg config.WhisperConfig, runner process.Runner, logger *zerolog.Logger) *Transcriber {
	l := logger.With().Str("component", "Transcriber").Logger()
	return &Transcriber{
		cfg:    cfg,
		runner: runner,
		stat:   os.Stat,
		log:    &l,
	}
}

// Transcribe writes <audio stem>.txt or .srt next to audioPath and returns its path.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string, format model.Format) (string, error) {
	outBase := OutputBase(audioPath)
	args := BuildWhisperArgs(t.cfg, audioPath, outBase, format)

	runCtx := ctx
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	t.log.Debug().Str("cmd", t.cfg.CLIPath).Strs("args", args).Msg("running whisper-cli")
	start := time.Now()
	res, runErr := t.runner.Run(runCtx, t.cfg.CLIPath, args...)
	cmdLog := process.NewLog(t.cfg.CLIPath, args, res)
	metrics.ObserveTranscription(time.Since(start), runErr == nil)

	if runErr != nil {
		msg := "whisper-cli exited with an error"
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("whisper-cli timed out after %s", t.cfg.Timeout)
		}
		return "", &Error{Message: msg, CommandLog: cmdLog, Err: runErr}
	}

	transcriptPath := outBase + format.OutputExt()
	if _, err := t.stat(transcriptPath); err != nil {
		return "", &Error{
			Message:    fmt.Sprintf("transcript file not found at %s", transcriptPath),
			CommandLog: cmdLog,
			Err:        err,
		}
	}
	return transcriptPath, nil
}

// ReadTranscript loads a transcript file and applies the empty-speech placeholder.
func ReadTranscript(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", path, err)
	}
	return model.NormalizeTranscript(string(b)), nil
}
