package credential

import (
	"context"
	"fmt"
	"os"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain/ports/adapter"
	"shorts-transcriber/internal/infra/process"

	"github.com/rs/zerolog"
)

var _ adapter.CookieExporter = (*YtDlpExporter)(nil)

// YtDlpExporter dumps a browser's cookies through yt-dlp without downloading anything.
type YtDlpExporter struct {
	bin      string
	browser  string
	probeURL string
	runner   process.Runner
	log      *zerolog.Logger
}

func NewYtDlpExporter(cfg config.CredentialConfig, ytDlpPath string, runner process.Runner, logger *zerolog.Logger) *YtDlpExporter {
	l := logger.With().Str("component", "CookieExporter").Logger()
	return &YtDlpExporter{bin: ytDlpPath, browser: cfg.Browser, probeURL: cfg.ProbeURL, runner: runner, log: &l}
}

// Args is the yt-dlp argument vector writing cookies to out.
func (e *YtDlpExporter) Args(out string) []string {
	return []string{
		"--cookies-from-browser", e.browser,
		"--max-downloads", "0",
		"--cookies", out,
		"--", e.probeURL,
	}
}

// Export writes to a sibling temp file and renames it over path, so readers
// never see a half-written cookie file. yt-dlp saves the jar on exit even
// when it stops early (--max-downloads 0 exits 101), so a non-empty jar is
// installed whatever the exit status.
func (e *YtDlpExporter) Export(ctx context.Context, path string) error {
	tmp := path + ".tmp"
	res, runErr := e.runner.Run(ctx, e.bin, e.Args(tmp)...)

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(tmp)
		if runErr != nil {
			return fmt.Errorf("export cookies from %s: %w: %s", e.browser, runErr, process.Tail(res.Stderr, 512))
		}
		return fmt.Errorf("export cookies from %s: no cookie file written", e.browser)
	}
	if runErr != nil {
		e.log.Warn().
			Err(runErr).
			Int("exit_code", res.ExitCode).
			Str("stderr", process.Tail(res.Stderr, 256)).
			Msg("yt-dlp exited non-zero, installing exported cookies anyway")
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install cookie file: %w", err)
	}
	return nil
}
