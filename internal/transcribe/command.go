package transcribe

import (
	"path/filepath"
	"strconv"
	"strings"

	"shorts-transcriber/internal/config"
	"shorts-transcriber/internal/domain/model"
)

// BuildWhisperArgs composes the whisper-cli argument vector for one audio file.
// The result is handed to exec as discrete arguments, never joined into a
// shell string, so values need no quoting. Optional values equal to "" or
// "0" are left out together with their flag.
func BuildWhisperArgs(cfg config.WhisperConfig, audioPath, outBase string, format model.Format) []string {
	args := []string{
		"--model", safePath(cfg.ModelPath),
	}
	if cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(cfg.Threads))
	}
	args = append(args, "--output-file", safePath(outBase))

	optional := []struct {
		flag  string
		value string
	}{
		{"--language", cfg.Language},
		{"--max-context", cfg.MaxContext},
		{"--max-len", cfg.MaxLen},
		{"--best-of", cfg.BestOf},
		{"--beam-size", cfg.BeamSize},
	}
	for _, opt := range optional {
		if v := strings.TrimSpace(opt.value); isSet(v) {
			args = append(args, opt.flag, v)
		}
	}

	switch format {
	case model.FormatTimestamps:
		args = append(args, "--output-srt")
	default:
		args = append(args, "--output-txt", "--no-timestamps")
	}
	if cfg.Translate {
		args = append(args, "--translate")
	}
	if cfg.SplitOnWord {
		args = append(args, "--split-on-word")
	}

	return append(args, safePath(audioPath))
}

// OutputBase is the --output-file value for audioPath: same directory and
// stem, whisper-cli appends the extension.
func OutputBase(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
}

func isSet(v string) bool {
	return v != "" && v != "0"
}

// safePath keeps a relative path that starts with "-" from being read as a flag.
func safePath(p string) string {
	if strings.HasPrefix(p, "-") {
		return "." + string(filepath.Separator) + p
	}
	return p
}
