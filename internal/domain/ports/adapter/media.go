package adapter

import (
	"context"

	"shorts-transcriber/internal/domain/model"
)

// AudioDownloader fetches the audio track of a media URL into a fresh
// temporary workspace and returns the absolute path of the audio file.
type AudioDownloader interface {
	Download(ctx context.Context, url string) (string, error)
	// Cleanup removes the workspace holding audioPath. Safe to call twice.
	Cleanup(audioPath string) error
}

// Transcriber runs speech recognition on an audio file and returns the
// path of the transcript file written next to it.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, format model.Format) (string, error)
}

// CredentialProvider hands out a usable cookie file, if any.
type CredentialProvider interface {
	EnsureFresh(ctx context.Context) (path string, ok bool)
}

// CookieExporter writes a browser-derived cookie file to path.
type CookieExporter interface {
	Export(ctx context.Context, path string) error
}
