package model

import (
	"fmt"
	"strings"
	"time"

	"shorts-transcriber/internal/domain"
)

// NoSpeechPlaceholder stands in for a transcript that came back empty.
const NoSpeechPlaceholder = "No speech detected."

type Format string

const (
	FormatPlain      Format = "plain"
	FormatTimestamps Format = "timestamps"
)

// ParseFormat validates a requested output format. Empty means plain.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatPlain, nil
	case FormatPlain, FormatTimestamps:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", domain.ErrInvalidArgument, raw)
	}
}

// OutputExt is the extension whisper-cli gives the transcript for this format.
func (f Format) OutputExt() string {
	if f == FormatTimestamps {
		return ".srt"
	}
	return ".txt"
}

type JobState string

const (
	JobStateQueued       JobState = "queued"
	JobStateDownloading  JobState = "downloading"
	JobStateTranscribing JobState = "transcribing"
	JobStateFinalizing   JobState = "finalizing"
	JobStateSucceeded    JobState = "succeeded"
	JobStateFailed       JobState = "failed"
)

// stage holds the progress and step label reported for each state.
type stage struct {
	progress int
	step     string
	order    int
}

var stages = map[JobState]stage{
	JobStateQueued:       {progress: 0, step: "queued", order: 0},
	JobStateDownloading:  {progress: 10, step: "downloading", order: 1},
	JobStateTranscribing: {progress: 50, step: "transcribing", order: 2},
	JobStateFinalizing:   {progress: 90, step: "finalizing", order: 3},
	JobStateSucceeded:    {progress: 100, step: "done", order: 4},
	JobStateFailed:       {progress: 100, step: "failed", order: 4},
}

// Progress returns the fixed progress value of a state (0 for unknown states).
func (s JobState) Progress() int { return stages[s].progress }

// Step returns the human-facing step label of a state.
func (s JobState) Step() string {
	if st, ok := stages[s]; ok {
		return st.step
	}
	return strings.ToLower(string(s))
}

func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// CanTransition reports whether from -> to moves the job forward.
// Failure is reachable from every non-terminal state.
func CanTransition(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	src, ok := stages[from]
	if !ok {
		return false
	}
	dst, ok := stages[to]
	if !ok {
		return false
	}
	if to == JobStateFailed {
		return true
	}
	return dst.order == src.order+1
}

// JobInput is what a caller submits. Immutable once enqueued.
type JobInput struct {
	URL    string `json:"url"`
	Format Format `json:"format"`
}

// TranscriptionJob is the unit of work executed by one worker.
type TranscriptionJob struct {
	ID         string
	Input      JobInput
	EnqueuedAt time.Time
}

// JobView is the externally visible snapshot stored per transition.
type JobView struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Progress  int       `json:"progress"`
	Step      string    `json:"step"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobView builds the snapshot of a job entering state.
func NewJobView(id string, state JobState) JobView {
	return JobView{
		ID:        id,
		State:     state,
		Progress:  state.Progress(),
		Step:      state.Step(),
		UpdatedAt: time.Now().UTC(),
	}
}

// QueuedView is what pollers see before a worker picks the job up.
func QueuedView(id string) JobView {
	return NewJobView(id, JobStateQueued)
}

func SucceededView(id, transcript string) JobView {
	v := NewJobView(id, JobStateSucceeded)
	v.Result = NormalizeTranscript(transcript)
	return v
}

func FailedView(id string, cause error) JobView {
	v := NewJobView(id, JobStateFailed)
	if cause != nil {
		v.Error = cause.Error()
	}
	if v.Error == "" {
		v.Error = "An unknown error occurred."
	}
	return v
}

// NormalizeTranscript trims whitespace and substitutes the placeholder for empty speech.
func NormalizeTranscript(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return NoSpeechPlaceholder
	}
	return text
}
