package model

import "time"

type TaskKind string

const (
	TaskTranscribe     TaskKind = "transcribe"
	TaskRefreshCookies TaskKind = "refresh_cookies"
)

// Task is the envelope that travels on the work queue.
type Task struct {
	ID         string    `json:"id"`
	Kind       TaskKind  `json:"kind"`
	Input      *JobInput `json:"input,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Job converts a transcribe task into the job it describes.
func (t *Task) Job() TranscriptionJob {
	job := TranscriptionJob{ID: t.ID, EnqueuedAt: t.EnqueuedAt}
	if t.Input != nil {
		job.Input = *t.Input
	}
	return job
}
