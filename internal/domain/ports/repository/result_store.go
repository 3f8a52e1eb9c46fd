package repository

import (
	"context"

	"shorts-transcriber/internal/domain/model"
)

// ProgressSink receives every state transition of a job, in order.
type ProgressSink interface {
	Publish(ctx context.Context, view model.JobView) error
}

// ResultStore keeps the latest view per job id until it expires.
type ResultStore interface {
	ProgressSink
	// Init writes view only if no entry exists yet for its id.
	Init(ctx context.Context, view model.JobView) error
	// Get returns domain.ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (*model.JobView, error)
}
