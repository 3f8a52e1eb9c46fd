package repository

import (
	"context"
	"time"

	"shorts-transcriber/internal/domain/model"
)

// Delivery is a task claimed by one worker. Receipt identifies the exact
// queue entry so it can be acknowledged once the outcome is recorded.
type Delivery struct {
	Task    *model.Task
	Receipt string
}

// TaskPublisher is the submit-side view of the queue.
type TaskPublisher interface {
	Push(ctx context.Context, task *model.Task) error
}

// TaskQueue is the worker-side view of the queue.
// Claim returns (nil, nil) when nothing arrived within wait.
type TaskQueue interface {
	TaskPublisher
	Claim(ctx context.Context, workerID string, wait time.Duration) (*Delivery, error)
	// Ack removes the delivery. Called only after the job outcome is stored.
	Ack(ctx context.Context, workerID string, d *Delivery) error
	// Release returns an unfinished delivery to the front of the pending queue.
	Release(ctx context.Context, workerID string, d *Delivery) error
	Heartbeat(ctx context.Context, workerID string) error
	Deregister(ctx context.Context, workerID string) error
	// RequeueOrphans returns deliveries held by workers whose heartbeat expired.
	RequeueOrphans(ctx context.Context) (int, error)
}
