package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.TaskQueue = (*JobQueue)(nil)

// JobQueue is a reliable list queue. A claimed task is atomically moved from
// the pending list into its worker's processing list and stays there until
// acked, so a crashed worker's task can be put back by RequeueOrphans.
type JobQueue struct {
	cli          *redis.Client
	prefix       string
	heartbeatTTL time.Duration
}

func NewJobQueue(c *Client, prefix string, heartbeatTTL time.Duration) *JobQueue {
	if prefix == "" {
		prefix = "transcriber"
	}
	if heartbeatTTL <= 0 {
		heartbeatTTL = 30 * time.Second
	}
	return &JobQueue{cli: c.cli, prefix: prefix, heartbeatTTL: heartbeatTTL}
}

func (q *JobQueue) pendingKey() string { return q.prefix + ":queue:pending" }
func (q *JobQueue) workersKey() string { return q.prefix + ":workers" }
func (q *JobQueue) processingKey(workerID string) string {
	return q.prefix + ":queue:processing:" + workerID
}
func (q *JobQueue) heartbeatKey(workerID string) string {
	return q.prefix + ":worker:" + workerID
}

func (q *JobQueue) Push(ctx context.Context, task *model.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.cli.LPush(ctx, q.pendingKey(), data).Err()
}

// Claim blocks up to wait for the next task. An undecodable entry is dropped
// and reported as domain.ErrInvalidArgument.
func (q *JobQueue) Claim(ctx context.Context, workerID string, wait time.Duration) (*repository.Delivery, error) {
	raw, err := q.cli.BRPopLPush(ctx, q.pendingKey(), q.processingKey(workerID), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		_ = q.cli.LRem(ctx, q.processingKey(workerID), 1, raw).Err()
		return nil, fmt.Errorf("%w: malformed task envelope: %v", domain.ErrInvalidArgument, err)
	}
	return &repository.Delivery{Task: &task, Receipt: raw}, nil
}

func (q *JobQueue) Ack(ctx context.Context, workerID string, d *repository.Delivery) error {
	return q.cli.LRem(ctx, q.processingKey(workerID), 1, d.Receipt).Err()
}

// Release moves the delivery from the worker's processing list to the
// consuming end of the pending list in one transaction.
func (q *JobQueue) Release(ctx context.Context, workerID string, d *repository.Delivery) error {
	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processingKey(workerID), 1, d.Receipt)
		p.RPush(ctx, q.pendingKey(), d.Receipt)
		return nil
	})
	return err
}

func (q *JobQueue) Heartbeat(ctx context.Context, workerID string) error {
	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, q.heartbeatKey(workerID), time.Now().UTC().Format(time.RFC3339), q.heartbeatTTL)
		p.SAdd(ctx, q.workersKey(), workerID)
		return nil
	})
	return err
}

// Deregister returns anything still held by workerID and forgets the worker.
func (q *JobQueue) Deregister(ctx context.Context, workerID string) error {
	if _, err := q.requeue(ctx, workerID); err != nil {
		return err
	}
	_, err := q.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, q.heartbeatKey(workerID))
		p.SRem(ctx, q.workersKey(), workerID)
		return nil
	})
	return err
}

func (q *JobQueue) RequeueOrphans(ctx context.Context) (int, error) {
	workers, err := q.cli.SMembers(ctx, q.workersKey()).Result()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range workers {
		alive, err := q.cli.Exists(ctx, q.heartbeatKey(id)).Result()
		if err != nil {
			return total, err
		}
		if alive > 0 {
			continue
		}
		n, err := q.requeue(ctx, id)
		total += n
		if err != nil {
			return total, err
		}
		if err := q.cli.SRem(ctx, q.workersKey(), id).Err(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// requeue moves a worker's processing list back to the consuming end of the
// pending list, oldest claim first.
func (q *JobQueue) requeue(ctx context.Context, workerID string) (int, error) {
	n := 0
	for {
		err := q.cli.LMove(ctx, q.processingKey(workerID), q.pendingKey(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// Pending is the number of tasks waiting to be claimed.
func (q *JobQueue) Pending(ctx context.Context) (int64, error) {
	return q.cli.LLen(ctx, q.pendingKey()).Result()
}
