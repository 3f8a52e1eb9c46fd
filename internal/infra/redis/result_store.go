package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/domain/ports/repository"

	"github.com/go-redis/redis/v8"
)

var _ repository.ResultStore = (*ResultStore)(nil)

// ResultStore keeps one JSON JobView per job id, last write wins.
type ResultStore struct {
	client *Client
	prefix string
	ttl    time.Duration
}

func NewResultStore(client *Client, prefix string, ttl time.Duration) *ResultStore {
	if prefix == "" {
		prefix = "transcriber"
	}
	return &ResultStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *ResultStore) key(id string) string { return s.prefix + ":result:" + id }

func (s *ResultStore) Publish(ctx context.Context, view model.JobView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(view.ID), data, s.ttl)
}

func (s *ResultStore) Init(ctx context.Context, view model.JobView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return s.client.cli.SetNX(ctx, s.key(view.ID), data, s.ttl).Err()
}

func (s *ResultStore) Get(ctx context.Context, id string) (*model.JobView, error) {
	data, err := s.client.Get(ctx, s.key(id))
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var view model.JobView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return nil, err
	}
	return &view, nil
}
