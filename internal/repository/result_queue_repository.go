package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ResultQueueRepository hands graded results from the in-memory engine to the
// persistence worker through a Redis list, and keeps a short-lived copy of
// each result so it stays readable after the session is evicted.
type ResultQueueRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewResultQueueRepository creates a new ResultQueueRepository. ttl bounds the
// cached copy of each result.
func NewResultQueueRepository(rdb *redis.Client, ttl time.Duration) *ResultQueueRepository {
	return &ResultQueueRepository{rdb: rdb, ttl: ttl}
}

// Enqueue pushes res onto persist_results_queue and caches it.
func (r *ResultQueueRepository) Enqueue(ctx context.Context, res *model.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return r.Push(ctx, raw)
}

// Push enqueues an already encoded result.
func (r *ResultQueueRepository) Push(ctx context.Context, raw []byte) error {
	var head struct {
		SessionID uuid.UUID `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("decode result head: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistResultsQueue, raw)
	pipe.Set(ctx, config.CacheKey.SessionResultKey(head.SessionID.String()), raw, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue result: %w", err)
	}
	return nil
}

// Pop blocks up to timeout for the next queued result. It returns nil, nil
// when nothing arrived in time.
func (r *ResultQueueRepository) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	item, err := r.rdb.BLPop(ctx, timeout, config.WorkerKey.PersistResultsQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(item) < 2 {
		return nil, nil
	}
	return []byte(item[1]), nil
}

// Cached returns the cached copy of a session's result, or nil if it expired.
func (r *ResultQueueRepository) Cached(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	raw, err := r.rdb.Get(ctx, config.CacheKey.SessionResultKey(sessionID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached result: %w", err)
	}

	var res model.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &res, nil
}
