package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// SessionEventRepository fans session events out over Redis Pub/Sub so every
// server instance holding a stream for the session can forward them.
type SessionEventRepository struct {
	rdb *redis.Client
}

// NewSessionEventRepository creates a new SessionEventRepository.
func NewSessionEventRepository(rdb *redis.Client) *SessionEventRepository {
	return &SessionEventRepository{rdb: rdb}
}

// Publish sends ev on the session's channel.
func (r *SessionEventRepository) Publish(ctx context.Context, ev model.SessionEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	channel := config.CacheKey.SessionEventsChannel(ev.SessionID.String())
	if err := r.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Subscribe attaches to a session's channel and streams raw event payloads
// until ctx ends or the returned close function is called.
func (r *SessionEventRepository) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan []byte, func() error) {
	pubsub := r.rdb.Subscribe(ctx, config.CacheKey.SessionEventsChannel(sessionID.String()))
	out := make(chan []byte)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, pubsub.Close
}
