package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// withRetry calls dial until it succeeds, doubling the pause between
// attempts. Postgres and Redis containers often accept connections a few
// seconds after the engine starts.
func withRetry(ctx context.Context, log zerolog.Logger, target string, dial func(context.Context) error) error {
	wait := connectBackoff
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = dial(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).
			Str("target", target).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Connection failed, retrying")

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect %s: %w", target, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
	return fmt.Errorf("connect %s after %d attempts: %w", target, connectAttempts, err)
}
