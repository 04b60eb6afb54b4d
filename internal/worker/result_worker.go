package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

const ResultPollTimeout = 1 * time.Second

// ResultSource is the queue the engine hands results to.
type ResultSource interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	Push(ctx context.Context, raw []byte) error
}

// ResultWriter is the durable result store.
type ResultWriter interface {
	SaveBatch(ctx context.Context, results []*model.Result) error
	Save(ctx context.Context, res *model.Result) error
}

// ResultWorker drains persist_results_queue into the result store in batches.
type ResultWorker struct {
	source       ResultSource
	writer       ResultWriter
	batchSize    int
	batchTimeout time.Duration
	log          zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(source ResultSource, writer ResultWriter, batchSize int, batchTimeout time.Duration, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		source:       source,
		writer:       writer,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		log:          log.With().Str("component", "result_worker").Logger(),
	}
}

// ----------------------------------------------------------------
// Worker loop with batching
// ----------------------------------------------------------------

// Start runs until ctx is done, then flushes what it holds. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ResultWorker started")

	batch := make([]*model.Result, 0, w.batchSize)
	lastFlush := time.Now()

	for {
		// Should flush?
		if len(batch) > 0 &&
			(len(batch) >= w.batchSize || time.Since(lastFlush) >= w.batchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Int("pending", len(batch)).Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			raw, err := w.source.Pop(ctx, ResultPollTimeout)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}
			if raw == nil {
				continue
			}

			var res model.Result
			if err := json.Unmarshal(raw, &res); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &res)
		}
	}
}

// ----------------------------------------------------------------
// Batch insert with per-row fallback
// ----------------------------------------------------------------

func (w *ResultWorker) flushSafe(ctx context.Context, batch []*model.Result) {
	if len(batch) == 0 {
		return
	}

	if err := w.writer.SaveBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("size", len(batch)).Msg("bulk result insert failed, using fallback")

		for _, res := range batch {
			if err := w.writer.Save(ctx, res); err != nil {
				w.log.Error().Err(err).Str("session_id", res.SessionID.String()).Msg("Save failed, requeueing")
				raw, _ := json.Marshal(res)
				if err := w.source.Push(ctx, raw); err != nil {
					w.log.Error().Err(err).Str("session_id", res.SessionID.String()).Msg("Requeue failed, result dropped")
				}
			}
		}
		return
	}

	w.log.Debug().Int("size", len(batch)).Msg("Results persisted")
}
