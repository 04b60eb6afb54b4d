package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

const insertResultSQL = `
	INSERT INTO exam_results (
		session_id, bank_id, score, total_questions,
		correct_count, incorrect_count, unanswered_count, percentage,
		category_breakdown, reason, submitted_at,
		duration_seconds, time_taken_seconds
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (session_id) DO NOTHING`

const selectResultSQL = `
	SELECT session_id, bank_id, score, total_questions,
	       correct_count, incorrect_count, unanswered_count, percentage,
	       category_breakdown, reason, submitted_at,
	       duration_seconds, time_taken_seconds
	FROM exam_results`

// ResultRepository persists graded results in PostgreSQL. Each session has at
// most one row; re-inserting the same session is a no-op.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// Save inserts a single result.
func (r *ResultRepository) Save(ctx context.Context, res *model.Result) error {
	args, err := resultArgs(res)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, insertResultSQL, args...)
	return err
}

// SaveBatch inserts many results in one round trip.
func (r *ResultRepository) SaveBatch(ctx context.Context, results []*model.Result) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		args, err := resultArgs(res)
		if err != nil {
			return err
		}
		batch.Queue(insertResultSQL, args...)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

// GetBySessionID returns the stored result of a session, or nil when the
// worker has not persisted one.
func (r *ResultRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Result, error) {
	row := r.pool.QueryRow(ctx, selectResultSQL+` WHERE session_id = $1`, sessionID)
	res, err := scanResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", sessionID, err)
	}
	return res, nil
}

// ListByBank returns the most recent results for a bank.
func (r *ResultRepository) ListByBank(ctx context.Context, bankID string, limit int) ([]model.Result, error) {
	rows, err := r.pool.Query(ctx,
		selectResultSQL+` WHERE bank_id = $1 ORDER BY submitted_at DESC LIMIT $2`,
		bankID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

func resultArgs(res *model.Result) ([]any, error) {
	breakdown, err := json.Marshal(res.CategoryBreakdown)
	if err != nil {
		return nil, fmt.Errorf("marshal category breakdown: %w", err)
	}
	return []any{
		res.SessionID, res.BankID, res.Score, res.TotalQuestions,
		res.CorrectCount, res.IncorrectCount, res.UnansweredCount, res.Percentage,
		breakdown, string(res.Reason), res.SubmittedAt,
		res.DurationSeconds, res.TimeTakenSeconds,
	}, nil
}

func scanResult(row pgx.Row) (*model.Result, error) {
	var (
		res       model.Result
		breakdown []byte
		reason    string
	)
	err := row.Scan(
		&res.SessionID, &res.BankID, &res.Score, &res.TotalQuestions,
		&res.CorrectCount, &res.IncorrectCount, &res.UnansweredCount, &res.Percentage,
		&breakdown, &reason, &res.SubmittedAt,
		&res.DurationSeconds, &res.TimeTakenSeconds,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(breakdown, &res.CategoryBreakdown); err != nil {
		return nil, fmt.Errorf("decode category breakdown: %w", err)
	}
	res.Reason = model.SubmitReason(reason)
	return &res, nil
}
