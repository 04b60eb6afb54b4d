package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

// SQLiteResultStore is a local, file-backed result archive used by the
// offline tooling. It mirrors ResultRepository on a database/sql handle.
type SQLiteResultStore struct {
	db *sql.DB
}

// NewSQLiteResultStore wraps db and creates the schema if needed.
func NewSQLiteResultStore(ctx context.Context, db *sql.DB) (*SQLiteResultStore, error) {
	s := &SQLiteResultStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteResultStore) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS exam_results (
  session_id TEXT PRIMARY KEY,
  bank_id TEXT NOT NULL,
  score INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  correct_count INTEGER NOT NULL,
  incorrect_count INTEGER NOT NULL,
  unanswered_count INTEGER NOT NULL,
  percentage INTEGER NOT NULL,
  category_breakdown TEXT NOT NULL,
  reason TEXT NOT NULL,
  submitted_at TEXT NOT NULL,
  duration_seconds INTEGER NOT NULL,
  time_taken_seconds INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exam_results_bank ON exam_results (bank_id, submitted_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create exam_results table: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Save inserts res unless the session already has a row.
func (s *SQLiteResultStore) Save(ctx context.Context, res *model.Result) error {
	return saveWith(ctx, s.db, res)
}

// SaveBatch inserts results in one transaction.
func (s *SQLiteResultStore) SaveBatch(ctx context.Context, results []*model.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, res := range results {
		if err := saveWith(ctx, tx, res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func saveWith(ctx context.Context, db execer, res *model.Result) error {
	breakdown, err := json.Marshal(res.CategoryBreakdown)
	if err != nil {
		return fmt.Errorf("marshal category breakdown: %w", err)
	}

	const stmt = `
INSERT INTO exam_results (session_id, bank_id, score, total_questions, correct_count, incorrect_count,
  unanswered_count, percentage, category_breakdown, reason, submitted_at, duration_seconds, time_taken_seconds)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO NOTHING;`

	_, err = db.ExecContext(ctx, stmt,
		res.SessionID.String(), res.BankID, res.Score, res.TotalQuestions, res.CorrectCount, res.IncorrectCount,
		res.UnansweredCount, res.Percentage, string(breakdown), string(res.Reason),
		res.SubmittedAt.UTC().Format(time.RFC3339Nano), res.DurationSeconds, res.TimeTakenSeconds,
	)
	if err != nil {
		return fmt.Errorf("insert result %s: %w", res.SessionID, err)
	}
	return nil
}

// ListByBank returns up to limit archived results for a bank, most recent first.
func (s *SQLiteResultStore) ListByBank(ctx context.Context, bankID string, limit int) ([]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, bank_id, score, total_questions, correct_count, incorrect_count, unanswered_count,
  percentage, category_breakdown, reason, submitted_at, duration_seconds, time_taken_seconds
FROM exam_results WHERE bank_id = ? ORDER BY submitted_at DESC LIMIT ?`, bankID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []model.Result
	for rows.Next() {
		var (
			res         model.Result
			id          string
			breakdown   string
			reason      string
			submittedAt string
		)
		if err := rows.Scan(&id, &res.BankID, &res.Score, &res.TotalQuestions, &res.CorrectCount,
			&res.IncorrectCount, &res.UnansweredCount, &res.Percentage, &breakdown, &reason,
			&submittedAt, &res.DurationSeconds, &res.TimeTakenSeconds); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if res.SessionID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse session id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(breakdown), &res.CategoryBreakdown); err != nil {
			return nil, fmt.Errorf("decode category breakdown: %w", err)
		}
		if res.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt); err != nil {
			return nil, fmt.Errorf("parse submitted_at: %w", err)
		}
		res.Reason = model.SubmitReason(reason)
		out = append(out, res)
	}
	return out, rows.Err()
}
