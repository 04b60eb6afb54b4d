package model

import (
	"time"

	"github.com/google/uuid"
)

// Result is the graded outcome of a submitted session. It is never mutated
// after grading; share the pointer, do not modify it.
type Result struct {
	SessionID         uuid.UUID       `json:"session_id"`
	BankID            string          `json:"bank_id"`
	Score             int             `json:"score"`
	TotalQuestions    int             `json:"total_questions"`
	CorrectCount      int             `json:"correct_count"`
	IncorrectCount    int             `json:"incorrect_count"`
	UnansweredCount   int             `json:"unanswered_count"`
	Percentage        int             `json:"percentage"`
	CategoryBreakdown []CategoryScore `json:"category_breakdown"`
	Reason            SubmitReason    `json:"reason"`
	SubmittedAt       time.Time       `json:"submitted_at"`
	DurationSeconds   int             `json:"duration_seconds"`
	TimeTakenSeconds  int             `json:"time_taken_seconds"`
}

// CategoryScore is the per-category line of the breakdown.
type CategoryScore struct {
	Category   string `json:"category"`
	Total      int    `json:"total"`
	Correct    int    `json:"correct"`
	Percentage int    `json:"percentage"`
}
