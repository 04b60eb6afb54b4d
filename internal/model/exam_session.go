package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
)

// SubmitReason records what triggered the terminal transition.
type SubmitReason string

const (
	SubmitReasonUserRequested SubmitReason = "USER_REQUESTED"
	SubmitReasonTimeExpired   SubmitReason = "TIME_EXPIRED"
)

// AnswerSheet is a frozen copy of a session's ledger, used as grading input.
type AnswerSheet struct {
	SessionID        uuid.UUID     `json:"session_id"`
	BankID           string        `json:"bank_id"`
	Status           SessionStatus `json:"status"`
	Answers          map[int]int   `json:"answers"`
	RemainingSeconds int           `json:"remaining_seconds"`
	SubmittedAt      time.Time     `json:"submitted_at"`
	Reason           SubmitReason  `json:"reason"`
}

// Progress is the read-only progress view of a session.
type Progress struct {
	SessionID        uuid.UUID     `json:"session_id"`
	BankID           string        `json:"bank_id"`
	Status           SessionStatus `json:"status"`
	StartedAt        *time.Time    `json:"started_at,omitempty"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Clock            string        `json:"clock"`
	Cursor           int           `json:"cursor"`
	QuestionNumber   int           `json:"question_number"`
	TotalQuestions   int           `json:"total_questions"`
	AnsweredCount    int           `json:"answered_count"`
	UnansweredCount  int           `json:"unanswered_count"`
	FlaggedCount     int           `json:"flagged_count"`
	ProgressPercent  int           `json:"progress_percent"`
	Answers          map[int]int   `json:"answers"`
	Flagged          []int         `json:"flagged"`
}

// EventType enumerates live session events.
type EventType string

const (
	EventStarted   EventType = "started"
	EventTick      EventType = "tick"
	EventExpired   EventType = "expired"
	EventSubmitted EventType = "submitted"
	EventDiscarded EventType = "discarded"
)

// SessionEvent is published on the session's channel for live displays.
type SessionEvent struct {
	Type             EventType     `json:"type"`
	SessionID        uuid.UUID     `json:"session_id"`
	Status           SessionStatus `json:"status"`
	RemainingSeconds int           `json:"remaining_seconds"`
	Clock            string        `json:"clock"`
	Result           *Result       `json:"result,omitempty"`
	At               time.Time     `json:"at"`
}

// FormatClock renders seconds as HH:MM:SS.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// CreateSessionRequest is the payload for opening a new attempt on a bank.
type CreateSessionRequest struct {
	BankID string `json:"bank_id" binding:"required,min=1,max=100"`
}

// RecordAnswerRequest is the payload for answering a question.
type RecordAnswerRequest struct {
	QuestionID  *int `json:"question_id" binding:"required"`
	OptionIndex *int `json:"option_index" binding:"required"`
}

// MoveCursorRequest is the payload for jumping to a question (0-based).
type MoveCursorRequest struct {
	Index *int `json:"index" binding:"required"`
}

// TickRequest is the payload for advancing simulated time.
type TickRequest struct {
	ElapsedSeconds int `json:"elapsed_seconds" binding:"min=0,max=86400"`
}
