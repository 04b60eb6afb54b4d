// Package session implements the exam attempt state machine:
//
//	NOT_STARTED -> IN_PROGRESS -> SUBMITTED
//
// A Session owns the countdown value, the answer ledger, the review flags and
// the navigation cursor of one attempt. Every method is safe for concurrent
// use. The transition to SUBMITTED happens at most once; whichever caller
// reaches it first (a manual submit or a tick that runs the clock out) grades
// the attempt, and every later submit returns that same Result.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
)

// Option configures a Session.
type Option func(*Session)

// WithSubmitHook registers fn to receive the Result exactly once, right after
// the terminal transition. It runs on the goroutine that won the transition,
// without the session lock held.
func WithSubmitHook(fn func(*model.Result)) Option {
	return func(s *Session) { s.onSubmit = fn }
}

// Session is one taker's single attempt at one bank.
type Session struct {
	id       uuid.UUID
	bank     *model.QuestionBank
	onSubmit func(*model.Result)

	mu          sync.Mutex
	status      model.SessionStatus
	startedAt   time.Time
	remaining   int
	cursor      int
	ledger      ledger
	submittedAt time.Time
	reason      model.SubmitReason
	result      *model.Result
	abandoned   bool
}

// New creates a NOT_STARTED session over bank.
func New(id uuid.UUID, bank *model.QuestionBank, opts ...Option) (*Session, error) {
	if bank == nil || bank.Len() == 0 {
		return nil, fmt.Errorf("new session: %w", model.ErrEmptyBank)
	}
	s := &Session{
		id:     id,
		bank:   bank,
		status: model.SessionStatusNotStarted,
		ledger: newLedger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ─── Commands ──────────────────────────────────────────────────────────────

// Start begins the attempt and arms the full duration.
func (s *Session) Start(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.SessionStatusNotStarted || s.abandoned {
		return fmt.Errorf("start session in status %s: %w", s.status, model.ErrInvalidTransition)
	}

	s.remaining = s.bank.DurationSeconds
	s.cursor = 0
	s.startedAt = now
	s.status = model.SessionStatusInProgress
	return nil
}

// RecordAnswer stores optionIndex as the answer to questionID, replacing any
// earlier answer.
func (s *Session) RecordAnswer(questionID, optionIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("record answer"); err != nil {
		return err
	}
	_, q, ok := s.bank.Lookup(questionID)
	if !ok {
		return fmt.Errorf("question %d: %w", questionID, model.ErrUnknownQuestion)
	}
	if optionIndex < 0 || optionIndex >= len(q.Options) {
		return fmt.Errorf("question %d has %d options, got %d: %w", questionID, len(q.Options), optionIndex, model.ErrInvalidOption)
	}

	s.ledger.record(questionID, optionIndex)
	return nil
}

// ClearAnswer returns questionID to unanswered.
func (s *Session) ClearAnswer(questionID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("clear answer"); err != nil {
		return err
	}
	if _, _, ok := s.bank.Lookup(questionID); !ok {
		return fmt.Errorf("question %d: %w", questionID, model.ErrUnknownQuestion)
	}

	s.ledger.clear(questionID)
	return nil
}

// ToggleFlag flips the review flag of questionID and reports whether it is
// now flagged. Flags never affect grading.
func (s *Session) ToggleFlag(questionID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("toggle flag"); err != nil {
		return false, err
	}
	if _, _, ok := s.bank.Lookup(questionID); !ok {
		return false, fmt.Errorf("question %d: %w", questionID, model.ErrUnknownQuestion)
	}

	return s.ledger.toggle(questionID), nil
}

// MoveTo sets the cursor. Out-of-range indexes are rejected, never clamped.
func (s *Session) MoveTo(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("move cursor"); err != nil {
		return err
	}
	return s.moveLocked(index)
}

// Next moves to the following question.
func (s *Session) Next() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("move to next"); err != nil {
		return err
	}
	return s.moveLocked(s.cursor + 1)
}

// Previous moves to the preceding question.
func (s *Session) Previous() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireInProgress("move to previous"); err != nil {
		return err
	}
	return s.moveLocked(s.cursor - 1)
}

// Tick consumes elapsedSeconds of the remaining time. When the clock reaches
// zero the session submits itself with reason TIME_EXPIRED before returning,
// and the Result is returned. Otherwise the Result is nil.
func (s *Session) Tick(elapsedSeconds int, now time.Time) (*model.Result, error) {
	s.mu.Lock()

	if err := s.requireInProgress("tick"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if elapsedSeconds < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("tick %d: %w", elapsedSeconds, model.ErrInvalidElapsed)
	}

	remaining := s.remaining - elapsedSeconds
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 0 {
		s.remaining = remaining
		s.mu.Unlock()
		return nil, nil
	}

	res, err := s.submitLocked(now, model.SubmitReasonTimeExpired, 0)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notify(res)
	return res, nil
}

// Submit ends the attempt and returns its Result. On an already submitted
// session it returns the existing Result and changes nothing.
func (s *Session) Submit(now time.Time, reason model.SubmitReason) (*model.Result, error) {
	if reason == "" {
		reason = model.SubmitReasonUserRequested
	}

	s.mu.Lock()
	switch s.status {
	case model.SessionStatusSubmitted:
		res := s.result
		s.mu.Unlock()
		return res, nil
	case model.SessionStatusNotStarted:
		s.mu.Unlock()
		return nil, fmt.Errorf("submit session in status %s: %w", model.SessionStatusNotStarted, model.ErrInvalidTransition)
	}
	if s.abandoned {
		s.mu.Unlock()
		return nil, fmt.Errorf("submit abandoned session: %w", model.ErrInvalidTransition)
	}

	res, err := s.submitLocked(now, reason, s.remaining)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notify(res)
	return res, nil
}

// Abandon retires a session that was never submitted. Every later command,
// tick or submit fails with ErrInvalidTransition and nothing is graded, so a
// countdown wake-up racing the caller cannot produce a Result. It reports
// false when the session had already been submitted.
func (s *Session) Abandon() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.SessionStatusSubmitted {
		return false
	}
	s.abandoned = true
	return true
}

// ─── Queries ───────────────────────────────────────────────────────────────

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Bank returns the read-only bank the session runs on.
func (s *Session) Bank() *model.QuestionBank { return s.bank }

// Status returns the current state.
func (s *Session) Status() model.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RemainingSeconds returns the time left.
func (s *Session) RemainingSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Cursor returns the 0-based index of the current question.
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// StartedAt returns the start time, zero before Start.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// Answers returns a copy of the ledger.
func (s *Session) Answers() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.answersCopy()
}

// Flagged returns the flagged question ids in ascending order.
func (s *Session) Flagged() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.flaggedSorted()
}

// Result returns the Result once the session is submitted.
func (s *Session) Result() (*model.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// Sheet returns a snapshot of the ledger suitable for grading.Grade.
func (s *Session) Sheet() model.AnswerSheet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.AnswerSheet{
		SessionID:        s.id,
		BankID:           s.bank.ID,
		Status:           s.status,
		Answers:          s.ledger.answersCopy(),
		RemainingSeconds: s.remaining,
		SubmittedAt:      s.submittedAt,
		Reason:           s.reason,
	}
}

// Progress returns the progress view.
func (s *Session) Progress() model.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := s.bank.Len()
	answered := len(s.ledger.answers)
	flagged := s.ledger.flaggedSorted()

	p := model.Progress{
		SessionID:        s.id,
		BankID:           s.bank.ID,
		Status:           s.status,
		RemainingSeconds: s.remaining,
		Clock:            model.FormatClock(s.remaining),
		Cursor:           s.cursor,
		QuestionNumber:   s.cursor + 1,
		TotalQuestions:   total,
		AnsweredCount:    answered,
		UnansweredCount:  total - answered,
		FlaggedCount:     len(flagged),
		ProgressPercent:  grading.Percent(s.cursor+1, total),
		Answers:          s.ledger.answersCopy(),
		Flagged:          flagged,
	}
	if s.status == model.SessionStatusNotStarted {
		p.RemainingSeconds = s.bank.DurationSeconds
		p.Clock = model.FormatClock(s.bank.DurationSeconds)
	} else {
		started := s.startedAt
		p.StartedAt = &started
	}
	return p
}

// CurrentQuestion returns the question under the cursor, without its answer key.
func (s *Session) CurrentQuestion() (model.QuestionForTaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == model.SessionStatusNotStarted {
		return model.QuestionForTaker{}, fmt.Errorf("view question before start: %w", model.ErrInvalidTransition)
	}

	q := s.bank.At(s.cursor)
	view := q.ForTaker(s.cursor)
	if v, ok := s.ledger.answer(q.ID); ok {
		selected := v
		view.Selected = &selected
	}
	view.Flagged = s.ledger.isFlagged(q.ID)
	return view, nil
}

// ─── Internals (callers hold s.mu) ─────────────────────────────────────────

func (s *Session) requireInProgress(op string) error {
	if s.abandoned {
		return fmt.Errorf("%s on abandoned session: %w", op, model.ErrInvalidTransition)
	}
	if s.status != model.SessionStatusInProgress {
		return fmt.Errorf("%s in status %s: %w", op, s.status, model.ErrInvalidTransition)
	}
	return nil
}

func (s *Session) moveLocked(index int) error {
	if index < 0 || index >= s.bank.Len() {
		return fmt.Errorf("move to %d of %d questions: %w", index, s.bank.Len(), model.ErrIndexOutOfRange)
	}
	s.cursor = index
	return nil
}

// submitLocked grades first and commits only on success, so a failure leaves
// the session IN_PROGRESS.
func (s *Session) submitLocked(now time.Time, reason model.SubmitReason, remaining int) (*model.Result, error) {
	sheet := model.AnswerSheet{
		SessionID:        s.id,
		BankID:           s.bank.ID,
		Status:           model.SessionStatusSubmitted,
		Answers:          s.ledger.answersCopy(),
		RemainingSeconds: remaining,
		SubmittedAt:      now,
		Reason:           reason,
	}

	res, err := grading.Grade(s.bank, sheet)
	if err != nil {
		return nil, fmt.Errorf("grade on submit: %w", err)
	}

	s.remaining = remaining
	s.submittedAt = now
	s.reason = reason
	s.status = model.SessionStatusSubmitted
	s.result = res
	return res, nil
}

func (s *Session) notify(res *model.Result) {
	if s.onSubmit != nil {
		s.onSubmit(res)
	}
}
