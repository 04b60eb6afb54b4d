package model

import (
	"fmt"
	"strings"
)

// QuestionBank is the immutable, ordered question set and timing policy of an exam.
// Build it with NewQuestionBank. Questions are only reachable through copies,
// so sessions running on a bank never observe a change to it.
type QuestionBank struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`

	questions []Question
	index     map[int]int
}

// BankSummary is the listing view of a bank.
type BankSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	QuestionCount   int    `json:"question_count"`
	Categories      int    `json:"category_count"`
}

// NewQuestionBank validates and copies questions into a new bank.
func NewQuestionBank(id, title string, durationSeconds int, questions []Question) (*QuestionBank, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("bank %q: %w", id, ErrEmptyBank)
	}
	if durationSeconds <= 0 {
		return nil, fmt.Errorf("bank %q: duration must be positive, got %d: %w", id, durationSeconds, ErrInvalidBank)
	}

	b := &QuestionBank{
		ID:              id,
		Title:           title,
		DurationSeconds: durationSeconds,
		questions:       make([]Question, len(questions)),
		index:           make(map[int]int, len(questions)),
	}

	for i, q := range questions {
		if _, dup := b.index[q.ID]; dup {
			return nil, fmt.Errorf("bank %q: duplicate question id %d: %w", id, q.ID, ErrInvalidBank)
		}
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("bank %q: question %d has no options: %w", id, q.ID, ErrInvalidBank)
		}
		if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
			return nil, fmt.Errorf("bank %q: question %d correct option %d out of range: %w", id, q.ID, q.CorrectOptionIndex, ErrInvalidBank)
		}
		if strings.TrimSpace(q.Category) == "" {
			return nil, fmt.Errorf("bank %q: question %d has no category: %w", id, q.ID, ErrInvalidBank)
		}

		b.questions[i] = q.clone()
		b.index[q.ID] = i
	}

	return b, nil
}

// Len returns the number of questions.
func (b *QuestionBank) Len() int {
	return len(b.questions)
}

// At returns a copy of the question at 0-based position i. It panics when i
// is out of range, like a slice index.
func (b *QuestionBank) At(i int) Question {
	return b.questions[i].clone()
}

// Questions returns a copy of the questions in bank order.
func (b *QuestionBank) Questions() []Question {
	out := make([]Question, len(b.questions))
	for i, q := range b.questions {
		out[i] = q.clone()
	}
	return out
}

// Lookup finds a question by id and returns its 0-based position.
func (b *QuestionBank) Lookup(id int) (int, Question, bool) {
	i, ok := b.index[id]
	if !ok {
		return 0, Question{}, false
	}
	return i, b.questions[i].clone(), true
}

// Summary returns the listing view of the bank.
func (b *QuestionBank) Summary() BankSummary {
	seen := make(map[string]struct{})
	for _, q := range b.questions {
		seen[q.Category] = struct{}{}
	}
	return BankSummary{
		ID:              b.ID,
		Title:           b.Title,
		DurationSeconds: b.DurationSeconds,
		QuestionCount:   len(b.questions),
		Categories:      len(seen),
	}
}
