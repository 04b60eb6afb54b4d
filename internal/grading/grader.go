// Package grading turns a submitted answer sheet into a scored Result.
//
// Grading is pure: the same bank and sheet always produce an identical
// Result. Bands and tiers are derived from percentages on demand and are
// never stored, so changing the policy never invalidates stored results.
package grading

import (
	"fmt"

	"github.com/stemsi/exstem-engine/internal/model"
)

// Grade scores a submitted sheet against its bank.
func Grade(bank *model.QuestionBank, sheet model.AnswerSheet) (*model.Result, error) {
	if bank == nil || bank.Len() == 0 {
		return nil, fmt.Errorf("grade: %w", model.ErrEmptyBank)
	}
	if sheet.Status != model.SessionStatusSubmitted {
		return nil, fmt.Errorf("grade session in status %s: %w", sheet.Status, model.ErrInvalidTransition)
	}

	res := &model.Result{
		SessionID:        sheet.SessionID,
		BankID:           bank.ID,
		TotalQuestions:   bank.Len(),
		Reason:           sheet.Reason,
		SubmittedAt:      sheet.SubmittedAt,
		DurationSeconds:  bank.DurationSeconds,
		TimeTakenSeconds: bank.DurationSeconds - sheet.RemainingSeconds,
	}

	// Categories keep bank order of first appearance.
	slot := make(map[string]int)
	breakdown := make([]model.CategoryScore, 0)

	for _, q := range bank.Questions() {
		i, ok := slot[q.Category]
		if !ok {
			i = len(breakdown)
			slot[q.Category] = i
			breakdown = append(breakdown, model.CategoryScore{Category: q.Category})
		}
		breakdown[i].Total++

		chosen, answered := sheet.Answers[q.ID]
		switch {
		case !answered:
			res.UnansweredCount++
		case chosen == q.CorrectOptionIndex:
			res.CorrectCount++
			breakdown[i].Correct++
		default:
			res.IncorrectCount++
		}
	}

	for i := range breakdown {
		breakdown[i].Percentage = Percent(breakdown[i].Correct, breakdown[i].Total)
	}

	res.Score = res.CorrectCount
	res.Percentage = Percent(res.CorrectCount, res.TotalQuestions)
	res.CategoryBreakdown = breakdown

	return res, nil
}

// Percent returns round-half-up(100 * part / whole) using integer arithmetic.
func Percent(part, whole int) int {
	if whole <= 0 {
		return 0
	}
	return (200*part + whole) / (2 * whole)
}
