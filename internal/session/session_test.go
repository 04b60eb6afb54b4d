package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
)

var t0 = time.Date(2024, 1, 25, 13, 0, 0, 0, time.UTC)

func threeQuestionBank(t *testing.T) *model.QuestionBank {
	t.Helper()
	bank, err := model.NewQuestionBank("mini", "Mini Quiz", 120, []model.Question{
		{ID: 1, Prompt: "2 + 2", Options: []string{"3", "4", "5"}, CorrectOptionIndex: 1, Category: "Arithmetic"},
		{ID: 2, Prompt: "3 * 3", Options: []string{"6", "9"}, CorrectOptionIndex: 1, Category: "Arithmetic"},
		{ID: 3, Prompt: "x + 1 = 2", Options: []string{"0", "1", "2", "3"}, CorrectOptionIndex: 1, Category: "Algebra"},
	})
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	return bank
}

func startedSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	s, err := New(uuid.New(), threeQuestionBank(t), opts...)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestNewRejectsEmptyBank(t *testing.T) {
	if _, err := New(uuid.New(), nil); !errors.Is(err, model.ErrEmptyBank) {
		t.Fatalf("expected ErrEmptyBank, got %v", err)
	}
	if _, err := New(uuid.New(), &model.QuestionBank{ID: "x", DurationSeconds: 10}); !errors.Is(err, model.ErrEmptyBank) {
		t.Fatalf("expected ErrEmptyBank for bank without questions, got %v", err)
	}
}

func TestStart(t *testing.T) {
	s, err := New(uuid.New(), threeQuestionBank(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Status() != model.SessionStatusNotStarted {
		t.Fatalf("expected NOT_STARTED, got %s", s.Status())
	}
	if err := s.RecordAnswer(1, 1); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before start, got %v", err)
	}

	if err := s.Start(t0); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status() != model.SessionStatusInProgress || s.RemainingSeconds() != 120 || s.Cursor() != 0 {
		t.Fatalf("unexpected state after start: %s %d %d", s.Status(), s.RemainingSeconds(), s.Cursor())
	}
	if !s.StartedAt().Equal(t0) {
		t.Fatalf("startedAt = %v", s.StartedAt())
	}

	if err := s.Start(t0.Add(time.Second)); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on second start, got %v", err)
	}
	if !s.StartedAt().Equal(t0) {
		t.Fatalf("second start must not move startedAt")
	}
}

func TestRecordAnswerKeepsLastValue(t *testing.T) {
	s := startedSession(t)

	for _, opt := range []int{0, 2, 1, 1} {
		if err := s.RecordAnswer(1, opt); err != nil {
			t.Fatalf("record %d: %v", opt, err)
		}
	}
	if err := s.RecordAnswer(3, 3); err != nil {
		t.Fatalf("record: %v", err)
	}

	got := s.Answers()
	if len(got) != 2 || got[1] != 1 || got[3] != 3 {
		t.Fatalf("unexpected answers %v", got)
	}
	if _, ok := got[2]; ok {
		t.Fatalf("unanswered question must not appear in answers")
	}

	got[1] = 0
	if s.Answers()[1] != 1 {
		t.Fatalf("Answers must return a copy")
	}
}

func TestRecordAnswerRejectsBadReferences(t *testing.T) {
	s := startedSession(t)
	if err := s.RecordAnswer(1, 0); err != nil {
		t.Fatalf("record: %v", err)
	}

	tests := []struct {
		name       string
		questionID int
		option     int
		want       error
	}{
		{"unknown question", 99, 0, model.ErrUnknownQuestion},
		{"option too high", 2, 2, model.ErrInvalidOption},
		{"negative option", 1, -1, model.ErrInvalidOption},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.RecordAnswer(tc.questionID, tc.option); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if got := s.Answers(); len(got) != 1 || got[1] != 0 {
		t.Fatalf("failed calls must not touch the ledger, got %v", got)
	}
}

func TestClearAnswer(t *testing.T) {
	s := startedSession(t)
	_ = s.RecordAnswer(2, 0)

	if err := s.ClearAnswer(2); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(s.Answers()) != 0 {
		t.Fatalf("expected empty ledger, got %v", s.Answers())
	}
	if err := s.ClearAnswer(2); err != nil {
		t.Fatalf("clearing an unanswered question is allowed: %v", err)
	}
	if err := s.ClearAnswer(42); !errors.Is(err, model.ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestToggleFlagIsItsOwnInverse(t *testing.T) {
	s := startedSession(t)

	on, err := s.ToggleFlag(3)
	if err != nil || !on {
		t.Fatalf("first toggle: %v %v", on, err)
	}
	if _, err := s.ToggleFlag(1); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if got := s.Flagged(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("expected [1 3], got %v", got)
	}

	off, err := s.ToggleFlag(3)
	if err != nil || off {
		t.Fatalf("second toggle: %v %v", off, err)
	}
	if got := s.Flagged(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected [1], got %v", got)
	}

	if _, err := s.ToggleFlag(7); !errors.Is(err, model.ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestMoveToRejectsOutOfRange(t *testing.T) {
	s := startedSession(t)
	if err := s.MoveTo(2); err != nil {
		t.Fatalf("move: %v", err)
	}

	for _, idx := range []int{-1, 3, 100} {
		if err := s.MoveTo(idx); !errors.Is(err, model.ErrIndexOutOfRange) {
			t.Fatalf("MoveTo(%d): expected ErrIndexOutOfRange, got %v", idx, err)
		}
		if s.Cursor() != 2 {
			t.Fatalf("cursor moved to %d after rejected MoveTo(%d)", s.Cursor(), idx)
		}
	}
}

func TestNextAndPrevious(t *testing.T) {
	s := startedSession(t)

	if err := s.Previous(); !errors.Is(err, model.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange at first question, got %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := s.Next(); !errors.Is(err, model.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange at last question, got %v", err)
	}
	if s.Cursor() != 2 {
		t.Fatalf("expected cursor 2, got %d", s.Cursor())
	}
	if err := s.Previous(); err != nil || s.Cursor() != 1 {
		t.Fatalf("previous: %v, cursor %d", err, s.Cursor())
	}
}

func TestTickIsMonotonic(t *testing.T) {
	s := startedSession(t)

	steps := []struct {
		elapsed, want int
	}{
		{0, 120},
		{1, 119},
		{19, 100},
		{99, 1},
	}
	for _, st := range steps {
		res, err := s.Tick(st.elapsed, t0)
		if err != nil {
			t.Fatalf("tick %d: %v", st.elapsed, err)
		}
		if res != nil {
			t.Fatalf("tick %d must not submit", st.elapsed)
		}
		if s.RemainingSeconds() != st.want {
			t.Fatalf("after tick %d remaining = %d, want %d", st.elapsed, s.RemainingSeconds(), st.want)
		}
	}

	if _, err := s.Tick(-5, t0); !errors.Is(err, model.ErrInvalidElapsed) {
		t.Fatalf("expected ErrInvalidElapsed, got %v", err)
	}
	if s.RemainingSeconds() != 1 {
		t.Fatalf("rejected tick changed remaining to %d", s.RemainingSeconds())
	}
}

func TestTickExpirySubmitsOnce(t *testing.T) {
	var calls int32
	s := startedSession(t, WithSubmitHook(func(*model.Result) { atomic.AddInt32(&calls, 1) }))
	_ = s.RecordAnswer(1, 1)

	expiredAt := t0.Add(2 * time.Minute)
	res, err := s.Tick(500, expiredAt)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if res == nil {
		t.Fatalf("expected expiry to produce a result")
	}
	if s.Status() != model.SessionStatusSubmitted || s.RemainingSeconds() != 0 {
		t.Fatalf("unexpected state %s remaining %d", s.Status(), s.RemainingSeconds())
	}
	if res.Reason != model.SubmitReasonTimeExpired || !res.SubmittedAt.Equal(expiredAt) {
		t.Fatalf("unexpected reason/time %s %v", res.Reason, res.SubmittedAt)
	}
	if res.TimeTakenSeconds != 120 || res.CorrectCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.Tick(1, expiredAt); !errors.Is(err, model.ErrInvalidTransition) {
			t.Fatalf("tick after submit: expected ErrInvalidTransition, got %v", err)
		}
	}
	again, err := s.Submit(expiredAt.Add(time.Second), model.SubmitReasonUserRequested)
	if err != nil || again != res {
		t.Fatalf("late submit must return the expiry result: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("submit hook ran %d times", got)
	}
}

func TestSubmitIsExactlyOnce(t *testing.T) {
	var calls int32
	s := startedSession(t, WithSubmitHook(func(*model.Result) { atomic.AddInt32(&calls, 1) }))

	first, err := s.Submit(t0.Add(10*time.Second), model.SubmitReasonUserRequested)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < 5; i++ {
		reason := model.SubmitReasonUserRequested
		if i%2 == 0 {
			reason = model.SubmitReasonTimeExpired
		}
		res, err := s.Submit(t0.Add(time.Hour), reason)
		if err != nil {
			t.Fatalf("repeat submit %d: %v", i, err)
		}
		if res != first {
			t.Fatalf("repeat submit %d returned a different result", i)
		}
	}
	if first.Reason != model.SubmitReasonUserRequested {
		t.Fatalf("reason overwritten to %s", first.Reason)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("submit hook ran %d times", got)
	}
}

func TestSubmitBeforeStart(t *testing.T) {
	s, _ := New(uuid.New(), threeQuestionBank(t))
	if _, err := s.Submit(t0, model.SubmitReasonUserRequested); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, ok := s.Result(); ok {
		t.Fatalf("no result expected before submit")
	}
}

func TestAbandonRefusesTickAndSubmit(t *testing.T) {
	var calls int32
	s := startedSession(t, WithSubmitHook(func(*model.Result) { atomic.AddInt32(&calls, 1) }))

	if !s.Abandon() {
		t.Fatal("abandon of a running session must report true")
	}
	if _, err := s.Tick(500, t0.Add(time.Minute)); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("tick: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := s.Submit(t0.Add(time.Minute), ""); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("submit: expected ErrInvalidTransition, got %v", err)
	}
	if err := s.RecordAnswer(1, 1); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("answer: expected ErrInvalidTransition, got %v", err)
	}
	if _, ok := s.Result(); ok || atomic.LoadInt32(&calls) != 0 {
		t.Fatal("abandoned session was graded")
	}

	fresh, _ := New(uuid.New(), threeQuestionBank(t))
	fresh.Abandon()
	if err := fresh.Start(t0); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("start: expected ErrInvalidTransition, got %v", err)
	}

	done := startedSession(t)
	res, _ := done.Submit(t0, "")
	if done.Abandon() {
		t.Fatal("abandon of a submitted session must report false")
	}
	if again, err := done.Submit(t0, ""); err != nil || again != res {
		t.Fatalf("submitted result must survive abandon: %v", err)
	}
}

func TestMutationsAfterSubmitFail(t *testing.T) {
	s := startedSession(t)
	_ = s.RecordAnswer(1, 1)
	if _, err := s.Submit(t0, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	checks := map[string]error{
		"start":    s.Start(t0),
		"record":   s.RecordAnswer(2, 1),
		"clear":    s.ClearAnswer(1),
		"move":     s.MoveTo(1),
		"next":     s.Next(),
		"previous": s.Previous(),
	}
	_, checks["flag"] = s.ToggleFlag(1)
	_, checks["tick"] = s.Tick(1, t0)

	for name, err := range checks {
		if !errors.Is(err, model.ErrInvalidTransition) {
			t.Errorf("%s after submit: expected ErrInvalidTransition, got %v", name, err)
		}
	}
	if got := s.Answers(); len(got) != 1 || got[1] != 1 {
		t.Fatalf("ledger changed after submit: %v", got)
	}
}

func TestConcurrentSubmitAndExpiry(t *testing.T) {
	for round := 0; round < 50; round++ {
		var calls int32
		s := startedSession(t, WithSubmitHook(func(*model.Result) { atomic.AddInt32(&calls, 1) }))
		_ = s.RecordAnswer(2, 1)

		results := make([]*model.Result, 8)
		var wg sync.WaitGroup
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					results[i], _ = s.Submit(t0.Add(time.Minute), model.SubmitReasonUserRequested)
					return
				}
				res, err := s.Tick(120, t0.Add(2*time.Minute))
				if err == nil {
					results[i] = res
					return
				}
				// Lost the race: the session is already terminal.
				results[i], _ = s.Result()
			}(i)
		}
		wg.Wait()

		final, ok := s.Result()
		if !ok {
			t.Fatalf("round %d: no result", round)
		}
		for i, r := range results {
			if r != final {
				t.Fatalf("round %d: caller %d saw a different result", round, i)
			}
		}
		if got := atomic.LoadInt32(&calls); got != 1 {
			t.Fatalf("round %d: submit hook ran %d times", round, got)
		}
	}
}

func TestThreeQuestionScenario(t *testing.T) {
	s := startedSession(t)

	if err := s.RecordAnswer(1, 1); err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	if err := s.RecordAnswer(2, 0); err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if _, err := s.Tick(20, t0.Add(20*time.Second)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if s.RemainingSeconds() != 100 {
		t.Fatalf("expected 100s remaining, got %d", s.RemainingSeconds())
	}

	res, err := s.Submit(t0.Add(20*time.Second), model.SubmitReasonUserRequested)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Score != 1 || res.CorrectCount != 1 || res.IncorrectCount != 1 || res.UnansweredCount != 1 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if res.Percentage != 33 || res.TimeTakenSeconds != 20 {
		t.Fatalf("expected 33%% in 20s, got %d%% in %ds", res.Percentage, res.TimeTakenSeconds)
	}
	if len(res.CategoryBreakdown) != 2 || res.CategoryBreakdown[0].Category != "Arithmetic" {
		t.Fatalf("unexpected breakdown %+v", res.CategoryBreakdown)
	}
}

func TestProgressAndCurrentQuestion(t *testing.T) {
	s, _ := New(uuid.New(), threeQuestionBank(t))

	p := s.Progress()
	if p.StartedAt != nil || p.RemainingSeconds != 120 || p.Clock != "00:02:00" {
		t.Fatalf("unexpected progress before start %+v", p)
	}
	if _, err := s.CurrentQuestion(); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before start, got %v", err)
	}

	_ = s.Start(t0)
	_ = s.RecordAnswer(2, 1)
	_, _ = s.ToggleFlag(2)
	_ = s.MoveTo(1)

	p = s.Progress()
	if p.QuestionNumber != 2 || p.AnsweredCount != 1 || p.UnansweredCount != 2 || p.FlaggedCount != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if p.ProgressPercent != 67 {
		t.Fatalf("expected 67%% progress, got %d", p.ProgressPercent)
	}

	q, err := s.CurrentQuestion()
	if err != nil {
		t.Fatalf("current question: %v", err)
	}
	if q.ID != 2 || q.Number != 2 || !q.Flagged || q.Selected == nil || *q.Selected != 1 {
		t.Fatalf("unexpected view %+v", q)
	}
}

func TestSheetReflectsLedger(t *testing.T) {
	s := startedSession(t)
	_ = s.RecordAnswer(3, 2)
	_, _ = s.Tick(30, t0)

	sheet := s.Sheet()
	if sheet.Status != model.SessionStatusInProgress || sheet.RemainingSeconds != 90 || sheet.Answers[3] != 2 {
		t.Fatalf("unexpected sheet %+v", sheet)
	}
	if sheet.BankID != "mini" || sheet.SessionID != s.ID() {
		t.Fatalf("sheet identity mismatch %+v", sheet)
	}
}
