package session

import "sort"

// ledger holds the taker's answers and review flags. It has no locking of its
// own; Session guards it.
type ledger struct {
	answers map[int]int
	flagged map[int]struct{}
}

func newLedger() ledger {
	return ledger{
		answers: make(map[int]int),
		flagged: make(map[int]struct{}),
	}
}

func (l *ledger) record(questionID, option int) {
	l.answers[questionID] = option
}

func (l *ledger) clear(questionID int) {
	delete(l.answers, questionID)
}

func (l *ledger) answer(questionID int) (int, bool) {
	v, ok := l.answers[questionID]
	return v, ok
}

// toggle flips membership and reports the new state.
func (l *ledger) toggle(questionID int) bool {
	if _, ok := l.flagged[questionID]; ok {
		delete(l.flagged, questionID)
		return false
	}
	l.flagged[questionID] = struct{}{}
	return true
}

func (l *ledger) isFlagged(questionID int) bool {
	_, ok := l.flagged[questionID]
	return ok
}

func (l *ledger) answersCopy() map[int]int {
	out := make(map[int]int, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}

func (l *ledger) flaggedSorted() []int {
	out := make([]int, 0, len(l.flagged))
	for id := range l.flagged {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
