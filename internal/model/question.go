package model

// Question is a single multiple-choice question inside a bank.
type Question struct {
	ID                 int      `json:"id" yaml:"id"`
	Prompt             string   `json:"prompt" yaml:"prompt"`
	Options            []string `json:"options" yaml:"options"`
	CorrectOptionIndex int      `json:"correct_option_index" yaml:"correct_option_index"`
	Category           string   `json:"category" yaml:"category"`
}

// QuestionForTaker is a question as displayed during an attempt (no correct answer).
type QuestionForTaker struct {
	ID       int      `json:"id"`
	Number   int      `json:"number"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options"`
	Category string   `json:"category"`
	Selected *int     `json:"selected,omitempty"`
	Flagged  bool     `json:"flagged"`
}

// ForTaker strips the answer key. index is the 0-based position in the bank.
func (q Question) ForTaker(index int) QuestionForTaker {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return QuestionForTaker{
		ID:       q.ID,
		Number:   index + 1,
		Prompt:   q.Prompt,
		Options:  opts,
		Category: q.Category,
	}
}

func (q Question) clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}
