package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionFlag     Action = "flag"
	ActionMove     Action = "move"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionCurrent  Action = "current"
	ActionProgress Action = "progress"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload is the single client message shape. Fields irrelevant to
// the action are ignored.
type RequestPayload struct {
	Action      Action `json:"action"`
	QuestionID  *int   `json:"question_id,omitempty"`
	OptionIndex *int   `json:"option_index,omitempty"`
	Index       *int   `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventProgress  Event = "progress"
	EventQuestion  Event = "question"
	EventFlag      Event = "flag"
	EventSubmitted Event = "submitted"
	EventSession   Event = "session"
	EventPong      Event = "pong"
)

// ResponsePayload wraps every server message.
type ResponsePayload struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// FlagData reports the flag state after a toggle.
type FlagData struct {
	QuestionID int  `json:"question_id"`
	Flagged    bool `json:"flagged"`
}

// ProgressData is the progress view sent after ledger changes.
type ProgressData = model.Progress

// QuestionData is the question under the cursor.
type QuestionData = model.QuestionForTaker

// SubmittedData is the graded summary sent to the submitting client.
type SubmittedData = grading.Summary

// SessionData forwards a published session event verbatim.
type SessionData = json.RawMessage
