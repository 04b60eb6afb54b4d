package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	"github.com/stemsi/exstem-engine/internal/validator"
)

// SessionHandler exposes the exam session lifecycle over HTTP.
type SessionHandler struct {
	sessionService *service.ExamSessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.ExamSessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// ListBanks godoc
// GET /api/v1/banks
// Lists the question banks sessions can be opened on.
func (h *SessionHandler) ListBanks(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"banks": h.sessionService.ListBanks()})
}

// CreateSession godoc
// POST /api/v1/sessions
// Opens a NOT_STARTED session on a bank.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	progress, err := h.sessionService.Create(c.Request.Context(), req.BankID)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": progress})
}

// StartSession godoc
// POST /api/v1/sessions/:id/start
// Starts the countdown.
func (h *SessionHandler) StartSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	progress, err := h.sessionService.Start(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": progress})
}

// GetSession godoc
// GET /api/v1/sessions/:id
// Returns the progress view.
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	progress, err := h.sessionService.Progress(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": progress})
}

// CurrentQuestion godoc
// GET /api/v1/sessions/:id/question
// Returns the question under the cursor, without its answer key.
func (h *SessionHandler) CurrentQuestion(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	q, err := h.sessionService.CurrentQuestion(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// RecordAnswer godoc
// PUT /api/v1/sessions/:id/answers
// Records or overwrites the answer to one question.
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	progress, err := h.sessionService.RecordAnswer(c.Request.Context(), id, *req.QuestionID, *req.OptionIndex)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": progress})
}

// ClearAnswer godoc
// DELETE /api/v1/sessions/:id/answers/:question_id
// Removes an answer. Clearing an unanswered question is a no-op.
func (h *SessionHandler) ClearAnswer(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}
	progress, err := h.sessionService.ClearAnswer(c.Request.Context(), id, qid)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": progress})
}

// ToggleFlag godoc
// POST /api/v1/sessions/:id/flags/:question_id
// Flags or unflags a question for review.
func (h *SessionHandler) ToggleFlag(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	qid, ok := questionID(c)
	if !ok {
		return
	}
	flagged, err := h.sessionService.ToggleFlag(c.Request.Context(), id, qid)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question_id": qid, "flagged": flagged})
}

// MoveCursor godoc
// PUT /api/v1/sessions/:id/cursor
// Jumps to a 0-based question index.
func (h *SessionHandler) MoveCursor(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.MoveCursorRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.writeQuestion(c, func() (model.QuestionForTaker, error) {
		return h.sessionService.MoveTo(c.Request.Context(), id, *req.Index)
	})
}

// NextQuestion godoc
// POST /api/v1/sessions/:id/next
func (h *SessionHandler) NextQuestion(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	h.writeQuestion(c, func() (model.QuestionForTaker, error) {
		return h.sessionService.Next(c.Request.Context(), id)
	})
}

// PreviousQuestion godoc
// POST /api/v1/sessions/:id/previous
func (h *SessionHandler) PreviousQuestion(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	h.writeQuestion(c, func() (model.QuestionForTaker, error) {
		return h.sessionService.Previous(c.Request.Context(), id)
	})
}

// SubmitSession godoc
// POST /api/v1/sessions/:id/submit
// Submits and grades the session. Repeating the call returns the same result.
func (h *SessionHandler) SubmitSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	res, err := h.sessionService.Submit(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": grading.Summarize(res)})
}

// Tick godoc
// POST /api/v1/sessions/:id/tick
// Advances simulated time. Only routed when manual ticks are enabled.
func (h *SessionHandler) Tick(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req model.TickRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	progress, res, err := h.sessionService.Tick(c.Request.Context(), id, req.ElapsedSeconds)
	if err != nil {
		response.FailError(c, err)
		return
	}
	body := gin.H{"session": progress}
	if res != nil {
		body["result"] = grading.Summarize(res)
	}
	response.Success(c, http.StatusOK, body)
}

// GetResult godoc
// GET /api/v1/sessions/:id/result
// Returns the graded summary of a submitted session.
func (h *SessionHandler) GetResult(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	res, err := h.sessionService.Result(c.Request.Context(), id)
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": grading.Summarize(res)})
}

// DiscardSession godoc
// DELETE /api/v1/sessions/:id
// Abandons a session without grading it.
func (h *SessionHandler) DiscardSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.sessionService.Discard(c.Request.Context(), id); err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": id, "discarded": true})
}

// Stats godoc
// GET /api/v1/stats
func (h *SessionHandler) Stats(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"stats": h.sessionService.Stats()})
}

func (h *SessionHandler) writeQuestion(c *gin.Context, fn func() (model.QuestionForTaker, error)) {
	q, err := fn()
	if err != nil {
		response.FailError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"question": q})
}

// sessionID parses :id, writing a 400 on failure.
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

func questionID(c *gin.Context) (int, bool) {
	qid, err := strconv.Atoi(c.Param("question_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return qid, true
}
