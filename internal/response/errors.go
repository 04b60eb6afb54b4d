package response

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/service"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound     ErrCode = "NOT_FOUND"
	ErrBankNotFound ErrCode = "BANK_NOT_FOUND"

	// ─── Session ───────────────────────────────────────────────────────
	ErrInvalidTransition ErrCode = "INVALID_TRANSITION"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrInvalidOption     ErrCode = "INVALID_OPTION"
	ErrIndexOutOfRange   ErrCode = "INDEX_OUT_OF_RANGE"
	ErrInvalidElapsed    ErrCode = "INVALID_ELAPSED"
	ErrNotSubmitted      ErrCode = "NOT_SUBMITTED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	case ErrNotFound:
		return "Exam session not found."
	case ErrBankNotFound:
		return "Question bank not found."

	case ErrInvalidTransition:
		return "This action is not allowed in the session's current state."
	case ErrUnknownQuestion:
		return "The question does not belong to this exam."
	case ErrInvalidOption:
		return "The selected option does not exist for this question."
	case ErrIndexOutOfRange:
		return "Question index is out of range."
	case ErrInvalidElapsed:
		return "Elapsed seconds must not be negative."
	case ErrNotSubmitted:
		return "The exam has not been submitted yet."

	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}

// FromError maps an engine or service error to an HTTP status and error code.
// Unrecognised errors map to 500 INTERNAL_ERROR.
func FromError(err error) (int, ErrCode) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, service.ErrBankNotFound):
		return http.StatusNotFound, ErrBankNotFound
	case errors.Is(err, service.ErrNotSubmitted):
		return http.StatusConflict, ErrNotSubmitted
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, ErrInvalidTransition
	case errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusNotFound, ErrUnknownQuestion
	case errors.Is(err, model.ErrInvalidOption):
		return http.StatusBadRequest, ErrInvalidOption
	case errors.Is(err, model.ErrIndexOutOfRange):
		return http.StatusBadRequest, ErrIndexOutOfRange
	case errors.Is(err, model.ErrInvalidElapsed):
		return http.StatusBadRequest, ErrInvalidElapsed
	default:
		return http.StatusInternalServerError, ErrInternal
	}
}
