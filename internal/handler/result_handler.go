package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/response"
)

const (
	defaultResultLimit = 50
	maxResultLimit     = 500
)

// ResultLister reads persisted results.
type ResultLister interface {
	ListByBank(ctx context.Context, bankID string, limit int) ([]model.Result, error)
}

// ResultHandler serves the persisted result history.
type ResultHandler struct {
	results ResultLister
}

// NewResultHandler creates a new ResultHandler.
func NewResultHandler(results ResultLister) *ResultHandler {
	return &ResultHandler{results: results}
}

// ListByBank godoc
// GET /api/v1/banks/:bank_id/results?limit=50
// Lists the most recent persisted results for a bank.
func (h *ResultHandler) ListByBank(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultResultLimit)))
	if err != nil || limit <= 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"limit": "limit must be a positive integer",
		})
		return
	}
	if limit > maxResultLimit {
		limit = maxResultLimit
	}

	results, err := h.results.ListByBank(c.Request.Context(), c.Param("bank_id"), limit)
	if err != nil {
		response.FailError(c, err)
		return
	}
	if results == nil {
		results = []model.Result{}
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}
