package handler

import (
	"errors"
	"net/http"

	"github.com/dashwise/dashboard-qa/internal/api/response"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/service"
)

// ContextHandler exposes the context refresh lifecycle
type ContextHandler struct {
	refresher *service.Refresher
}

// NewContextHandler creates a new context handler
func NewContextHandler(refresher *service.Refresher) *ContextHandler {
	return &ContextHandler{refresher: refresher}
}

// Refresh triggers a background reconciliation pass. A pass already in
// flight yields 409 rather than queueing a second one.
func (h *ContextHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.StartRefresh(); err != nil {
		if errors.Is(err, domain.ErrRefreshInProgress) {
			response.Conflict(w, "a refresh is already in progress")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Accepted(w, map[string]string{
		"message": "context refresh started",
	})
}

// Status reports context store and index health
func (h *ContextHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.refresher.Status(r.Context())
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}
	response.OK(w, status)
}
