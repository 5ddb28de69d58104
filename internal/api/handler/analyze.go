package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dashwise/dashboard-qa/internal/api/response"
	"github.com/dashwise/dashboard-qa/internal/domain"
	"github.com/dashwise/dashboard-qa/internal/service"
)

var validate = validator.New()

// AnalyzeRequest is the body of an analysis request
type AnalyzeRequest struct {
	Question string `json:"question" validate:"required,min=3,max=2000"`
}

// AnalyzeHandler exposes the analysis session lifecycle
type AnalyzeHandler struct {
	orchestrator *service.Orchestrator
}

// NewAnalyzeHandler creates a new analyze handler
func NewAnalyzeHandler(orchestrator *service.Orchestrator) *AnalyzeHandler {
	return &AnalyzeHandler{orchestrator: orchestrator}
}

// Analyze starts an analysis session for a question
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}

	if err := validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	started, err := h.orchestrator.Analyze(r.Context(), req.Question)
	if err != nil {
		if errors.Is(err, domain.ErrNothingToAnalyze) {
			response.UnprocessableEntity(w, "no dashboards available to analyze")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.Accepted(w, started)
}

func sessionID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "sessionID"))
}

// Events streams the session's progress events over SSE, replayed from the
// first event so a reconnecting client always sees the full history.
func (h *AnalyzeHandler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	events, err := h.orchestrator.Events(r.Context(), id)
	if err != nil {
		response.NotFound(w, "session not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		response.InternalError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data)
		flusher.Flush()
	}
}

// Answer returns the terminal result of a session
func (h *AnalyzeHandler) Answer(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	result, err := h.orchestrator.Answer(id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			response.NotFound(w, "session not found")
		case errors.Is(err, domain.ErrSessionNotTerminal):
			response.Conflict(w, "session is still running")
		default:
			response.InternalError(w, err.Error())
		}
		return
	}

	response.OK(w, result)
}

// Cancel requests cancellation of a running session
func (h *AnalyzeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		response.BadRequest(w, "invalid session ID")
		return
	}

	if err := h.orchestrator.Cancel(id); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			response.NotFound(w, "session not found")
			return
		}
		response.InternalError(w, err.Error())
		return
	}

	response.NoContent(w)
}
