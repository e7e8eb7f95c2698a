package api

import (
	"net/http"
	"strings"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// ActivitiesHandler serves the append-only trail of an opportunity.
type ActivitiesHandler struct {
	engine *pipeline.Engine
	clock  calendar.Clock
}

func NewActivitiesHandler(engine *pipeline.Engine, clock calendar.Clock) *ActivitiesHandler {
	return &ActivitiesHandler{engine: engine, clock: clock}
}

type postNoteRequest struct {
	Text string `json:"text"`
	At   string `json:"at,omitempty"`
}

func (h *ActivitiesHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req postNoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, badRequest("text is required"))
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := h.engine.AddNote(r.Context(), id, req.Text, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, a, http.StatusCreated)
}

// List returns the trail oldest first.
func (h *ActivitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trail, err := h.engine.Trail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if trail == nil {
		trail = []models.Activity{}
	}
	writeJSON(w, trail, http.StatusOK)
}
