package api

import (
	"net/http"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

type ContactsHandler struct {
	engine   *pipeline.Engine
	clock    calendar.Clock
	autoWarm bool
}

func NewContactsHandler(engine *pipeline.Engine, clock calendar.Clock, autoWarm bool) *ContactsHandler {
	return &ContactsHandler{engine: engine, clock: clock, autoWarm: autoWarm}
}

func (h *ContactsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.engine.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

type outreachRequest struct {
	Channel string `json:"channel,omitempty"`
	At      string `json:"at,omitempty"`
	// AutoWarm overrides the server default when set.
	AutoWarm *bool `json:"auto_warm,omitempty"`
}

func (h *ContactsHandler) Outreach(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req outreachRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	warm := h.autoWarm
	if req.AutoWarm != nil {
		warm = *req.AutoWarm
	}

	c, err := h.engine.RecordOutreach(r.Context(), id, req.Channel, ts, pipeline.OutreachOptions{AutoWarm: warm})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

type followUpRequest struct {
	Which int    `json:"which"`
	At    string `json:"at,omitempty"`
}

func (h *ContactsHandler) FollowUp(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req followUpRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.engine.RecordFollowUp(r.Context(), id, req.Which, ts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}

type responseRequest struct {
	Status string `json:"status"`
	At     string `json:"at,omitempty"`
}

func (h *ContactsHandler) Response(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req responseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	status, ok := models.ParseResponseStatus(req.Status)
	if !ok {
		writeError(w, r, badRequest("status: want %s, %s or %s, got %q",
			models.ResponseNone, models.ResponseResponded, models.ResponseDeclined, req.Status))
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.engine.RecordResponse(r.Context(), id, status, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusOK)
}
