package api

import (
	"net/http"
	"strconv"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

type OpportunitiesHandler struct {
	engine *pipeline.Engine
	clock  calendar.Clock
}

func NewOpportunitiesHandler(engine *pipeline.Engine, clock calendar.Clock) *OpportunitiesHandler {
	return &OpportunitiesHandler{engine: engine, clock: clock}
}

type createOpportunityRequest struct {
	pipeline.NewOpportunity
	At string `json:"at,omitempty"`
}

func (h *OpportunitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOpportunityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.engine.CreateOpportunity(r.Context(), req.NewOpportunity, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, o, http.StatusCreated)
}

// List accepts stage, tier, family, include_closed and unscored query filters.
// Closed opportunities are hidden unless include_closed=true or stage=Closed.
func (h *OpportunitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opps, err := h.engine.ListOpportunities(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	writeJSON(w, opps, http.StatusOK)
}

func parseFilter(r *http.Request) (models.OpportunityFilter, error) {
	q := r.URL.Query()
	var f models.OpportunityFilter

	if s := q.Get("stage"); s != "" {
		st, err := pipeline.ParseStage(s)
		if err != nil {
			return f, err
		}
		f.Stage = st
	}
	if s := q.Get("tier"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return f, badRequest("tier: %q is not a non-negative integer", s)
		}
		f.Tier = n
	}
	if s := q.Get("family"); s != "" {
		fam, ok := models.ParseJobFamily(s)
		if !ok {
			return f, badRequest("family: unknown job family %q", s)
		}
		f.JobFamily = fam
	}
	includeClosed, err := queryBool(r, "include_closed")
	if err != nil {
		return f, err
	}
	f.ExcludeClosed = !includeClosed && f.Stage != models.StageClosed
	if f.Unscored, err = queryBool(r, "unscored"); err != nil {
		return f, err
	}
	return f, nil
}

type opportunityView struct {
	*models.Opportunity
	Contacts   []models.Contact  `json:"contacts"`
	Activities []models.Activity `json:"activities"`
}

// Get returns the opportunity with its contacts and activity trail.
func (h *OpportunitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.engine.GetOpportunity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	contacts, err := h.engine.Contacts(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trail, err := h.engine.Trail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	if trail == nil {
		trail = []models.Activity{}
	}
	writeJSON(w, opportunityView{Opportunity: o, Contacts: contacts, Activities: trail}, http.StatusOK)
}

type advanceRequest struct {
	Stage       string `json:"stage"`
	Note        string `json:"note,omitempty"`
	CloseReason string `json:"close_reason,omitempty"`
	At          string `json:"at,omitempty"`
}

func (h *OpportunitiesHandler) Advance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req advanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	target, err := pipeline.ParseStage(req.Stage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.engine.Advance(r.Context(), id, target, now, pipeline.AdvanceOptions{Note: req.Note, CloseReason: req.CloseReason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, o, http.StatusOK)
}

type bulkAdvanceRequest struct {
	IDs []int64 `json:"ids"`
	advanceRequest
}

// BulkAdvance applies one stage change to many opportunities. Per-id failures
// are reported in the body; the call itself succeeds.
func (h *OpportunitiesHandler) BulkAdvance(w http.ResponseWriter, r *http.Request) {
	var req bulkAdvanceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, badRequest("ids is required"))
		return
	}
	target, err := pipeline.ParseStage(req.Stage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.engine.BulkAdvance(r.Context(), req.IDs, target, now, pipeline.AdvanceOptions{Note: req.Note, CloseReason: req.CloseReason})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

type addContactRequest struct {
	pipeline.NewContact
	At string `json:"at,omitempty"`
}

func (h *OpportunitiesHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addContactRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	now, err := instant(req.At, h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.engine.AddContact(r.Context(), id, req.NewContact, now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, c, http.StatusCreated)
}
