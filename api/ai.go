package api

import (
	"net/http"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/jobs"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// AIHandler exposes the text-generation features. Every result is advisory;
// only Score writes, and only after the model call succeeded.
type AIHandler struct {
	engine      *ai.Engine
	pipeline    *pipeline.Engine
	jobs        *jobs.Repository
	resume      func() (string, error)
	clock       calendar.Clock
	maxAttempts int
}

type AIConfig struct {
	// Resume returns the resume text used for scoring.
	Resume      func() (string, error)
	MaxAttempts int
}

func NewAIHandler(engine *ai.Engine, p *pipeline.Engine, jr *jobs.Repository, clock calendar.Clock, cfg AIConfig) *AIHandler {
	return &AIHandler{
		engine:      engine,
		pipeline:    p,
		jobs:        jr,
		resume:      cfg.Resume,
		clock:       clock,
		maxAttempts: cfg.MaxAttempts,
	}
}

func (h *AIHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReloadSchemas(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type scoreResponse struct {
	Fit         *ai.FitScore        `json:"fit"`
	Opportunity *models.Opportunity `json:"opportunity"`
}

// Score runs the fit scorer synchronously and records the result.
func (h *AIHandler) Score(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resume, err := h.resume()
	if err != nil {
		writeError(w, r, err)
		return
	}

	fit, o, err := ai.ScoreOpportunity(r.Context(), h.engine, h.pipeline, id, resume, h.clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, scoreResponse{Fit: fit, Opportunity: o}, http.StatusOK)
}

// ScoreUnscored queues background scoring for every open opportunity that
// has a job description but no score.
func (h *AIHandler) ScoreUnscored(w http.ResponseWriter, r *http.Request) {
	ids, err := jobs.EnqueueUnscored(r.Context(), h.jobs, h.pipeline, h.maxAttempts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, map[string]any{"enqueued": len(ids), "job_ids": ids}, http.StatusAccepted)
}

func (h *AIHandler) Prep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.pipeline.GetOpportunity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	prep, err := h.engine.InterviewPrep(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, prep, http.StatusOK)
}

type draftRequest struct {
	Hook       string `json:"hook,omitempty"`
	Background string `json:"background,omitempty"`
}

// DraftOutreach writes a message for a contact. It does not record outreach.
func (h *AIHandler) DraftOutreach(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req draftRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	c, err := h.pipeline.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.pipeline.GetOpportunity(r.Context(), c.OpportunityID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.DraftOutreach(r.Context(), ai.OutreachRequest{
		ContactName: c.Name,
		ContactRole: string(c.Role),
		Company:     o.Company,
		Title:       o.Title,
		Hook:        req.Hook,
		Background:  req.Background,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

type thankYouRequest struct {
	KeyMoment string `json:"key_moment"`
	FitPoint  string `json:"fit_point"`
}

// DraftThankYou writes a post-interview note to a contact. Nothing is recorded.
func (h *AIHandler) DraftThankYou(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req thankYouRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.pipeline.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.pipeline.GetOpportunity(r.Context(), c.OpportunityID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out, err := h.engine.DraftThankYou(r.Context(), ai.ThankYouRequest{
		ContactName: c.Name,
		ContactRole: string(c.Role),
		Company:     o.Company,
		Title:       o.Title,
		KeyMoment:   req.KeyMoment,
		FitPoint:    req.FitPoint,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (h *AIHandler) CoverLetter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resume, err := h.resume()
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.pipeline.GetOpportunity(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	letter, err := h.engine.CoverLetter(r.Context(), o, resume)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, letter, http.StatusOK)
}

type jobsStatus struct {
	Counts      map[string]int    `json:"counts"`
	DeadLetters []jobs.DeadLetter `json:"dead_letters"`
}

func (h *AIHandler) JobsStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.jobs.Counts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dead, err := h.jobs.ListDeadLetters(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dead == nil {
		dead = []jobs.DeadLetter{}
	}
	writeJSON(w, jobsStatus{Counts: counts, DeadLetters: dead}, http.StatusOK)
}
