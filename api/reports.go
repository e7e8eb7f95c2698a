package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/internal/render"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// ReportsHandler serves the read-mostly views: due follow-ups, stale
// opportunities, the digest and the spreadsheet exports.
type ReportsHandler struct {
	engine        *pipeline.Engine
	narrator      *ai.Engine
	clock         calendar.Clock
	stale         pipeline.StalePolicy
	priorityLimit int
	persist       bool
}

type ReportsConfig struct {
	Stale         pipeline.StalePolicy
	PriorityLimit int
	// PersistDigest is the default for the digest persist query parameter.
	PersistDigest bool
}

// NewReportsHandler builds the handler. narrator may be nil, in which case
// narrate=true is rejected.
func NewReportsHandler(engine *pipeline.Engine, narrator *ai.Engine, clock calendar.Clock, cfg ReportsConfig) *ReportsHandler {
	return &ReportsHandler{
		engine:        engine,
		narrator:      narrator,
		clock:         clock,
		stale:         cfg.Stale,
		priorityLimit: cfg.PriorityLimit,
		persist:       cfg.PersistDigest,
	}
}

func (h *ReportsHandler) Due(w http.ResponseWriter, r *http.Request) {
	now, err := instant(r.URL.Query().Get("now"), h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	due, err := h.engine.DueFollowUps(r.Context(), now)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if due.Day3 == nil {
		due.Day3 = []pipeline.DueItem{}
	}
	if due.Day7 == nil {
		due.Day7 = []pipeline.DueItem{}
	}
	writeJSON(w, due, http.StatusOK)
}

// stalePolicy applies the days query parameter, which replaces every
// per-stage threshold with one uniform value.
func (h *ReportsHandler) stalePolicy(r *http.Request) (pipeline.StalePolicy, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return h.stale, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return pipeline.StalePolicy{}, badRequest("days: %q is not a positive integer", raw)
	}
	return pipeline.Uniform(n), nil
}

func (h *ReportsHandler) Stale(w http.ResponseWriter, r *http.Request) {
	policy, err := h.stalePolicy(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	now, err := instant(r.URL.Query().Get("now"), h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}

	items, err := h.engine.StaleOpportunities(r.Context(), now, policy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []pipeline.StaleItem{}
	}
	writeJSON(w, items, http.StatusOK)
}

type digestResponse struct {
	*pipeline.Digest
	Narrative      string `json:"narrative,omitempty"`
	NarrativeError string `json:"narrative_error,omitempty"`
}

// Digest builds the daily digest. A failed narration still returns the
// factual digest with narrative_error set.
func (h *ReportsHandler) Digest(w http.ResponseWriter, r *http.Request) {
	now, err := instant(r.URL.Query().Get("now"), h.clock)
	if err != nil {
		writeError(w, r, err)
		return
	}
	policy, err := h.stalePolicy(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	persist := h.persist
	if r.URL.Query().Has("persist") {
		if persist, err = queryBool(r, "persist"); err != nil {
			writeError(w, r, err)
			return
		}
	}
	narrate, err := queryBool(r, "narrate")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if narrate && h.narrator == nil {
		writeError(w, r, badRequest("narrate: no text generator configured"))
		return
	}

	d, err := h.engine.BuildDigest(r.Context(), now, pipeline.DigestOptions{
		Stale:         policy,
		PriorityLimit: h.priorityLimit,
		Persist:       persist,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := digestResponse{Digest: d}
	if narrate {
		text, err := h.narrator.DigestNarrative(r.Context(), d)
		if err != nil {
			logger.Warn("digest narration failed",
				slog.String("request_id", RequestID(r.Context())),
				slog.Any("err", err))
			resp.NarrativeError = err.Error()
		} else {
			resp.Narrative = text
		}
	}
	writeJSON(w, resp, http.StatusOK)
}

func (h *ReportsHandler) exportRows(w http.ResponseWriter, r *http.Request) ([]models.Opportunity, bool) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	opps, err := h.engine.ListOpportunities(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return opps, true
}

func (h *ReportsHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	opps, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="opportunities.csv"`)
	if err := render.WriteCSV(w, opps); err != nil {
		logger.Error("write csv", slog.Any("err", err))
	}
}

func (h *ReportsHandler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	opps, ok := h.exportRows(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="opportunities.xlsx"`)
	if err := render.WriteXLSX(w, opps); err != nil {
		logger.Error("write xlsx", slog.Any("err", err))
	}
}
