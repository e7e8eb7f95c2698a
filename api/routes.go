package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/jobs"
	"github.com/garnizeh/jobpipe/internal/pipeline"
)

// Deps is everything the router needs. AI and Jobs are optional; without
// them the AI routes answer 503.
type Deps struct {
	Pipeline *pipeline.Engine
	AI       *ai.Engine
	Jobs     *jobs.Repository
	Metrics  *Metrics
	Clock    calendar.Clock
	Ping     func(ctx context.Context) error

	Reports        ReportsConfig
	AIOptions      AIConfig
	AutoWarm       bool
	RequestTimeout time.Duration

	Version   string
	BuildTime string
}

func SetupRoutes(d Deps) *mux.Router {
	if d.Clock == nil {
		d.Clock = calendar.System
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics()
	}

	r := mux.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(d.Metrics.Middleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, errorBody{Error: "NotFoundError", Message: "no route for " + r.URL.Path}, http.StatusNotFound)
	})

	sys := &SystemHandler{Ping: d.Ping}
	r.HandleFunc("/health", sys.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/version", sys.VersionHandler(d.Version, d.BuildTime)).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(TimeoutMiddleware(d.RequestTimeout))

	oh := NewOpportunitiesHandler(d.Pipeline, d.Clock)
	ah := NewActivitiesHandler(d.Pipeline, d.Clock)
	ch := NewContactsHandler(d.Pipeline, d.Clock, d.AutoWarm)
	rh := NewReportsHandler(d.Pipeline, d.AI, d.Clock, d.Reports)

	v1.HandleFunc("/opportunities", oh.Create).Methods(http.MethodPost)
	v1.HandleFunc("/opportunities", oh.List).Methods(http.MethodGet)
	v1.HandleFunc("/opportunities/bulk-advance", oh.BulkAdvance).Methods(http.MethodPost)
	v1.HandleFunc("/opportunities/{id:[0-9]+}", oh.Get).Methods(http.MethodGet)
	v1.HandleFunc("/opportunities/{id:[0-9]+}/advance", oh.Advance).Methods(http.MethodPost)
	v1.HandleFunc("/opportunities/{id:[0-9]+}/contacts", oh.AddContact).Methods(http.MethodPost)
	v1.HandleFunc("/opportunities/{id:[0-9]+}/notes", ah.AddNote).Methods(http.MethodPost)
	v1.HandleFunc("/opportunities/{id:[0-9]+}/activities", ah.List).Methods(http.MethodGet)

	v1.HandleFunc("/contacts/{id:[0-9]+}", ch.Get).Methods(http.MethodGet)
	v1.HandleFunc("/contacts/{id:[0-9]+}/outreach", ch.Outreach).Methods(http.MethodPost)
	v1.HandleFunc("/contacts/{id:[0-9]+}/followups", ch.FollowUp).Methods(http.MethodPost)
	v1.HandleFunc("/contacts/{id:[0-9]+}/response", ch.Response).Methods(http.MethodPost)

	v1.HandleFunc("/followups/due", rh.Due).Methods(http.MethodGet)
	v1.HandleFunc("/stale", rh.Stale).Methods(http.MethodGet)
	v1.HandleFunc("/digest", rh.Digest).Methods(http.MethodGet)
	v1.HandleFunc("/export.csv", rh.ExportCSV).Methods(http.MethodGet)
	v1.HandleFunc("/export.xlsx", rh.ExportXLSX).Methods(http.MethodGet)

	registerAI(v1, d)

	return r
}

type aiRoute struct {
	path    string
	handler func(*AIHandler) http.HandlerFunc
	// needsJobs marks routes backed by the job queue.
	needsJobs bool
}

var aiRoutes = []aiRoute{
	{path: "/opportunities/score-unscored", handler: func(h *AIHandler) http.HandlerFunc { return h.ScoreUnscored }, needsJobs: true},
	{path: "/opportunities/{id:[0-9]+}/score", handler: func(h *AIHandler) http.HandlerFunc { return h.Score }},
	{path: "/opportunities/{id:[0-9]+}/prep", handler: func(h *AIHandler) http.HandlerFunc { return h.Prep }},
	{path: "/opportunities/{id:[0-9]+}/cover-letter", handler: func(h *AIHandler) http.HandlerFunc { return h.CoverLetter }},
	{path: "/contacts/{id:[0-9]+}/draft", handler: func(h *AIHandler) http.HandlerFunc { return h.DraftOutreach }},
	{path: "/contacts/{id:[0-9]+}/thank-you", handler: func(h *AIHandler) http.HandlerFunc { return h.DraftThankYou }},
	{path: "/ai/reload", handler: func(h *AIHandler) http.HandlerFunc { return h.ReloadHandler }},
}

// registerAI mounts the generator-backed routes. When the generator or the
// job queue is not configured the routes still exist and answer 503.
func registerAI(v1 *mux.Router, d Deps) {
	var h *AIHandler
	if d.AI != nil {
		h = NewAIHandler(d.AI, d.Pipeline, d.Jobs, d.Clock, d.AIOptions)
	}
	for _, rt := range aiRoutes {
		var fn http.HandlerFunc
		switch {
		case h == nil:
			fn = unavailable("text generation is disabled")
		case rt.needsJobs && d.Jobs == nil:
			fn = unavailable("background jobs are disabled")
		default:
			fn = rt.handler(h)
		}
		v1.HandleFunc(rt.path, fn).Methods(http.MethodPost)
	}

	if d.Jobs == nil {
		v1.HandleFunc("/jobs", unavailable("background jobs are disabled")).Methods(http.MethodGet)
		return
	}
	jh := &AIHandler{jobs: d.Jobs}
	v1.HandleFunc("/jobs", jh.JobsStatus).Methods(http.MethodGet)
}

func unavailable(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, errorBody{Error: "Unavailable", Message: msg}, http.StatusServiceUnavailable)
	}
}
