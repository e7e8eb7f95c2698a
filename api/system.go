package api

import (
	"context"
	"net/http"
	"time"
)

type SystemHandler struct {
	// Ping checks the store; nil reports healthy.
	Ping func(ctx context.Context) error
}

func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			writeJSON(w, map[string]string{"status": "unavailable", "service": "jobpipe", "error": err.Error()},
				http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok", "service": "jobpipe"}, http.StatusOK)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"version": version, "buildTime": buildTime}, http.StatusOK)
	}
}
