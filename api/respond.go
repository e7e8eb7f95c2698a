package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
)

// maxBody bounds request bodies; job descriptions are the largest payload.
const maxBody = 1 << 20

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.Any("err", err))
	}
}

// writeError maps err to a status code and the {"error","message"} body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("request_id", RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("kind", kind),
			slog.Any("err", err))
	}
	writeJSON(w, errorBody{Error: kind, Message: err.Error()}, status)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, ai.ErrMissingInput):
		return http.StatusBadRequest, "MissingInputError"
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, ai.ErrInvalidResponse):
		return http.StatusBadGateway, "GenerationError"
	}

	kind := pipeline.Kind(err)
	switch kind {
	case "NotFoundError":
		return http.StatusNotFound, kind
	case "InvalidStageError":
		return http.StatusBadRequest, kind
	case "AlreadySentError":
		return http.StatusConflict, kind
	case "PreconditionError":
		return http.StatusUnprocessableEntity, kind
	case "StoreError":
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest("empty body")
		}
		return badRequest("invalid json: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", raw)
	}
	return id, nil
}

// instant resolves an optional timestamp from a body field or query value,
// falling back to the clock.
func instant(raw string, clock calendar.Clock) (time.Time, error) {
	if raw == "" {
		return clock.Now(), nil
	}
	t, err := calendar.ParseTime(raw)
	if err != nil {
		return time.Time{}, badRequest("%v", err)
	}
	return t, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("%s: %q is not a boolean", key, raw)
	}
	return b, nil
}
