package api_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/garnizeh/jobpipe/api"
)

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func TestLoggingMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})

	handler := api.LoggingMiddleware(next)
	req := httptest.NewRequest(http.MethodGet, "/log", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)
	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("expected status 418, got %d", res.StatusCode)
	}
	b, _ := io.ReadAll(res.Body)
	if string(b) != "ok" {
		t.Fatalf("unexpected body: %q", string(b))
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := api.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = api.RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || w.Header().Get("X-Request-ID") != seen {
		t.Fatalf("expected generated id echoed, got ctx=%q header=%q", seen, w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if seen != "abc-123" || w.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("expected incoming id kept, got %q", seen)
	}
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	handler := api.CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	// OPTIONS should return 204 and not call next
	wOpt := httptest.NewRecorder()
	handler.ServeHTTP(wOpt, httptest.NewRequest(http.MethodOptions, "/cors", nil))
	if wOpt.Code != http.StatusNoContent || called {
		t.Fatalf("expected 204 without calling next, got %d called=%v", wOpt.Code, called)
	}
	if got := wOpt.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected CORS header set, got %q", got)
	}

	wGet := httptest.NewRecorder()
	handler.ServeHTTP(wGet, httptest.NewRequest(http.MethodGet, "/cors", nil))
	if wGet.Code != http.StatusOK || !called {
		t.Fatalf("expected pass-through, got %d called=%v", wGet.Code, called)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := api.RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"InternalError"`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	handler := api.TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if deadline.IsZero() {
		t.Fatal("expected a request deadline")
	}
}
