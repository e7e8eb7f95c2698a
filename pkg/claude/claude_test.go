package claude_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/garnizeh/jobpipe/pkg/claude"
)

const reply = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-5",
  "content": [
    {"type": "text", "text": "{\"fit_score\": 7,"},
    {"type": "text", "text": " \"rationale\": \"ok\"}"}
  ],
  "stop_reason": "end_turn",
  "stop_sequence": null,
  "usage": {"input_tokens": 12, "output_tokens": 9}
}`

func TestGenerate(t *testing.T) {
	var body map[string]any
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		key = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reply))
	}))
	defer srv.Close()

	c, err := claude.New(claude.Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "claude-sonnet-4-5", MaxTokens: 256}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := c.Generate(context.Background(), "", "You score job fit.", "JD here")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"fit_score": 7, "rationale": "ok"}` {
		t.Fatalf("unexpected text %q", text)
	}
	if key != "test-key" {
		t.Fatalf("api key header = %q", key)
	}
	if body["model"] != "claude-sonnet-4-5" || body["max_tokens"] != float64(256) {
		t.Fatalf("unexpected body %#v", body)
	}
	sys, _ := body["system"].([]any)
	if len(sys) != 1 {
		t.Fatalf("expected one system block, got %#v", body["system"])
	}
}

func TestGenerate_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`))
	}))
	defer srv.Close()

	c, err := claude.New(claude.Config{APIKey: "k", BaseURL: srv.URL + "/", Model: "m"}, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = c.Generate(context.Background(), "", "", "p")
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status 400 error, got %v", err)
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := claude.New(claude.Config{}, nil); !errors.Is(err, claude.ErrNoAPIKey) {
		t.Fatalf("expected ErrNoAPIKey, got %v", err)
	}
}
