package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"
)

var ErrCircuitOpen = errors.New("ollama circuit open")

// Client wraps the Ollama API client and adds retries, timeout, and circuit breaker.
type Client struct {
	api    *api.Client
	cfg    Config
	client *http.Client

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32
}

// package-level logger for pkg/ollama; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/ollama. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// NewClient creates a new Ollama client wrapper.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	u, err := url.ParseRequestURI(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	logger.Debug("ollama: client created", slog.String("base_url", cfg.BaseURL), slog.String("model", cfg.Model))
	return &Client{
		api:    api.NewClient(u, httpClient),
		cfg:    cfg,
		client: httpClient,
	}, nil
}

// NewDefaultClient builds a client with a pooled transport.
func NewDefaultClient(cfg Config) (*Client, error) {
	return NewClient(cfg, &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	})
}

// Close closes idle connections on the underlying transport. It is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.client != nil && c.client.Transport != nil {
		if tr, ok := c.client.Transport.(interface{ CloseIdleConnections() }); ok {
			tr.CloseIdleConnections()
		}
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if c.cfg.CircuitFailureThreshold <= 0 {
		return false
	}
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}
	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// half-open: let the next request through
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if c.cfg.CircuitFailureThreshold > 0 && v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
		logger.Warn("ollama: circuit opened", slog.Int("failures", int(v)), slog.Duration("reset", c.cfg.CircuitReset))
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt32(&c.failures, 0)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, c.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// ListModels returns the names of the models available locally.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	if c.isCircuitOpen() {
		return nil, ErrCircuitOpen
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.api.List(ctx)
	if err != nil {
		c.recordFailure()
		return nil, err
	}
	c.recordSuccess()

	out := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, m.Name)
	}
	return out, nil
}

// Health checks that Ollama answers and has the configured model pulled.
func (c *Client) Health(ctx context.Context) error {
	models, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if len(models) == 0 {
		return fmt.Errorf("health check failed: no models available")
	}
	if c.cfg.Model == "" {
		return nil
	}
	for _, m := range models {
		if m == c.cfg.Model || strings.TrimSuffix(m, ":latest") == c.cfg.Model {
			return nil
		}
	}
	return fmt.Errorf("health check failed: model %q not pulled", c.cfg.Model)
}

// Generate sends a prompt and returns the full response text, concatenating
// streamed chunks. Server errors and timeouts are retried with linear backoff;
// client errors (4xx) are returned at once.
func (c *Client) Generate(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = c.cfg.Model
	}
	if c.isCircuitOpen() {
		return "", ErrCircuitOpen
	}

	req := &api.GenerateRequest{Model: model, Prompt: prompt, System: system}
	if c.cfg.FormatJSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		start := time.Now()
		text, err := c.generateOnce(ctx, req)
		if err == nil {
			c.recordSuccess()
			logger.Debug("ollama: generate ok",
				slog.String("model", model),
				slog.Int("attempt", attempt+1),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
				slog.Int("chars", len(text)))
			return text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se api.StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return "", fmt.Errorf("generate: %w", err)
		}

		c.recordFailure()
		logger.Warn("ollama: generate failed", slog.String("model", model), slog.Int("attempt", attempt+1), slog.String("error", err.Error()))
		if c.isCircuitOpen() {
			return "", ErrCircuitOpen
		}
		if attempt == c.cfg.Retries {
			break
		}

		t := time.NewTimer(c.cfg.Backoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}

	return "", fmt.Errorf("generate failed after %d attempts: %w", c.cfg.Retries+1, lastErr)
}

func (c *Client) generateOnce(ctx context.Context, req *api.GenerateRequest) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var b strings.Builder
	err := c.api.Generate(ctx, req, func(r api.GenerateResponse) error {
		b.WriteString(r.Response)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
