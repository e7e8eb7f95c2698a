// Package claude implements a text generator on the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ErrNoAPIKey is returned by New when no key is configured.
var ErrNoAPIKey = errors.New("claude: api key not set")

// Config holds settings for the Claude generator.
type Config struct {
	APIKey    string        `yaml:"api_key" json:"-"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	Model     string        `yaml:"model" json:"model"`
	MaxTokens int64         `yaml:"max_tokens" json:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
	Retries   int           `yaml:"retries" json:"retries"`
}

func DefaultConfig() Config {
	return Config{
		Model:     "claude-sonnet-4-5",
		MaxTokens: 2048,
		Timeout:   60 * time.Second,
		Retries:   2,
	}
}

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/claude. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Client generates text with a Claude model.
type Client struct {
	api anthropic.Client
	cfg Config
}

// New builds a client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.Retries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &Client{api: anthropic.NewClient(opts...), cfg: cfg}, nil
}

// Generate sends one user turn and returns the concatenated text blocks of the reply.
func (c *Client) Generate(ctx context.Context, model, system, prompt string) (string, error) {
	if model == "" {
		model = c.cfg.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("claude: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("claude: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	logger.Debug("claude: generate ok",
		slog.String("model", model),
		slog.String("stop_reason", string(msg.StopReason)),
		slog.Int64("input_tokens", msg.Usage.InputTokens),
		slog.Int64("output_tokens", msg.Usage.OutputTokens),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()))

	if b.Len() == 0 {
		return "", fmt.Errorf("claude: empty response (stop_reason %s)", msg.StopReason)
	}
	return b.String(), nil
}
