package ai

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/garnizeh/jobpipe/internal/config"
	"github.com/garnizeh/jobpipe/pkg/claude"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

// ErrDisabled is returned by NewGenerator when ai.provider is none.
var ErrDisabled = errors.New("text generation is disabled")

// NewGenerator builds the generator selected by cfg.AI.Provider. The returned
// close func releases idle connections and is never nil.
func NewGenerator(cfg *config.Config) (Generator, func() error, error) {
	noop := func() error { return nil }

	switch cfg.AI.Provider {
	case config.ProviderOllama:
		c, err := ollama.NewDefaultClient(cfg.Ollama)
		if err != nil {
			return nil, noop, fmt.Errorf("ollama client: %w", err)
		}
		return c, c.Close, nil
	case config.ProviderClaude:
		c, err := claude.New(cfg.Anthropic, nil)
		if err != nil {
			return nil, noop, fmt.Errorf("claude client: %w", err)
		}
		return c, noop, nil
	case config.ProviderNone:
		return nil, noop, ErrDisabled
	default:
		return nil, noop, fmt.Errorf("unknown ai provider %q", cfg.AI.Provider)
	}
}

// EngineConfig maps the ai section onto the engine settings.
func EngineConfig(cfg *config.Config) Config {
	return Config{
		Model:           cfg.AI.Model,
		Timeout:         cfg.AI.Timeout,
		TemplateVersion: cfg.AI.TemplateVersion,
	}
}

// ResumeFile returns a loader that reads path on every call, so edits to the
// resume apply without a restart.
func ResumeFile(path string) func() (string, error) {
	return func() (string, error) {
		if path == "" {
			return "", fmt.Errorf("%w: no resume path configured", ErrMissingInput)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: read resume: %w", ErrMissingInput, err)
		}
		s := strings.TrimSpace(string(b))
		if s == "" {
			return "", fmt.Errorf("%w: resume %s is empty", ErrMissingInput, path)
		}
		return s, nil
	}
}
