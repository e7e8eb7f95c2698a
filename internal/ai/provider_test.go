package ai_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/config"
	"github.com/garnizeh/jobpipe/pkg/claude"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

func TestNewGenerator(t *testing.T) {
	cfg := &config.Config{}
	cfg.AI.Provider = config.ProviderOllama
	cfg.Ollama = ollama.DefaultConfig()

	gen, closeFn, err := ai.NewGenerator(cfg)
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if _, ok := gen.(*ollama.Client); !ok {
		t.Fatalf("expected *ollama.Client, got %T", gen)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cfg.AI.Provider = config.ProviderClaude
	if _, _, err := ai.NewGenerator(cfg); !errors.Is(err, claude.ErrNoAPIKey) {
		t.Fatalf("claude without key: expected ErrNoAPIKey, got %v", err)
	}
	cfg.Anthropic.APIKey = "sk-test"
	gen, _, err = ai.NewGenerator(cfg)
	if err != nil {
		t.Fatalf("claude: %v", err)
	}
	if _, ok := gen.(*claude.Client); !ok {
		t.Fatalf("expected *claude.Client, got %T", gen)
	}

	cfg.AI.Provider = config.ProviderNone
	if _, closeFn, err := ai.NewGenerator(cfg); !errors.Is(err, ai.ErrDisabled) || closeFn == nil {
		t.Fatalf("none: expected ErrDisabled and a close func, got %v", err)
	}
}

func TestResumeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resume.txt")
	if err := os.WriteFile(path, []byte("  Ten years of analytics.\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ai.ResumeFile(path)()
	if err != nil || got != "Ten years of analytics." {
		t.Fatalf("got %q, %v", got, err)
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"", empty, filepath.Join(dir, "missing.txt")} {
		if _, err := ai.ResumeFile(p)(); !errors.Is(err, ai.ErrMissingInput) {
			t.Fatalf("%q: expected ErrMissingInput, got %v", p, err)
		}
	}
}
