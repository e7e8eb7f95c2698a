// Command ai-probe checks that the configured text generator answers. With
// ollama it also lists the installed models.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/config"
	"github.com/garnizeh/jobpipe/internal/logging"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	prompt := flag.String("prompt", "Reply with the single word: ready", "prompt to send")
	flag.Parse()

	_ = godotenv.Load()

	if err := probe(*configPath, *prompt); err != nil {
		fmt.Fprintf(os.Stderr, "Probe error: %v\n", err)
		os.Exit(1)
	}
}

func probe(configPath, prompt string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := logging.New("debug", cfg.Log.Format)
	ai.SetLogger(logger)
	ollama.SetLogger(logger)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AI.Timeout)
	defer cancel()

	if cfg.AI.Provider == config.ProviderOllama {
		c, err := ollama.NewDefaultClient(cfg.Ollama)
		if err != nil {
			return err
		}
		defer c.Close()
		models, err := c.ListModels(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("ollama at %s has %d models: %v\n", cfg.Ollama.BaseURL, len(models), models)
	}

	gen, closeFn, err := ai.NewGenerator(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	start := time.Now()
	out, err := gen.Generate(ctx, cfg.AI.Model, "", prompt)
	if err != nil {
		return err
	}
	fmt.Printf("%s/%s answered in %s:\n%s\n", cfg.AI.Provider, cfg.AI.Model, time.Since(start).Round(time.Millisecond), out)
	return nil
}
