package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/claude"
	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

// AI providers.
const (
	ProviderOllama = "ollama"
	ProviderClaude = "claude"
	ProviderNone   = "none"
)

type Config struct {
	Env       string         `yaml:"env"`
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Log       LogConfig      `yaml:"log"`
	Pipeline  PipelineConfig `yaml:"pipeline"`
	AI        AIConfig       `yaml:"ai"`
	Ollama    ollama.Config  `yaml:"ollama"`
	Anthropic claude.Config  `yaml:"anthropic"`
	Workers   WorkersConfig  `yaml:"workers"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type PipelineConfig struct {
	// StaleDays is the idle threshold for stages without an override.
	StaleDays int `yaml:"stale_days"`
	// StaleByStage overrides StaleDays per stage, keyed by stage name.
	StaleByStage map[string]int `yaml:"stale_by_stage"`
	// PriorityLimit caps the digest priority list; 0 keeps all.
	PriorityLimit int `yaml:"priority_limit"`
	// AutoWarm moves a Prospect to Warm Lead on its first outreach.
	AutoWarm bool `yaml:"auto_warm"`
	// PersistDigest records a digest-generated activity per mentioned opportunity.
	PersistDigest bool `yaml:"persist_digest"`
}

type AIConfig struct {
	Provider        string        `yaml:"provider"`
	Model           string        `yaml:"model"`
	Timeout         time.Duration `yaml:"timeout"`
	TemplateVersion string        `yaml:"template_version"`
	// MinScore flags scored opportunities below it as weak fits.
	MinScore   int    `yaml:"min_score"`
	ResumePath string `yaml:"resume_path"`
}

type WorkersConfig struct {
	Count        int           `yaml:"count"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// LoadConfig builds a Config from JOBPIPE_* environment variables, then
// overlays the YAML file at path when one is given. Call Validate afterwards.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Env: getEnv("JOBPIPE_ENV", "development"),
		Server: ServerConfig{
			Addr: getEnv("JOBPIPE_ADDR", ":8080"),
		},
		Database: DatabaseConfig{Path: getEnv("JOBPIPE_DB", "jobpipe.db")},
		Log: LogConfig{
			Level:  getEnv("JOBPIPE_LOG_LEVEL", "info"),
			Format: getEnv("JOBPIPE_LOG_FORMAT", "text"),
		},
		Pipeline: PipelineConfig{
			StaleDays: getEnvInt("JOBPIPE_STALE_DAYS", pipeline.DefaultStaleDays),
			AutoWarm:  getEnv("JOBPIPE_AUTO_WARM", "") == "true",
		},
		AI: AIConfig{
			Provider:   getEnv("JOBPIPE_AI_PROVIDER", ProviderOllama),
			Model:      getEnv("JOBPIPE_AI_MODEL", ""),
			ResumePath: getEnv("JOBPIPE_RESUME", "resume.txt"),
		},
		Ollama: ollama.Config{BaseURL: getEnv("JOBPIPE_OLLAMA_URL", "")},
		Anthropic: claude.Config{
			APIKey: getEnv("JOBPIPE_ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY")),
		},
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	return cfg, nil
}

// Validate checks the configuration and fills defaults for zero values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		// scoring calls run inside the request
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}

	switch {
	case c.Pipeline.StaleDays < 0:
		errs = append(errs, errors.New("pipeline.stale_days must not be negative"))
	case c.Pipeline.StaleDays == 0:
		c.Pipeline.StaleDays = pipeline.DefaultStaleDays
	}
	if c.Pipeline.PriorityLimit < 0 {
		errs = append(errs, errors.New("pipeline.priority_limit must not be negative"))
	}
	for name, days := range c.Pipeline.StaleByStage {
		if _, err := pipeline.ParseStage(name); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.stale_by_stage: %w", err))
		}
		if days <= 0 {
			errs = append(errs, fmt.Errorf("pipeline.stale_by_stage[%s] must be positive", name))
		}
	}

	if err := c.validateAI(); err != nil {
		errs = append(errs, err)
	}

	if c.Workers.Count <= 0 {
		c.Workers.Count = 1
	}
	if c.Workers.PollInterval <= 0 {
		c.Workers.PollInterval = time.Second
	}
	if c.Workers.MaxAttempts <= 0 {
		c.Workers.MaxAttempts = 3
	}

	return errors.Join(errs...)
}

func (c *Config) validateAI() error {
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	if c.AI.Provider == "" {
		c.AI.Provider = ProviderOllama
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 2 * time.Minute
	}
	if c.AI.MinScore == 0 {
		c.AI.MinScore = 6
	}
	if c.AI.MinScore < pipeline.MinFitScore || c.AI.MinScore > pipeline.MaxFitScore {
		return fmt.Errorf("ai.min_score must be %d-%d", pipeline.MinFitScore, pipeline.MaxFitScore)
	}

	od := ollama.DefaultConfig()
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = od.BaseURL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = od.Model
	}
	if c.Ollama.Timeout <= 0 {
		c.Ollama.Timeout = od.Timeout
	}
	if c.Ollama.Retries <= 0 {
		c.Ollama.Retries = od.Retries
	}
	if c.Ollama.Backoff <= 0 {
		c.Ollama.Backoff = od.Backoff
	}
	if c.Ollama.CircuitFailureThreshold <= 0 {
		c.Ollama.CircuitFailureThreshold = od.CircuitFailureThreshold
	}
	if c.Ollama.CircuitReset <= 0 {
		c.Ollama.CircuitReset = od.CircuitReset
	}

	cd := claude.DefaultConfig()
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = cd.Model
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = cd.MaxTokens
	}
	if c.Anthropic.Timeout <= 0 {
		c.Anthropic.Timeout = cd.Timeout
	}
	if c.Anthropic.Retries <= 0 {
		c.Anthropic.Retries = cd.Retries
	}

	switch c.AI.Provider {
	case ProviderOllama:
		if c.AI.Model == "" {
			c.AI.Model = c.Ollama.Model
		}
	case ProviderClaude:
		if c.Anthropic.APIKey == "" {
			return errors.New("ai.provider claude needs anthropic.api_key or ANTHROPIC_API_KEY")
		}
		if c.AI.Model == "" {
			c.AI.Model = c.Anthropic.Model
		}
	case ProviderNone:
	default:
		return fmt.Errorf("ai.provider %q: want ollama, claude or none", c.AI.Provider)
	}
	return nil
}

// StalePolicy turns the pipeline section into the detector's policy. Call
// after Validate.
func (c *Config) StalePolicy() pipeline.StalePolicy {
	p := pipeline.Uniform(c.Pipeline.StaleDays)
	if len(c.Pipeline.StaleByStage) == 0 {
		return p
	}
	p.PerStage = make(map[models.Stage]int, len(c.Pipeline.StaleByStage))
	for name, days := range c.Pipeline.StaleByStage {
		if s, err := pipeline.ParseStage(name); err == nil {
			p.PerStage[s] = days
		}
	}
	return p
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
