package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	dbfs "github.com/garnizeh/jobpipe/db"
	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/config"
	"github.com/garnizeh/jobpipe/internal/db"
	"github.com/garnizeh/jobpipe/internal/logging"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	sqlite "github.com/garnizeh/jobpipe/internal/repository/sqlite"
	"github.com/garnizeh/jobpipe/pkg/claude"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

var (
	errUsage  = errors.New("usage")
	errConfig = errors.New("config")
)

func usagef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

// app carries the per-invocation state shared by every subcommand.
type app struct {
	cfgPath  string
	dbPath   string
	nowFlag  string
	logLevel string
	jsonOut  bool

	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB
	repo   *sqlite.SQLiteRepo
	engine *pipeline.Engine
	clock  calendar.Clock
	out    io.Writer
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s takes %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobpipe",
		Short:         "Track a personal job search pipeline",
		Long:          `Track opportunities through the hiring stages, schedule contact follow-ups and get a daily digest.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usagef("%v", err)
	})

	f := root.PersistentFlags()
	f.StringVar(&a.cfgPath, "config", "", "YAML config file")
	f.StringVar(&a.dbPath, "db", "", "SQLite database path (overrides config)")
	f.StringVar(&a.nowFlag, "now", "", "act as if the current time were this RFC3339 timestamp or date")
	f.StringVar(&a.logLevel, "log-level", "warn", "debug, info, warn or error")
	f.BoolVar(&a.jsonOut, "json", false, "print results as JSON instead of tables")

	root.AddCommand(
		addJobCmd(a),
		addContactCmd(a),
		sendOutreachCmd(a),
		followUpCmd(a),
		advanceCmd(a),
		noteCmd(a),
		respondCmd(a),
		listCmd(a),
		showCmd(a),
		dueCmd(a),
		staleCmd(a),
		digestCmd(a),
		exportCmd(a),
		scoreFitCmd(a),
		prepCmd(a),
		tailorCmd(a),
		draftCmd(a),
		thankYouCmd(a),
		coverLetterCmd(a),
		migrateCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context, out, errOut io.Writer) error {
	a.out = out

	cfg, err := config.LoadConfig(a.cfgPath)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	a.cfg = cfg

	a.logger = logging.NewWithWriter(errOut, cfg.Log.Level, cfg.Log.Format)
	ai.SetLogger(a.logger)
	ollama.SetLogger(a.logger)
	claude.SetLogger(a.logger)

	a.clock = calendar.System
	if a.nowFlag != "" {
		t, err := calendar.ParseTime(a.nowFlag)
		if err != nil {
			return usagef("--now: %v", err)
		}
		a.clock = calendar.Fixed(t)
	}

	d, err := db.Open(ctx, cfg.Database.Path, a.logger)
	if err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrStore, err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		d.Close()
		return fmt.Errorf("%w: migrate: %w", pipeline.ErrStore, err)
	}
	a.db = d
	a.repo = sqlite.New(d, a.logger)
	a.engine = pipeline.New(a.repo, pipeline.WithLogger(a.logger))
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *app) now() time.Time { return a.clock.Now() }

// aiEngine builds the text-generation engine on demand; commands that do not
// need it never touch the network.
func (a *app) aiEngine(ctx context.Context) (*ai.Engine, func() error, error) {
	gen, closeFn, err := ai.NewGenerator(a.cfg)
	if err != nil {
		return nil, closeFn, err
	}
	e, err := ai.NewEngine(ctx, gen, a.repo, ai.EngineConfig(a.cfg))
	if err != nil {
		closeFn()
		return nil, func() error { return nil }, err
	}
	return e, closeFn, nil
}

// emit prints v as JSON with --json, otherwise through the table renderer.
func (a *app) emit(v any, table func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table(a.out)
	return nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, usagef("%s id %q is not a positive integer", what, s)
	}
	return id, nil
}

// errorKind names the failure class printed before the message.
func errorKind(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return "UsageError"
	case errors.Is(err, errConfig), errors.Is(err, ai.ErrDisabled):
		return "ConfigError"
	case errors.Is(err, ai.ErrMissingInput):
		return "MissingInputError"
	case errors.Is(err, ai.ErrGeneration), errors.Is(err, ai.ErrInvalidResponse):
		return "GenerationError"
	}
	return pipeline.Kind(err)
}
