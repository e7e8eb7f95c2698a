package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	dbfs "github.com/garnizeh/jobpipe/db"
	"github.com/garnizeh/jobpipe/api"
	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/config"
	"github.com/garnizeh/jobpipe/internal/db"
	"github.com/garnizeh/jobpipe/internal/jobs"
	"github.com/garnizeh/jobpipe/internal/logging"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	sqlite "github.com/garnizeh/jobpipe/internal/repository/sqlite"
	"github.com/garnizeh/jobpipe/pkg/claude"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	api.SetLogger(logger)
	ai.SetLogger(logger)
	ollama.SetLogger(logger)
	claude.SetLogger(logger)

	if err := serve(cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting jobpipe server", "version", version, "build_time", buildTime, "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := db.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("close db", "err", err)
		}
	}()
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		return err
	}

	repo := sqlite.New(d, logger)
	metrics := api.NewMetrics()
	engine := pipeline.New(repo, pipeline.WithLogger(logger), pipeline.WithObserver(metrics.ObserveMutation))
	jobRepo := jobs.NewRepository(d)
	resume := ai.ResumeFile(cfg.AI.ResumePath)

	deps := api.Deps{
		Pipeline: engine,
		Jobs:     jobRepo,
		Metrics:  metrics,
		Clock:    calendar.System,
		Ping:     func(ctx context.Context) error { return d.GetConn().PingContext(ctx) },
		Reports: api.ReportsConfig{
			Stale:         cfg.StalePolicy(),
			PriorityLimit: cfg.Pipeline.PriorityLimit,
			PersistDigest: cfg.Pipeline.PersistDigest,
		},
		AIOptions:      api.AIConfig{Resume: resume, MaxAttempts: cfg.Workers.MaxAttempts},
		AutoWarm:       cfg.Pipeline.AutoWarm,
		RequestTimeout: cfg.Server.RequestTimeout,
		Version:        version,
		BuildTime:      buildTime,
	}

	gen, closeGen, err := ai.NewGenerator(cfg)
	switch {
	case errors.Is(err, ai.ErrDisabled):
		logger.Info("text generation disabled")
	case err != nil:
		return err
	default:
		defer closeGen()
		eng, err := ai.NewEngine(ctx, gen, repo, ai.EngineConfig(cfg))
		if err != nil {
			return err
		}
		deps.AI = eng

		pool := jobs.NewWorkerPool(jobRepo, map[string]jobs.Handler{
			jobs.TypeScoreFit: jobs.ScoreFitHandler(eng, engine, resume, calendar.System),
		}, logger, cfg.Workers.Count, jobs.WithPollInterval(cfg.Workers.PollInterval))
		pool.Start(ctx)
		defer pool.Stop()
		logger.Info("scoring workers started", "provider", cfg.AI.Provider, "workers", cfg.Workers.Count)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
