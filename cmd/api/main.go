package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/app"
	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/jobs"
	"github.com/dvloznov/dre-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
)

// apiTokenSecret holds the bearer token required on /api routes. Unset disables auth.
const apiTokenSecret = "DRE_API_TOKEN"

func main() {
	var (
		configPath = flag.String("config", os.Getenv("DRE_CONFIG"), "Path to YAML config (or set DRE_CONFIG env)")
		port       = flag.String("port", "", "HTTP server port (overrides server.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer a.Close()

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Server.QueueSize, cfg.Server.Workers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := jobQueue.Start(workerCtx, importHandler(a)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}
	log.Info().Int("workers", cfg.Server.Workers).Msg("Job workers started")

	token, _ := secrets.EnvProvider{}.GetSecret(apiTokenSecret)
	if token == "" {
		log.Warn().Msg("No API token configured - /api routes are unauthenticated")
	}

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     newRouter(a, jobQueue, jobStore, token, log),
		ReadTimeout: 15 * time.Second,
		// Synchronous imports hold the connection for the whole run.
		WriteTimeout: cfg.Download.Timeout*time.Duration(cfg.Download.MaxRetries+1) + 5*time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// In-flight runs get the shutdown window to finish before their context is cancelled.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}

// importHandler runs a queued import through the shared runner.
func importHandler(a *app.App) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		importJob, ok := job.(*jobs.ImportJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		result, err := a.Runner.Run(ctx, importJob.Trigger())
		if err != nil {
			return err
		}
		importJob.Result = result
		if !result.Success {
			return fmt.Errorf("execution %s %s: %s", result.ExecutionID, result.Status, result.Error)
		}
		return nil
	}
}
