package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/app"
	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/jobs"
	"github.com/dvloznov/dre-pipeline/internal/jobs/inmemory"
	"github.com/dvloznov/dre-pipeline/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("DRE_CONFIG"), "Path to YAML config (or set DRE_CONFIG env)")
		interval   = flag.Duration("interval", 24*time.Hour, "Time between scheduled imports")
		runNow     = flag.Bool("run-now", false, "Run one import immediately on start")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer a.Close()

	if cfg.Metrics.Enabled {
		go func() {
			log.Info().Str("address", cfg.Metrics.Address).Msg("Serving metrics")
			if err := a.Metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	// A single worker keeps scheduled runs from overlapping.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(1, 1, jobStore)

	handler := func(ctx context.Context, job jobs.Job) error {
		importJob, ok := job.(*jobs.ImportJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}
		result, err := a.Runner.Run(ctx, importJob.Trigger())
		if err != nil {
			return err
		}
		importJob.Result = result

		log.Info().
			Str("execution_id", result.ExecutionID).
			Str("status", string(result.Status)).
			Int("imported", result.RecordsImported).
			Int("failed", result.RecordsFailed).
			Int("skipped", result.RecordsSkipped).
			Msg("Scheduled import finished")
		if !result.Success {
			return fmt.Errorf("execution %s %s: %s", result.ExecutionID, result.Status, result.Error)
		}
		return nil
	}

	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	go schedule(ctx, *interval, *runNow, func(ctx context.Context) error {
		return jobQueue.PublishImport(ctx, &jobs.ImportJob{Kind: domain.TriggerScheduled})
	})

	log.Info().Dur("interval", *interval).Bool("run_now", *runNow).Msg("Scheduler started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Scheduler exited")
}

// schedule calls enqueue every interval until ctx is done.
// A tick that finds the previous run still queued is dropped rather than stacked.
func schedule(ctx context.Context, interval time.Duration, runNow bool, enqueue func(context.Context) error) {
	log := logger.FromContext(ctx)
	fire := func() {
		enqueueCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := enqueue(enqueueCtx); err != nil {
			log.Warn().Err(err).Msg("Skipping scheduled import")
		}
	}

	if runNow {
		fire()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fire()
		}
	}
}
