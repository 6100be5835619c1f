// Package app wires the pipeline's collaborators from configuration.
// The API server, the scheduler and the CLI all start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/gcsuploader"
	"github.com/dvloznov/dre-pipeline/internal/infra"
	"github.com/dvloznov/dre-pipeline/internal/loader"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/mapping"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/notify"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/dvloznov/dre-pipeline/internal/retry"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/rs/zerolog"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config  *config.Config
	Log     zerolog.Logger
	Backend store.Backend
	Metrics *metrics.Metrics
	Stager  gcsuploader.Stager
	Runner  *pipeline.Runner

	closers []func() error
}

// New opens the backend and the staging bucket and builds a Runner.
// Close releases whatever was opened, also when New fails halfway.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}
	ctx = logger.WithContext(ctx, log)

	backend, err := infra.Open(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.Backend = backend
	a.closers = append(a.closers, backend.Close)

	if cfg.Staging.Enabled {
		stager, err := gcsuploader.NewGCSStager(ctx, cfg.Staging.Bucket)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Stager = stager
		a.closers = append(a.closers, stager.Close)
	} else {
		log.Warn().Msg("No staging bucket configured - raw artifacts will not be kept")
		a.Stager = gcsuploader.NopStager{}
	}

	registry, err := mapping.NewRegistry(cfg.Profiles)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}

	deps := pipeline.Deps{
		Backend: backend,
		Downloader: &gcsuploader.ReplayDownloader{
			Stager: a.Stager,
			Next:   download.NewManager(nil, a.Metrics),
		},
		Secrets:  SecretsFor(cfg),
		Stager:   a.Stager,
		Registry: registry,
		Metrics:  a.Metrics,
		Notifier: NotifierFor(cfg),
	}
	runner, err := pipeline.NewRunner(deps, PipelineOptions(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.Runner = runner

	log.Info().
		Str("backend", cfg.Backend.Type).
		Str("profile", cfg.Mapping.Profile).
		Bool("staging", cfg.Staging.Enabled).
		Bool("notify", cfg.Notify.WebhookURL != "").
		Msg("Pipeline dependencies ready")
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// SecretsFor layers a configured download URL over the environment.
func SecretsFor(cfg *config.Config) secrets.Provider {
	chain := secrets.ChainProvider{}
	if cfg.Download.URL != "" {
		chain = append(chain, secrets.MapProvider{secrets.DownloadURL: cfg.Download.URL})
	}
	return append(chain, secrets.EnvProvider{})
}

// NotifierFor returns the completion webhook, or a no-op when none is configured.
func NotifierFor(cfg *config.Config) pipeline.Notifier {
	if cfg.Notify.WebhookURL == "" {
		return pipeline.NopNotifier{}
	}
	w := notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Token)
	w.OnlyFailures = cfg.Notify.OnlyFailures
	w.Timeout = cfg.Notify.Timeout
	return w
}

// PipelineOptions translates configuration into run options.
func PipelineOptions(cfg *config.Config) pipeline.Options {
	loaderRetry := retry.DefaultPolicy()
	loaderRetry.MaxRetries = cfg.Loader.MaxRetries
	loaderRetry.BaseDelay = time.Second
	loaderRetry.MaxDelay = 10 * time.Second

	return pipeline.Options{
		Profile:      cfg.Mapping.Profile,
		StrictPeriod: cfg.Mapping.StrictPeriod,
		Download: download.Options{
			Timeout:     cfg.Download.Timeout,
			MaxRetries:  cfg.Download.MaxRetries,
			BackoffBase: cfg.Download.BackoffBase,
			BackoffCap:  cfg.Download.BackoffCap,
		},
		Loader: loader.Options{
			ChunkSize: cfg.Loader.ChunkSize,
			MaxErrors: cfg.Loader.MaxErrors,
			Retry:     loaderRetry,
		},
	}
}
