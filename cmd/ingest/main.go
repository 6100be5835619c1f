package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/app"
	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	dryRun     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	root := newRunCmd(&g)
	root.SilenceErrors = true
	root.PersistentFlags().StringVar(&g.configPath, "config", os.Getenv("DRE_CONFIG"), "Path to YAML config (or set DRE_CONFIG env)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level")
	root.PersistentFlags().BoolVar(&g.dryRun, "dry-run", false, "Use the in-memory backend and skip staging and notifications")

	root.AddCommand(
		newStageCmd(&g),
		newExecutionsCmd(&g),
	)
	return root
}

// load reads the configuration and applies the global overrides.
func (g *globalOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil && g.dryRun && g.configPath == "" {
		// A dry run needs no backend credentials.
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.dryRun {
		cfg.Backend.Type = config.BackendMemory
		cfg.Staging.Enabled = false
		cfg.Notify.WebhookURL = ""
	}
	// stdout is reserved for command output.
	var w io.Writer = os.Stderr
	if !strings.EqualFold(cfg.Log.Format, "json") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log := logger.NewWithWriter(w).Level(logger.ParseLevel(cfg.Log.Level))
	return cfg, log, nil
}

// open builds the application from the global options.
func (g *globalOptions) open(ctx context.Context) (*app.App, context.Context, error) {
	cfg, log, err := g.load()
	if err != nil {
		return nil, ctx, err
	}
	ctx = logger.WithContext(ctx, log)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return nil, ctx, err
	}
	return a, ctx, nil
}
