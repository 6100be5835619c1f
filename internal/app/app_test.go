package app

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/config"
	"github.com/dvloznov/dre-pipeline/internal/gcsuploader"
	"github.com/dvloznov/dre-pipeline/internal/infra/memory"
	"github.com/dvloznov/dre-pipeline/internal/notify"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"github.com/rs/zerolog"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Backend.Type = config.BackendMemory
	return cfg
}

func TestNew_Memory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Backend.(*memory.Backend); !ok {
		t.Errorf("expected memory backend, got %T", a.Backend)
	}
	if _, ok := a.Stager.(gcsuploader.NopStager); !ok {
		t.Errorf("expected NopStager when staging is disabled, got %T", a.Stager)
	}
	if a.Runner == nil || a.Metrics == nil {
		t.Error("expected runner and metrics")
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

func TestNew_UnknownProfile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mapping.Profile = "nope"
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestSecretsFor(t *testing.T) {
	t.Setenv(secrets.DownloadURL, "https://env.example.com/dre.xlsx")

	cfg := memoryConfig()
	if v, _ := SecretsFor(cfg).GetSecret(secrets.DownloadURL); v != "https://env.example.com/dre.xlsx" {
		t.Errorf("expected env URL, got %q", v)
	}

	cfg.Download.URL = "https://cfg.example.com/dre.xlsx"
	if v, _ := SecretsFor(cfg).GetSecret(secrets.DownloadURL); v != "https://cfg.example.com/dre.xlsx" {
		t.Errorf("expected configured URL to win, got %q", v)
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := memoryConfig()
	cfg.Loader.ChunkSize = 250
	cfg.Loader.MaxRetries = 4
	cfg.Download.MaxRetries = 5
	cfg.Mapping.StrictPeriod = true

	opts := PipelineOptions(cfg)
	if opts.Loader.ChunkSize != 250 || opts.Loader.Retry.MaxRetries != 4 || opts.Loader.Retry.BaseDelay != time.Second {
		t.Errorf("unexpected loader options %+v", opts.Loader)
	}
	if opts.Download.MaxRetries != 5 || opts.Download.Timeout != 7*time.Minute {
		t.Errorf("unexpected download options %+v", opts.Download)
	}
	if !opts.StrictPeriod || opts.Profile != "dre" {
		t.Errorf("unexpected mapping options %+v", opts)
	}
}

func TestNotifierFor(t *testing.T) {
	cfg := memoryConfig()
	if _, ok := NotifierFor(cfg).(pipeline.NopNotifier); !ok {
		t.Errorf("expected NopNotifier without a webhook, got %T", NotifierFor(cfg))
	}

	cfg.Notify.WebhookURL = "https://hooks.example.com/dre"
	cfg.Notify.Token = "hook-token"
	cfg.Notify.OnlyFailures = true
	cfg.Notify.Timeout = 3 * time.Second
	w, ok := NotifierFor(cfg).(*notify.Webhook)
	if !ok {
		t.Fatalf("expected *notify.Webhook, got %T", NotifierFor(cfg))
	}
	if w.URL != cfg.Notify.WebhookURL || w.Token != "hook-token" || !w.OnlyFailures || w.Timeout != 3*time.Second {
		t.Errorf("unexpected webhook %+v", w)
	}
}

func TestNew_WiresNotifier(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify.WebhookURL = "https://hooks.example.com/dre"
	a, err := New(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, ok := a.Runner.Deps.Notifier.(*notify.Webhook); !ok {
		t.Errorf("Runner notifier = %T, want *notify.Webhook", a.Runner.Deps.Notifier)
	}
}
