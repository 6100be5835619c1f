package pipeline

import (
	"context"

	"github.com/dvloznov/dre-pipeline/internal/download"
)

// Downloader fetches the source artifact.
// This interface enables mocking and testing of the download phase.
type Downloader interface {
	Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error)
}

// Notifier is told about every run that reached the execution log, after
// the record has been finished or failed. Errors are logged, never returned to the caller.
type Notifier interface {
	Notify(ctx context.Context, res *Result) error
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, res *Result) error { return nil }
