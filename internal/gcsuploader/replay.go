package gcsuploader

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/logger"
)

// Downloader mirrors pipeline.Downloader so a replay can stand in for the HTTP manager.
type Downloader interface {
	Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error)
}

// ReplayDownloader serves gs:// URIs from object storage and hands everything else to Next.
// It lets a previously staged artifact be ingested again without reaching the source system.
type ReplayDownloader struct {
	Stager Stager
	Next   Downloader
}

func (r *ReplayDownloader) Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
	if !strings.HasPrefix(rawURL, "gs://") {
		if r.Next == nil {
			return nil, download.TransferStats{}, fmt.Errorf("ReplayDownloader: no downloader for %s", rawURL)
		}
		return r.Next.Download(ctx, rawURL, opts)
	}

	start := time.Now()
	data, err := r.Stager.Fetch(ctx, rawURL)
	stats := download.TransferStats{Attempts: 1, ElapsedSeconds: time.Since(start).Seconds()}
	if err != nil {
		return nil, stats, fmt.Errorf("ReplayDownloader: %w", err)
	}
	stats.Bytes = int64(len(data))

	log := logger.FromContext(ctx)
	log.Info().
		Str("file", ExtractFilenameFromGCSURI(rawURL)).
		Int64("bytes", stats.Bytes).
		Msg("Replaying staged artifact")
	return data, stats, nil
}
