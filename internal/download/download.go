// Package download fetches the source spreadsheet over HTTP with bounded retries.
package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/retry"
)

// SpreadsheetAccept is sent as the Accept header.
const SpreadsheetAccept = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,application/vnd.ms-excel,*/*"

const userAgent = "DRE-Automation/1.0"

// Options configures one download.
type Options struct {
	Timeout     time.Duration // per attempt
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Headers     map[string]string
	Username    string // basic auth, optional
	Password    string
}

// DefaultOptions returns a 7 minute timeout, 3 retries and 5s..60s backoff.
func DefaultOptions() Options {
	return Options{
		Timeout:     7 * time.Minute,
		MaxRetries:  3,
		BackoffBase: 5 * time.Second,
		BackoffCap:  60 * time.Second,
	}
}

// WithDefaults fills each zero field from DefaultOptions. A negative
// MaxRetries is kept and means a single attempt.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Timeout == 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.BackoffBase == 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffCap == 0 {
		o.BackoffCap = d.BackoffCap
	}
	return o
}

// TransferStats describes a download, successful or not.
type TransferStats struct {
	Bytes          int64   `json:"bytes"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	ThroughputMbps float64 `json:"throughput_mbps"`
	Attempts       int     `json:"attempts"`
}

// Manager performs downloads. It has no persistence side effects.
type Manager struct {
	client  *http.Client
	metrics *metrics.Metrics

	// sleep overrides the backoff wait in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewManager creates a Manager. A nil client uses a fresh http.Client; m may be nil.
func NewManager(client *http.Client, m *metrics.Metrics) *Manager {
	if client == nil {
		client = &http.Client{}
	}
	return &Manager{client: client, metrics: m}
}

// Download retrieves rawURL, retrying transient failures with exponential backoff.
func (m *Manager) Download(ctx context.Context, rawURL string, opts Options) ([]byte, TransferStats, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	stats := TransferStats{}

	if err := validateURL(rawURL); err != nil {
		m.metrics.RecordDownloadAttempt("fatal")
		return nil, finish(stats, start), err
	}

	policy := retry.Policy{
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.BackoffBase,
		MaxDelay:   opts.BackoffCap,
		Sleep:      m.sleep,
	}

	var body []byte
	attempts, err := policy.Execute(ctx, "download", func(ctx context.Context, attempt int) error {
		data, n, err := m.attempt(ctx, rawURL, opts)
		stats.Bytes += n
		switch {
		case err == nil:
			m.metrics.RecordDownloadAttempt("success")
		case domain.IsTransient(err):
			m.metrics.RecordDownloadAttempt("transient")
		default:
			m.metrics.RecordDownloadAttempt("fatal")
		}
		if err != nil {
			return err
		}
		body = data
		stats.Bytes = n
		return nil
	})
	stats.Attempts = attempts
	stats = finish(stats, start)
	m.metrics.RecordDownload(stats.Bytes, time.Since(start))

	if err != nil {
		log.Error().
			Err(err).
			Int("attempts", stats.Attempts).
			Float64("elapsed_seconds", stats.ElapsedSeconds).
			Msg("Download failed")
		return nil, stats, fmt.Errorf("Download: %w", err)
	}

	log.Info().
		Int64("bytes", stats.Bytes).
		Int("attempts", stats.Attempts).
		Float64("elapsed_seconds", stats.ElapsedSeconds).
		Float64("throughput_mbps", stats.ThroughputMbps).
		Msg("Download completed")

	return body, stats, nil
}

// attempt performs one GET bounded by opts.Timeout. It returns the bytes read even on failure.
func (m *Manager) attempt(ctx context.Context, rawURL string, opts Options) ([]byte, int64, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", SpreadsheetAccept)
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.Username != "" {
		req.SetBasicAuth(opts.Username, opts.Password)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, 0, &domain.TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, 0, &domain.AuthError{StatusCode: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		n, _ := io.Copy(io.Discard, resp.Body)
		return nil, n, &domain.TransientNetworkError{StatusCode: resp.StatusCode}
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	n, err := io.Copy(&buf, resp.Body)
	if err != nil {
		return nil, n, &domain.TransientNetworkError{Err: fmt.Errorf("reading body: %w", err)}
	}
	if n == 0 {
		return nil, 0, &domain.TransientNetworkError{Err: errors.New("empty response body")}
	}
	return buf.Bytes(), n, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", domain.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrInvalidURL)
	}
	return nil
}

func finish(stats TransferStats, start time.Time) TransferStats {
	elapsed := time.Since(start).Seconds()
	stats.ElapsedSeconds = elapsed
	if elapsed > 0 {
		stats.ThroughputMbps = float64(stats.Bytes) * 8 / 1e6 / elapsed
	}
	return stats
}
