package download

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
)

func newTestManager(waits *[]time.Duration) *Manager {
	m := NewManager(nil, metrics.New())
	m.sleep = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return m
}

func TestDownload_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	payload := []byte("PK\x03\x04 fake xlsx payload")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != SpreadsheetAccept {
			t.Errorf("Accept header = %q", r.Header.Get("Accept"))
		}
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	var waits []time.Duration
	m := newTestManager(&waits)

	opts := DefaultOptions()
	opts.MaxRetries = 3

	data, stats, err := m.Download(context.Background(), srv.URL, opts)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("body = %q", data)
	}
	if stats.Attempts != 4 || atomic.LoadInt32(&calls) != 4 {
		t.Errorf("attempts = %d, calls = %d, want 4", stats.Attempts, calls)
	}
	if stats.Bytes != int64(len(payload)) {
		t.Errorf("stats.Bytes = %d, want %d", stats.Bytes, len(payload))
	}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestDownload_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var waits []time.Duration
	m := newTestManager(&waits)
	opts := DefaultOptions()
	opts.MaxRetries = 2

	_, stats, err := m.Download(context.Background(), srv.URL, opts)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 || stats.Attempts != 3 {
		t.Errorf("calls = %d, attempts = %d, want 3", calls, stats.Attempts)
	}
}

func TestDownload_AttemptTimeoutIsRetried(t *testing.T) {
	var calls int32
	payload := []byte("PK\x03\x04 slow then fast")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
				return
			}
		}
		w.Write(payload)
	}))
	defer srv.Close()

	var waits []time.Duration
	m := newTestManager(&waits)
	opts := DefaultOptions()
	opts.Timeout = 50 * time.Millisecond
	opts.MaxRetries = 3

	data, stats, err := m.Download(context.Background(), srv.URL, opts)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != string(payload) {
		t.Errorf("body = %q", data)
	}
	if stats.Attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", stats.Attempts, calls)
	}
	if len(waits) != 2 {
		t.Errorf("waits = %v, want 2 backoff sleeps", waits)
	}
}

func TestDownload_AttemptTimeoutExhaustsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	var waits []time.Duration
	m := newTestManager(&waits)
	opts := DefaultOptions()
	opts.Timeout = 30 * time.Millisecond
	opts.MaxRetries = 1

	_, stats, err := m.Download(context.Background(), srv.URL, opts)
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error %v does not wrap context.DeadlineExceeded", err)
	}
	if stats.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", stats.Attempts)
	}
}

func TestDownload_AuthErrorNotRetried(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(code)
		}))

		var waits []time.Duration
		m := newTestManager(&waits)

		_, _, err := m.Download(context.Background(), srv.URL, DefaultOptions())
		srv.Close()

		var authErr *domain.AuthError
		if !errors.As(err, &authErr) || authErr.StatusCode != code {
			t.Errorf("HTTP %d: expected AuthError, got %v", code, err)
		}
		if calls != 1 || len(waits) != 0 {
			t.Errorf("HTTP %d: calls = %d, waits = %d, want 1 and 0", code, calls, len(waits))
		}
	}
}

func TestDownload_MalformedURL(t *testing.T) {
	var waits []time.Duration
	m := newTestManager(&waits)

	for _, u := range []string{"::not a url", "ftp://example.com/file.xlsx", "https://"} {
		_, _, err := m.Download(context.Background(), u, DefaultOptions())
		if !errors.Is(err, domain.ErrInvalidURL) {
			t.Errorf("Download(%q) error = %v, want ErrInvalidURL", u, err)
		}
	}
	if len(waits) != 0 {
		t.Errorf("malformed URLs must not consume retry budget, waits = %v", waits)
	}
}

func TestDownload_BasicAuthAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Tenant") != "hitss" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var waits []time.Duration
	m := newTestManager(&waits)
	opts := DefaultOptions()
	opts.Username = "svc"
	opts.Password = "secret"
	opts.Headers = map[string]string{"X-Tenant": "hitss"}

	data, _, err := m.Download(context.Background(), srv.URL, opts)
	if err != nil || string(data) != "ok" {
		t.Fatalf("Download() = %q, %v", data, err)
	}
}

func TestDownload_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, nil)
	m.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, _, err := m.Download(ctx, srv.URL, DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	def := DefaultOptions()
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"all zero", Options{}, def},
		{
			name: "timeout kept, rest defaulted",
			in:   Options{Timeout: time.Second},
			want: Options{Timeout: time.Second, MaxRetries: def.MaxRetries, BackoffBase: def.BackoffBase, BackoffCap: def.BackoffCap},
		},
		{
			name: "retries and backoff kept without timeout",
			in:   Options{MaxRetries: 5, BackoffBase: time.Millisecond, BackoffCap: time.Second},
			want: Options{Timeout: def.Timeout, MaxRetries: 5, BackoffBase: time.Millisecond, BackoffCap: time.Second},
		},
		{
			name: "negative retries kept",
			in:   Options{MaxRetries: -1},
			want: Options{Timeout: def.Timeout, MaxRetries: -1, BackoffBase: def.BackoffBase, BackoffCap: def.BackoffCap},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.WithDefaults()
			if got.Timeout != tt.want.Timeout || got.MaxRetries != tt.want.MaxRetries ||
				got.BackoffBase != tt.want.BackoffBase || got.BackoffCap != tt.want.BackoffCap {
				t.Errorf("WithDefaults() = %+v, want %+v", got, tt.want)
			}
		})
	}

	auth := Options{Username: "u", Password: "p", Headers: map[string]string{"X": "1"}}.WithDefaults()
	if auth.Username != "u" || auth.Password != "p" || auth.Headers["X"] != "1" {
		t.Errorf("WithDefaults() dropped credentials or headers: %+v", auth)
	}
}
