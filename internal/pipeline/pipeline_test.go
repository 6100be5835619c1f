package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/infra/memory"
	"github.com/dvloznov/dre-pipeline/internal/loader"
	"github.com/dvloznov/dre-pipeline/internal/retry"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/xuri/excelize/v2"
)

// MockDownloader is a hand-written Downloader for testing.
type MockDownloader struct {
	DownloadFunc func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error)
	gotURL       string
	gotOpts      download.Options
}

func (m *MockDownloader) Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
	m.gotURL = rawURL
	m.gotOpts = opts
	return m.DownloadFunc(ctx, rawURL, opts)
}

// MockStager records staged files.
type MockStager struct {
	StageFunc func(ctx context.Context, fileName string, data []byte) (string, error)
	staged    []string
}

func (m *MockStager) Stage(ctx context.Context, fileName string, data []byte) (string, error) {
	m.staged = append(m.staged, fileName)
	if m.StageFunc != nil {
		return m.StageFunc(ctx, fileName, data)
	}
	return "gs://bucket/uploads/" + fileName, nil
}

func (m *MockStager) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

var fixedNow = time.Date(2024, 4, 10, 12, 0, 0, 0, time.UTC)

func buildWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}
	return buf.Bytes()
}

func dreWorkbook(t *testing.T) []byte {
	return buildWorkbook(t, [][]interface{}{
		{"Projeto", "Cliente", "Conta Resumo", "Denominação Conta", "Período", "Lançamento", "Natureza"},
		{"P001 - Alpha", "ACME", "3.1.01", "Receita Bruta", "03/2024", "1.500,00", "RECEITA"},
		{"P002 - Beta", "Globex", "4.1.01", "Custo Pessoal", "03/2024", "-800,00", "CUSTO"},
		{"P003 - Gamma", "Initech", "3.1.01", "Receita Bruta", "03/2024", "", "RECEITA"},
	})
}

func okDownloader(data []byte) *MockDownloader {
	return &MockDownloader{DownloadFunc: func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
		return data, download.TransferStats{Bytes: int64(len(data)), Attempts: 1}, nil
	}}
}

func testSecrets() secrets.Provider {
	return secrets.MapProvider{
		secrets.DownloadURL: "https://example.com/dre.xlsx",
		secrets.Username:    "svc",
		secrets.Password:    "s3cret",
	}
}

func newTestOrchestrator(t *testing.T, backend *memory.Backend, dl Downloader, stager *MockStager) *Orchestrator {
	t.Helper()
	p := retry.DefaultPolicy()
	p.MaxRetries = 0
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	deps := Deps{
		Backend:    backend,
		Downloader: dl,
		Secrets:    testSecrets(),
		Now:        func() time.Time { return fixedNow },
	}
	if stager != nil {
		deps.Stager = stager
	}
	o, err := NewOrchestrator(deps, Options{Loader: loader.Options{Retry: p}})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestRun_Succeeded(t *testing.T) {
	backend := memory.NewBackend()
	dl := okDownloader(dreWorkbook(t))
	stager := &MockStager{}
	o := newTestOrchestrator(t, backend, dl, stager)

	res, err := o.Run(context.Background(), Trigger{ExecutionID: "exec-1", Kind: domain.TriggerScheduled})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.Success || res.Status != domain.StatusSucceeded {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.RecordsProcessed != 3 || res.RecordsImported != 2 || res.RecordsSkipped != 1 || res.RecordsFailed != 0 {
		t.Errorf("unexpected counters %+v", res)
	}
	wantName := "dre_hitss_1712750400000.xlsx"
	if res.FileName != wantName || res.StagedURI != "gs://bucket/uploads/"+wantName {
		t.Errorf("unexpected file name %q / %q", res.FileName, res.StagedURI)
	}
	if dl.gotURL != "https://example.com/dre.xlsx" || dl.gotOpts.Username != "svc" || dl.gotOpts.Password != "s3cret" {
		t.Errorf("downloader got url=%q opts=%+v", dl.gotURL, dl.gotOpts)
	}

	rec, err := backend.GetExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if rec.Status != domain.StatusSucceeded || rec.Phase != domain.PhaseDone || rec.Trigger != domain.TriggerScheduled {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.FileName != wantName || rec.RecordsImported != 2 {
		t.Errorf("unexpected record %+v", rec)
	}

	facts := backend.Facts("exec-1")
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].Amount.String() != "1500" || facts[0].Nature != domain.NatureRevenue {
		t.Errorf("unexpected first fact %+v", facts[0])
	}

	logs, _ := backend.ListExecutionLogs(context.Background(), "exec-1")
	completed := map[string]bool{}
	for _, l := range logs {
		if l.Status == domain.LogCompleted {
			completed[l.Step] = true
		}
	}
	for _, step := range []string{StepInit, StepDownload, StepStage, StepParse, StepMap, StepLoad, StepFinish} {
		if !completed[step] {
			t.Errorf("expected completed log for step %s", step)
		}
	}
}

func TestRun_Partial(t *testing.T) {
	backend := memory.NewBackend()
	backend.FactHook = func(rows []domain.FactRow) error {
		for _, r := range rows {
			if r.RowNumber == 3 {
				return errors.New("check constraint violated")
			}
		}
		return nil
	}
	o := newTestOrchestrator(t, backend, okDownloader(dreWorkbook(t)), nil)

	res, err := o.Run(context.Background(), Trigger{ExecutionID: "exec-2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Status != domain.StatusPartial || !res.Success {
		t.Errorf("expected PARTIAL, got %+v", res)
	}
	if res.RecordsImported != 1 || res.RecordsFailed != 1 {
		t.Errorf("unexpected counters %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "row 3") {
		t.Errorf("unexpected errors %v", res.Errors)
	}
}

func TestRun_AllRecordsFail(t *testing.T) {
	backend := memory.NewBackend()
	backend.FactHook = func(rows []domain.FactRow) error { return errors.New("table missing") }
	o := newTestOrchestrator(t, backend, okDownloader(dreWorkbook(t)), nil)

	res, _ := o.Run(context.Background(), Trigger{ExecutionID: "exec-3"})

	if res.Status != domain.StatusFailed || res.Success {
		t.Errorf("expected FAILED, got %+v", res)
	}
	rec, _ := backend.GetExecution(context.Background(), "exec-3")
	if rec.Phase != domain.PhaseFailed || rec.ErrorMessage == "" {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRun_DownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"auth", &domain.AuthError{StatusCode: 401, Reason: "unauthorized"}, "auth error"},
		{"invalid url", domain.ErrInvalidURL, "invalid download url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := memory.NewBackend()
			dl := &MockDownloader{DownloadFunc: func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
				return nil, download.TransferStats{Attempts: 1}, tt.err
			}}
			o := newTestOrchestrator(t, backend, dl, nil)

			res, err := o.Run(context.Background(), Trigger{ExecutionID: "exec"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Success || res.Status != domain.StatusFailed || !strings.Contains(res.Error, tt.wantMsg) {
				t.Errorf("unexpected result %+v", res)
			}

			rec, _ := backend.GetExecution(context.Background(), "exec")
			if rec.Status != domain.StatusFailed || !strings.Contains(rec.ErrorMessage, tt.wantMsg) {
				t.Errorf("unexpected record %+v", rec)
			}
			if strings.Contains(rec.ErrorMessage, "s3cret") {
				t.Error("secret leaked into error message")
			}
		})
	}
}

func TestRun_MissingURLSecret(t *testing.T) {
	backend := memory.NewBackend()
	o, err := NewOrchestrator(Deps{
		Backend:    backend,
		Downloader: okDownloader(nil),
		Secrets:    secrets.MapProvider{},
	}, Options{})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	res, _ := o.Run(context.Background(), Trigger{ExecutionID: "exec"})
	if res.Success || !strings.Contains(res.Error, secrets.DownloadURL) {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_TriggerURLOverridesSecret(t *testing.T) {
	dl := okDownloader(dreWorkbook(t))
	o := newTestOrchestrator(t, memory.NewBackend(), dl, nil)

	_, _ = o.Run(context.Background(), Trigger{SourceURL: "https://other.example.com/x.xlsx"})
	if dl.gotURL != "https://other.example.com/x.xlsx" {
		t.Errorf("expected trigger URL, got %q", dl.gotURL)
	}
}

func TestRun_MalformedFile(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{"not a workbook", func(t *testing.T) []byte { return []byte("<html>login</html>") }},
		{"missing required columns", func(t *testing.T) []byte {
			return buildWorkbook(t, [][]interface{}{
				{"Projeto", "Cliente", "Conta Resumo"},
				{"P001", "ACME", "3.1.01"},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := memory.NewBackend()
			o := newTestOrchestrator(t, backend, okDownloader(tt.data(t)), nil)

			res, _ := o.Run(context.Background(), Trigger{ExecutionID: "exec"})
			if res.Success || !strings.Contains(res.Error, "malformed file") {
				t.Errorf("unexpected result %+v", res)
			}
			rec, _ := backend.GetExecution(context.Background(), "exec")
			if rec.Status != domain.StatusFailed {
				t.Errorf("expected FAILED, got %s", rec.Status)
			}
		})
	}
}

func TestRun_HeaderOnlyIsSucceeded(t *testing.T) {
	data := buildWorkbook(t, [][]interface{}{
		{"Projeto", "Conta Resumo", "Período", "Lançamento", "Natureza"},
	})
	o := newTestOrchestrator(t, memory.NewBackend(), okDownloader(data), nil)

	res, _ := o.Run(context.Background(), Trigger{})
	if !res.Success || res.Status != domain.StatusSucceeded || res.RecordsImported != 0 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_StagingFailureIsNotFatal(t *testing.T) {
	stager := &MockStager{StageFunc: func(ctx context.Context, fileName string, data []byte) (string, error) {
		return "", errors.New("bucket not found")
	}}
	o := newTestOrchestrator(t, memory.NewBackend(), okDownloader(dreWorkbook(t)), stager)

	res, _ := o.Run(context.Background(), Trigger{})
	if !res.Success || res.StagedURI != "" || res.FileName == "" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_Cancelled(t *testing.T) {
	backend := memory.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	dl := &MockDownloader{DownloadFunc: func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
		cancel()
		return nil, download.TransferStats{}, ctx.Err()
	}}
	o := newTestOrchestrator(t, backend, dl, nil)

	res, err := o.Run(ctx, Trigger{ExecutionID: "exec"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success || !strings.HasPrefix(res.Error, "cancelled:") {
		t.Errorf("unexpected result %+v", res)
	}

	rec, _ := backend.GetExecution(context.Background(), "exec")
	if rec.Status != domain.StatusFailed || !strings.HasPrefix(rec.ErrorMessage, "cancelled:") {
		t.Errorf("unexpected record %+v", rec)
	}
}

func TestRun_Twice(t *testing.T) {
	o := newTestOrchestrator(t, memory.NewBackend(), okDownloader(dreWorkbook(t)), nil)

	if _, err := o.Run(context.Background(), Trigger{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := o.Run(context.Background(), Trigger{}); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("expected ErrAlreadyRun, got %v", err)
	}
}

func TestRun_DuplicateExecutionID(t *testing.T) {
	backend := memory.NewBackend()
	data := dreWorkbook(t)

	first := newTestOrchestrator(t, backend, okDownloader(data), nil)
	if _, err := first.Run(context.Background(), Trigger{ExecutionID: "dup"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second := newTestOrchestrator(t, backend, okDownloader(data), nil)
	res, err := second.Run(context.Background(), Trigger{ExecutionID: "dup"})
	if err == nil || res != nil {
		t.Errorf("expected start failure, got res=%+v err=%v", res, err)
	}
	if n, _ := backend.CountFacts(context.Background(), "dup"); n != 2 {
		t.Errorf("expected 2 facts, got %d", n)
	}
}

func TestNewOrchestrator_Validation(t *testing.T) {
	if _, err := NewOrchestrator(Deps{}, Options{}); err == nil {
		t.Error("expected error without backend")
	}
	if _, err := NewOrchestrator(Deps{Backend: memory.NewBackend(), Downloader: okDownloader(nil)}, Options{Profile: "nope"}); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestRunner_RunsIndependentExecutions(t *testing.T) {
	backend := memory.NewBackend()
	data := dreWorkbook(t)
	runner, err := NewRunner(Deps{
		Backend:    backend,
		Downloader: okDownloader(data),
		Secrets:    testSecrets(),
		Now:        func() time.Time { return fixedNow },
	}, Options{})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	first, err := runner.Run(context.Background(), Trigger{Kind: domain.TriggerScheduled})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := runner.Run(context.Background(), Trigger{Kind: domain.TriggerManual})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.ExecutionID == second.ExecutionID {
		t.Error("each run should get its own execution id")
	}
	if !first.Success || !second.Success {
		t.Errorf("expected both runs to succeed: %+v %+v", first, second)
	}
	execs, _ := backend.ListExecutions(context.Background(), store.ExecutionFilter{})
	if len(execs) != 2 {
		t.Errorf("expected 2 execution records, got %d", len(execs))
	}
}

func TestNewRunner_Validation(t *testing.T) {
	if _, err := NewRunner(Deps{Backend: memory.NewBackend()}, Options{}); err == nil {
		t.Error("expected error without downloader")
	}
}

func TestRun_TextAmountsUseLocalizedParsing(t *testing.T) {
	backend := memory.NewBackend()
	data := buildWorkbook(t, [][]interface{}{
		{"Projeto", "Cliente", "Conta Resumo", "Denominação Conta", "Período", "Lançamento", "Natureza"},
		{"P001 - Alpha", "ACME", "3.1.01", "Receita Bruta", "03/2024", "1.500", "RECEITA"},
		{"P002 - Beta", "Globex", "4.1.01", "Custo Pessoal", "03/2024", 2.5, "CUSTO"},
	})
	o := newTestOrchestrator(t, backend, okDownloader(data), nil)

	res, err := o.Run(context.Background(), Trigger{ExecutionID: "text-amounts"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RecordsImported != 2 {
		t.Fatalf("unexpected counters %+v", res)
	}

	facts := backend.Facts("text-amounts")
	if got := facts[0].Amount.String(); got != "1500" {
		t.Errorf("text amount 1.500 stored as %s, want 1500", got)
	}
	if got := facts[1].Amount.String(); got != "2.5" {
		t.Errorf("numeric amount stored as %s, want 2.5", got)
	}
}

// MockNotifier records results and the execution status seen at notify time.
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, res *Result) error
	backend    *memory.Backend
	results    []*Result
	recorded   []domain.ExecutionStatus
	ctxErrs    []error
}

func (m *MockNotifier) Notify(ctx context.Context, res *Result) error {
	m.results = append(m.results, res)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	if rec, err := m.backend.GetExecution(context.Background(), res.ExecutionID); err == nil {
		m.recorded = append(m.recorded, rec.Status)
	}
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, res)
	}
	return nil
}

func newNotifiedOrchestrator(t *testing.T, backend *memory.Backend, dl Downloader, n Notifier) *Orchestrator {
	t.Helper()
	p := retry.DefaultPolicy()
	p.MaxRetries = 0
	o, err := NewOrchestrator(Deps{
		Backend:    backend,
		Downloader: dl,
		Secrets:    testSecrets(),
		Notifier:   n,
		Now:        func() time.Time { return fixedNow },
	}, Options{Loader: loader.Options{Retry: p}})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func TestRun_NotifiesAfterTerminalStatus(t *testing.T) {
	failing := &MockDownloader{DownloadFunc: func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
		return nil, download.TransferStats{Attempts: 1}, &domain.AuthError{StatusCode: 403, Reason: "forbidden"}
	}}

	tests := []struct {
		name        string
		dl          Downloader
		wantStatus  domain.ExecutionStatus
		wantSuccess bool
	}{
		{"succeeded", okDownloader(dreWorkbook(t)), domain.StatusSucceeded, true},
		{"failed", failing, domain.StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := memory.NewBackend()
			n := &MockNotifier{backend: backend}
			o := newNotifiedOrchestrator(t, backend, tt.dl, n)

			res, err := o.Run(context.Background(), Trigger{ExecutionID: "exec-n"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(n.results) != 1 {
				t.Fatalf("Notify called %d times, want 1", len(n.results))
			}
			got := n.results[0]
			if got != res {
				t.Error("notifier did not receive the returned result")
			}
			if got.Status != tt.wantStatus || got.Success != tt.wantSuccess {
				t.Errorf("notified status = %s success = %v", got.Status, got.Success)
			}
			if len(n.recorded) != 1 || n.recorded[0] != tt.wantStatus {
				t.Errorf("execution status at notify time = %v, want %s", n.recorded, tt.wantStatus)
			}
			if tt.wantSuccess && (got.FileName == "" || got.RecordsProcessed != 3) {
				t.Errorf("summary missing file name or counts: %+v", got)
			}
			if !tt.wantSuccess && got.Error == "" {
				t.Error("failed run notified without an error message")
			}
		})
	}
}

func TestRun_NotifierErrorDoesNotChangeResult(t *testing.T) {
	backend := memory.NewBackend()
	n := &MockNotifier{backend: backend, NotifyFunc: func(ctx context.Context, res *Result) error {
		return errors.New("webhook down")
	}}
	o := newNotifiedOrchestrator(t, backend, okDownloader(dreWorkbook(t)), n)

	res, err := o.Run(context.Background(), Trigger{ExecutionID: "exec-n"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Status != domain.StatusSucceeded {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestRun_CancelledRunIsStillNotified(t *testing.T) {
	backend := memory.NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	dl := &MockDownloader{DownloadFunc: func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
		cancel()
		return nil, download.TransferStats{}, ctx.Err()
	}}
	n := &MockNotifier{backend: backend}
	o := newNotifiedOrchestrator(t, backend, dl, n)

	if _, err := o.Run(ctx, Trigger{ExecutionID: "exec-c"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(n.results) != 1 || n.results[0].Status != domain.StatusFailed {
		t.Fatalf("expected one FAILED notification, got %v", n.results)
	}
	if n.ctxErrs[0] != nil {
		t.Errorf("notify context already done: %v", n.ctxErrs[0])
	}
}

func TestRun_StartFailureIsNotNotified(t *testing.T) {
	backend := memory.NewBackend()
	data := dreWorkbook(t)
	if _, err := newTestOrchestrator(t, backend, okDownloader(data), nil).Run(context.Background(), Trigger{ExecutionID: "dup"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	n := &MockNotifier{backend: backend}
	if _, err := newNotifiedOrchestrator(t, backend, okDownloader(data), n).Run(context.Background(), Trigger{ExecutionID: "dup"}); err == nil {
		t.Fatal("expected start failure")
	}
	if len(n.results) != 0 {
		t.Errorf("Notify called %d times for a run that never started", len(n.results))
	}
}

func TestNewOrchestrator_DefaultsEachDownloadField(t *testing.T) {
	dl := okDownloader(dreWorkbook(t))
	p := retry.DefaultPolicy()
	p.MaxRetries = 0
	o, err := NewOrchestrator(Deps{
		Backend:    memory.NewBackend(),
		Downloader: dl,
		Secrets:    testSecrets(),
	}, Options{
		Download: download.Options{MaxRetries: 7, Headers: map[string]string{"X-Token": "t"}, Username: "svc"},
		Loader:   loader.Options{Retry: p},
	})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if _, err := o.Run(context.Background(), Trigger{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	def := download.DefaultOptions()
	got := dl.gotOpts
	if got.MaxRetries != 7 || got.Headers["X-Token"] != "t" || got.Username != "svc" {
		t.Errorf("explicit download options were replaced: %+v", got)
	}
	if got.Timeout != def.Timeout || got.BackoffBase != def.BackoffBase || got.BackoffCap != def.BackoffCap {
		t.Errorf("zero download fields not defaulted: %+v", got)
	}
}
