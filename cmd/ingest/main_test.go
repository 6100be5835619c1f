package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T, rows [][]interface{}) string {
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

	path := filepath.Join(t.TempDir(), "dre.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DRE_CONFIG", "")
	t.Setenv("GCS_BUCKET", "")
	t.Setenv("HITSS_DOWNLOAD_URL", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngest_DryRunLocalFile(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{
		{"Projeto", "Cliente", "Conta Resumo", "Denominação Conta", "Período", "Lançamento", "Natureza"},
		{"P001 - Alpha", "ACME", "3.1.01", "Receita Bruta", "03/2024", "1.500,00", "RECEITA"},
		{"P002 - Beta", "Globex", "4.1.01", "Custo Pessoal", "03/2024", "-800,00", "CUSTO"},
	})

	out, err := execute(t, "--dry-run", "--json", "--file", path, "--execution-id", "cli-1")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}

	var result pipeline.Result
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if result.ExecutionID != "cli-1" {
		t.Errorf("execution id = %q", result.ExecutionID)
	}
	if result.Status != domain.StatusSucceeded {
		t.Errorf("status = %s, want SUCCEEDED", result.Status)
	}
	if result.RecordsImported != 2 {
		t.Errorf("imported = %d, want 2", result.RecordsImported)
	}
}

func TestIngest_DryRunSkipsNotification(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	t.Setenv("DRE_BACKEND", "memory")
	t.Setenv("DRE_NOTIFY_WEBHOOK", srv.URL)

	path := writeWorkbook(t, [][]interface{}{
		{"Projeto", "Cliente", "Conta Resumo", "Denominação Conta", "Período", "Lançamento", "Natureza"},
		{"P001 - Alpha", "ACME", "3.1.01", "Receita Bruta", "03/2024", "1.500,00", "RECEITA"},
	})
	if out, err := execute(t, "--dry-run", "--file", path); err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("webhook called %d times during a dry run", n)
	}
}

func TestIngest_DryRunMissingFileFails(t *testing.T) {
	out, err := execute(t, "--dry-run", "--file", filepath.Join(t.TempDir(), "nope.xlsx"))
	if !errors.Is(err, errRunFailed) {
		t.Fatalf("expected errRunFailed, got %v", err)
	}
	if !strings.Contains(out, "FAILED") {
		t.Errorf("expected FAILED in output, got:\n%s", out)
	}
}

func TestIngest_InvalidTrigger(t *testing.T) {
	_, err := execute(t, "--dry-run", "--trigger", "hourly")
	if err == nil || !strings.Contains(err.Error(), "--trigger") {
		t.Fatalf("expected trigger error, got %v", err)
	}
}

func TestIngest_URLAndFileExclusive(t *testing.T) {
	if _, err := execute(t, "--dry-run", "--url", "https://example.com/x.xlsx", "--file", "x.xlsx"); err == nil {
		t.Fatal("expected error for --url with --file")
	}
}

func TestStage_RequiresBucket(t *testing.T) {
	path := writeWorkbook(t, [][]interface{}{{"Projeto"}})
	_, err := execute(t, "--dry-run", "stage", "--file", path)
	if err == nil || !strings.Contains(err.Error(), "staging.bucket") {
		t.Fatalf("expected bucket error, got %v", err)
	}
}

func TestExecutionsShow_NotFound(t *testing.T) {
	_, err := execute(t, "--dry-run", "executions", "show", "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutionsList_Header(t *testing.T) {
	out, err := execute(t, "--dry-run", "executions", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "EXECUTION") {
		t.Errorf("expected table header, got:\n%s", out)
	}
}

func TestFileDownloader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.xlsx")
	if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
		t.Fatal(err)
	}

	var forwarded string
	next := nextFunc(func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
		forwarded = rawURL
		return []byte("remote"), download.TransferStats{Attempts: 1}, nil
	})
	d := &fileDownloader{Next: next}

	data, stats, err := d.Download(context.Background(), fileScheme+path, download.Options{})
	if err != nil || string(data) != "data" || stats.Bytes != 4 {
		t.Fatalf("local read: data=%q stats=%+v err=%v", data, stats, err)
	}

	if _, _, err := d.Download(context.Background(), "https://example.com/x", download.Options{}); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if forwarded != "https://example.com/x" {
		t.Errorf("forwarded = %q", forwarded)
	}
}

type nextFunc func(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error)

func (f nextFunc) Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
	return f(ctx, rawURL, opts)
}
