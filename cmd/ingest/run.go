package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/spf13/cobra"
)

type runOptions struct {
	url         string
	file        string
	trigger     string
	executionID string
	asJSON      bool
}

// errRunFailed makes the process exit non-zero after the result was printed.
var errRunFailed = errors.New("import failed")

func newRunCmd(g *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Download the DRE spreadsheet and load it into the warehouse",
		Long: `Runs one ingestion: download (or replay) the DRE spreadsheet, stage it,
map its rows to financial records and load dimensions and facts.

The source is, in order of precedence: --file, --url, download.url from the
config, then the HITSS_DOWNLOAD_URL environment variable. --url also accepts a
gs:// URI of a previously staged file.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), g, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", "", "Source URL (http(s):// or gs://)")
	cmd.Flags().StringVar(&opts.file, "file", "", "Local .xlsx file to ingest instead of downloading")
	cmd.Flags().StringVar(&opts.trigger, "trigger", string(domain.TriggerManual), "Trigger kind recorded on the execution: manual or scheduled")
	cmd.Flags().StringVar(&opts.executionID, "execution-id", "", "Execution id (generated when empty)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	cmd.MarkFlagsMutuallyExclusive("url", "file")

	return cmd
}

func runIngest(ctx context.Context, g *globalOptions, opts runOptions, out io.Writer) error {
	kind := domain.TriggerKind(opts.trigger)
	if kind != domain.TriggerManual && kind != domain.TriggerScheduled {
		return fmt.Errorf("--trigger must be manual or scheduled, got %q", opts.trigger)
	}

	a, ctx, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	trigger := pipeline.Trigger{ExecutionID: opts.executionID, Kind: kind, SourceURL: opts.url}
	if opts.file != "" {
		trigger.SourceURL = fileScheme + opts.file
		a.Runner.Deps.Downloader = &fileDownloader{Next: a.Runner.Deps.Downloader}
	}

	result, err := a.Runner.Run(ctx, trigger)
	if err != nil {
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(out, result)
		if g.dryRun {
			if n, err := a.Backend.CountFacts(ctx, result.ExecutionID); err == nil {
				fmt.Fprintf(out, "Fact rows:  %d (dry run, nothing persisted)\n", n)
			}
		}
	}

	if !result.Success {
		return errRunFailed
	}
	return nil
}

func printResult(out io.Writer, r *pipeline.Result) {
	fmt.Fprintln(out, "\n=== Import Result ===")
	fmt.Fprintf(out, "Execution:  %s\n", r.ExecutionID)
	fmt.Fprintf(out, "Status:     %s\n", r.Status)
	if r.FileName != "" {
		fmt.Fprintf(out, "File:       %s\n", r.FileName)
	}
	if r.StagedURI != "" {
		fmt.Fprintf(out, "Staged at:  %s\n", r.StagedURI)
	}
	fmt.Fprintf(out, "Processed:  %d\n", r.RecordsProcessed)
	fmt.Fprintf(out, "Imported:   %d\n", r.RecordsImported)
	fmt.Fprintf(out, "Failed:     %d\n", r.RecordsFailed)
	fmt.Fprintf(out, "Skipped:    %d\n", r.RecordsSkipped)
	fmt.Fprintf(out, "Dimensions: %d created\n", r.DimensionsCreated)
	fmt.Fprintf(out, "Duration:   %s\n", time.Duration(r.DurationSeconds*float64(time.Second)).Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(out, "Error:      %s\n", r.Error)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}

const fileScheme = "file://"

// fileDownloader reads file:// sources from disk and passes the rest on.
type fileDownloader struct {
	Next pipeline.Downloader
}

func (f *fileDownloader) Download(ctx context.Context, rawURL string, opts download.Options) ([]byte, download.TransferStats, error) {
	path, ok := strings.CutPrefix(rawURL, fileScheme)
	if !ok {
		return f.Next.Download(ctx, rawURL, opts)
	}

	start := time.Now()
	data, err := os.ReadFile(path)
	stats := download.TransferStats{Attempts: 1, Bytes: int64(len(data)), ElapsedSeconds: time.Since(start).Seconds()}
	if err != nil {
		return nil, stats, fmt.Errorf("fileDownloader: %w", err)
	}
	return data, stats, nil
}
