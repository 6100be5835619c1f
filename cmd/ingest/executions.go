package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/spf13/cobra"
)

func newExecutionsCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect recorded import executions",
	}
	cmd.AddCommand(newExecutionsListCmd(g), newExecutionsShowCmd(g))
	return cmd
}

func newExecutionsListCmd(g *globalOptions) *cobra.Command {
	var (
		status string
		limit  int
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List executions, newest first",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := store.ExecutionFilter{Status: domain.ExecutionStatus(status), Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			recs, err := a.Backend.ListExecutions(ctx, filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-36s  %-9s  %-11s  %-20s  %8s  %6s  %7s\n", "EXECUTION", "TRIGGER", "STATUS", "STARTED", "IMPORTED", "FAILED", "SKIPPED")
			for _, r := range recs {
				fmt.Fprintf(out, "%-36s  %-9s  %-11s  %-20s  %8d  %6d  %7d\n",
					r.ExecutionID, r.Trigger, r.Status, r.StartedAt.UTC().Format(time.RFC3339),
					r.RecordsImported, r.RecordsFailed, r.RecordsSkipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (RUNNING, SUCCEEDED, PARTIAL, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of executions")
	cmd.Flags().DurationVar(&since, "since", 0, "Only executions started within this window (e.g. 72h)")
	return cmd
}

func newExecutionsShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "show EXECUTION_ID",
		Short:        "Show one execution and its step log",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.Backend.GetExecution(ctx, args[0])
			if err != nil {
				return err
			}
			logs, err := a.Backend.ListExecutionLogs(ctx, args[0])
			if err != nil {
				return err
			}
			printExecution(cmd.OutOrStdout(), rec, logs)
			return nil
		},
	}
}

func printExecution(out io.Writer, rec *domain.ExecutionRecord, logs []domain.ExecutionLog) {
	fmt.Fprintln(out, "\n=== Execution Details ===")
	fmt.Fprintf(out, "ID:         %s\n", rec.ExecutionID)
	fmt.Fprintf(out, "Trigger:    %s\n", rec.Trigger)
	fmt.Fprintf(out, "Status:     %s (%s)\n", rec.Status, rec.Phase)
	fmt.Fprintf(out, "Batch:      %s\n", rec.BatchID)
	fmt.Fprintf(out, "File:       %s\n", rec.FileName)
	fmt.Fprintf(out, "Started:    %s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	if rec.CompletedAt != nil {
		fmt.Fprintf(out, "Completed:  %s\n", rec.CompletedAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Records:    %d processed, %d imported, %d failed, %d skipped\n",
		rec.RecordsProcessed, rec.RecordsImported, rec.RecordsFailed, rec.RecordsSkipped)
	if rec.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", rec.ErrorMessage)
	}

	fmt.Fprintf(out, "\n=== Steps (%d) ===\n", len(logs))
	for _, l := range logs {
		fmt.Fprintf(out, "%s  %-8s  %-9s  %s\n", l.CreatedAt.UTC().Format(time.RFC3339), l.Step, l.Status, l.Message)
	}
	fmt.Fprintln(out)
}
