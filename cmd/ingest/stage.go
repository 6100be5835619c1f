package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/gcsuploader"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/spf13/cobra"
)

func newStageCmd(g *globalOptions) *cobra.Command {
	var (
		filePath string
		name     string
	)

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Upload a local spreadsheet to the staging bucket for a later replay",
		Example: `  ingest stage --file ./DRE_2024_03.xlsx
  ingest --url gs://my-bucket/uploads/dre_hitss_1712750400000.xlsx`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := g.load()
			if err != nil {
				return err
			}
			if cfg.Staging.Bucket == "" {
				return fmt.Errorf("staging.bucket (or GCS_BUCKET) is required")
			}

			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			if name == "" {
				name = gcsuploader.GenerateFileName(time.Now())
			}

			ctx := logger.WithContext(cmd.Context(), log)
			stager, err := gcsuploader.NewGCSStager(ctx, cfg.Staging.Bucket)
			if err != nil {
				return err
			}
			defer stager.Close()

			log.Info().
				Str("bucket", cfg.Staging.Bucket).
				Str("file", filepath.Base(filePath)).
				Int("bytes", len(data)).
				Msg("Staging file")

			uri, err := stager.Stage(ctx, name, data)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}

	cmd.Flags().StringVar(&filePath, "file", "", "Path to the local .xlsx file (required)")
	cmd.Flags().StringVar(&name, "name", "", "Object name under uploads/ (default dre_hitss_<unix-ms>.xlsx)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
