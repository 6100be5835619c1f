package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/dimensions"
	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/gcs"
	"github.com/dvloznov/dre-pipeline/internal/gcsuploader"
	"github.com/dvloznov/dre-pipeline/internal/loader"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/mapping"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"github.com/dvloznov/dre-pipeline/internal/spreadsheet"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/dvloznov/dre-pipeline/internal/tracker"
)

// PipelineStep represents a single step in the ingestion pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	ExecutionID string
	BatchID     string
	Trigger     Trigger
	Tracker     *tracker.Tracker

	Data      []byte
	Transfer  download.TransferStats
	FileName  string
	StagedURI string

	Workbook *spreadsheet.Workbook
	Headers  mapping.HeaderMap

	Records         []*domain.FinancialRecord
	Processed       int
	Skipped         int
	PeriodFallbacks int

	Load              loader.BatchResult
	DimensionsCreated int
	Status            domain.ExecutionStatus
}

// Step 1: InitStep creates the execution record (RUNNING, phase INIT).
type InitStep struct{}

func (s *InitStep) Name() string { return StepInit }

func (s *InitStep) Execute(ctx context.Context, state *PipelineState) error {
	return state.Tracker.Start(ctx, state.ExecutionID, state.Trigger.Kind, state.BatchID)
}

// Step 2: DownloadStep fetches the spreadsheet from the configured source.
type DownloadStep struct {
	Downloader Downloader
	Secrets    secrets.Provider
	Options    download.Options
}

func (s *DownloadStep) Name() string { return StepDownload }

func (s *DownloadStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	if err := state.Tracker.Phase(ctx, domain.PhaseDownloading); err != nil {
		return err
	}

	url := state.Trigger.SourceURL
	if url == "" {
		var ok bool
		if url, ok = s.Secrets.GetSecret(secrets.DownloadURL); !ok {
			return fmt.Errorf("DownloadStep: secret %s is not configured", secrets.DownloadURL)
		}
	}

	opts := s.Options
	username, hasUser := s.Secrets.GetSecret(secrets.Username)
	password, hasPass := s.Secrets.GetSecret(secrets.Password)
	if hasUser && hasPass {
		opts.Username, opts.Password = username, password
	}
	log.Info().
		Bool("url_from_trigger", state.Trigger.SourceURL != "").
		Bool("username_set", hasUser).
		Str("password", secrets.Mask(password)).
		Msg("Starting download")

	data, stats, err := s.Downloader.Download(ctx, url, opts)
	state.Transfer = stats
	if err != nil {
		return fmt.Errorf("DownloadStep: %w", err)
	}
	state.Data = data

	log.Info().
		Int64("bytes", stats.Bytes).
		Int("attempts", stats.Attempts).
		Float64("throughput_mbps", stats.ThroughputMbps).
		Msg("Download complete")
	return nil
}

// Step 3: StageStep names the artifact and copies it to object storage.
// Staging failures are logged and do not fail the run.
type StageStep struct {
	Stager gcs.Stager
	Now    func() time.Time
}

func (s *StageStep) Name() string { return StepStage }

func (s *StageStep) Execute(ctx context.Context, state *PipelineState) error {
	state.FileName = gcsuploader.GenerateFileName(s.Now())
	if err := state.Tracker.SetFileName(ctx, state.FileName); err != nil {
		return err
	}
	if s.Stager == nil {
		return nil
	}

	uri, err := s.Stager.Stage(ctx, state.FileName, state.Data)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("file_name", state.FileName).Msg("Staging failed, continuing")
		state.Tracker.Log(ctx, StepStage, domain.LogError, err.Error())
		return nil
	}
	state.StagedURI = uri
	return nil
}

// Step 4: ParseStep decodes the workbook and maps its header onto canonical fields.
type ParseStep struct {
	Decoder    *spreadsheet.Decoder
	Normalizer *mapping.HeaderNormalizer
	Registry   *mapping.Registry
	Profile    string
}

func (s *ParseStep) Name() string { return StepParse }

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := state.Tracker.Phase(ctx, domain.PhaseParsing); err != nil {
		return err
	}

	wb, err := s.Decoder.Decode(state.Data)
	if err != nil {
		return err
	}

	headers, err := s.Normalizer.Normalize(wb.Header(), s.Profile)
	if err != nil {
		wb.Close()
		return err
	}

	profile, err := s.Registry.Get(s.Profile)
	if err != nil {
		wb.Close()
		return err
	}
	var missing []string
	for _, f := range profile.Required() {
		if !headers.Has(f) {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		wb.Close()
		return &domain.MalformedFileError{Reason: "missing required columns: " + strings.Join(missing, ", ")}
	}

	state.Workbook = wb
	state.Headers = headers
	state.Data = nil

	log := logger.FromContext(ctx)
	log.Info().
		Str("sheet", wb.SheetName).
		Int("header_row", wb.HeaderRowNumber()).
		Int("mapped_columns", len(headers)).
		Msg("Workbook parsed")
	return nil
}

// Step 5: MapStep turns data rows into financial records, counting skips.
type MapStep struct {
	Mapper  *mapping.RecordMapper
	Profile string
	Metrics *metrics.Metrics
}

func (s *MapStep) Name() string { return StepMap }

func (s *MapStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	if err := state.Tracker.Phase(ctx, domain.PhaseMapping); err != nil {
		return err
	}

	wb := state.Workbook
	defer func() {
		wb.Close()
		state.Workbook = nil
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, rowNumber, ok := wb.Next()
		if !ok {
			break
		}
		state.Processed++

		out, err := s.Mapper.MapRowAt(row, rowNumber, state.Headers, s.Profile)
		if err != nil {
			return err
		}
		if out.Skipped() {
			state.Skipped++
			log.Debug().Int("row", rowNumber).Str("reason", out.SkipReason).Msg("Row skipped")
			continue
		}
		if out.PeriodFallback {
			state.PeriodFallbacks++
			log.Warn().Int("row", rowNumber).Str("periodo", out.Record.PeriodLabel).Msg("Unparseable period, using current date")
		}
		if out.AmountInvalid {
			log.Warn().Int("row", rowNumber).Msg("Unparseable amount, using zero")
		}
		state.Records = append(state.Records, out.Record)
	}
	if err := wb.Err(); err != nil {
		return err
	}

	s.Metrics.RecordRows("mapped", len(state.Records))
	s.Metrics.RecordRows("skipped", state.Skipped)

	log.Info().
		Int("processed", state.Processed).
		Int("mapped", len(state.Records)).
		Int("skipped", state.Skipped).
		Int("period_fallbacks", state.PeriodFallbacks).
		Msg("Rows mapped")

	return state.Tracker.Counters(ctx, state.Processed, 0, 0, state.Skipped)
}

// Step 6: LoadStep resolves dimensions and writes fact rows.
type LoadStep struct {
	Backend store.Backend
	Metrics *metrics.Metrics
	Options loader.Options
}

func (s *LoadStep) Name() string { return StepLoad }

func (s *LoadStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := state.Tracker.Phase(ctx, domain.PhaseLoading); err != nil {
		return err
	}

	resolver := dimensions.NewResolver(s.Backend, s.Metrics)
	l := loader.NewLoader(s.Backend, resolver, s.Metrics, s.Options)

	res, err := l.LoadBatch(ctx, state.Records, state.BatchID, state.FileName)
	state.Load = res
	state.DimensionsCreated = resolver.Created()
	if err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Int("merged", res.Merged).
		Int("failed", res.Failed).
		Int("dimensions_created", state.DimensionsCreated).
		Msg("Batch loaded")
	return nil
}

// Step 7: FinishStep classifies the run and closes the execution record.
type FinishStep struct{}

func (s *FinishStep) Name() string { return StepFinish }

func (s *FinishStep) Execute(ctx context.Context, state *PipelineState) error {
	sum := tracker.Summary{
		Processed: state.Processed,
		Imported:  state.Load.Imported(),
		Failed:    state.Load.Failed,
		Skipped:   state.Skipped,
	}
	msg := ""
	if sum.Failed > 0 {
		msg = fmt.Sprintf("%d records failed to load", sum.Failed)
		if len(state.Load.Errors) > 0 {
			msg += "; first: " + state.Load.Errors[0].String()
		}
	}

	status, err := state.Tracker.Finish(ctx, sum, msg)
	if err != nil {
		return err
	}
	state.Status = status
	return nil
}

// Pipeline executes a sequence of steps in order, recording each in the execution log.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline step %d (%s) not started: %w", i+1, step.Name(), err)
		}
		state.Tracker.Log(ctx, step.Name(), domain.LogStarted, "")
		if err := step.Execute(ctx, state); err != nil {
			state.Tracker.Log(ctx, step.Name(), domain.LogError, err.Error())
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
		state.Tracker.Log(ctx, step.Name(), domain.LogCompleted, "")
	}
	return nil
}
