// Package pipeline runs one DRE ingestion: download, stage, parse, map, load,
// with every phase recorded on the execution record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/download"
	"github.com/dvloznov/dre-pipeline/internal/gcs"
	"github.com/dvloznov/dre-pipeline/internal/loader"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/mapping"
	"github.com/dvloznov/dre-pipeline/internal/metrics"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"github.com/dvloznov/dre-pipeline/internal/spreadsheet"
	"github.com/dvloznov/dre-pipeline/internal/store"
	"github.com/dvloznov/dre-pipeline/internal/tracker"
	"github.com/google/uuid"
)

// ErrAlreadyRun is returned when an Orchestrator is run twice.
var ErrAlreadyRun = errors.New("orchestrator already ran")

// Deps are the collaborators of a run. Stager, Metrics and Notifier may be nil.
type Deps struct {
	Backend    store.Backend
	Downloader Downloader
	Secrets    secrets.Provider
	Stager     gcs.Stager
	Registry   *mapping.Registry
	Metrics    *metrics.Metrics
	Notifier   Notifier
	Now        func() time.Time
}

// Options tune a run.
type Options struct {
	Profile      string
	StrictPeriod bool
	Download     download.Options
	Loader       loader.Options
}

// Orchestrator drives a single run through its phases. Create one per run.
type Orchestrator struct {
	deps Deps
	opts Options
	ran  atomic.Bool
}

// NewOrchestrator fills in defaults for unset dependencies.
func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Backend == nil {
		return nil, fmt.Errorf("NewOrchestrator: backend is required")
	}
	if deps.Downloader == nil {
		return nil, fmt.Errorf("NewOrchestrator: downloader is required")
	}
	if deps.Secrets == nil {
		deps.Secrets = secrets.EnvProvider{}
	}
	if deps.Registry == nil {
		reg, err := mapping.NewRegistry(nil)
		if err != nil {
			return nil, fmt.Errorf("NewOrchestrator: %w", err)
		}
		deps.Registry = reg
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.Profile == "" {
		opts.Profile = DefaultProfile
	}
	if _, err := deps.Registry.Get(opts.Profile); err != nil {
		return nil, fmt.Errorf("NewOrchestrator: %w", err)
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	opts.Download = opts.Download.WithDefaults()
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// Run executes the pipeline once. Phase failures are reported in the Result,
// not as an error; the error is reserved for a second call or a run that could not start.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	if !o.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	if trigger.ExecutionID == "" {
		trigger.ExecutionID = uuid.NewString()
	}
	if trigger.Kind == "" {
		trigger.Kind = domain.TriggerManual
	}

	log := logger.FromContext(ctx).With().
		Str("execution_id", trigger.ExecutionID).
		Str("trigger", string(trigger.Kind)).
		Logger()
	ctx = logger.WithContext(ctx, log)

	start := o.deps.Now()
	state := &PipelineState{
		ExecutionID: trigger.ExecutionID,
		BatchID:     trigger.ExecutionID,
		Trigger:     trigger,
		Tracker:     tracker.New(o.deps.Backend, o.deps.Metrics),
	}
	defer func() {
		if state.Workbook != nil {
			state.Workbook.Close()
		}
	}()

	log.Info().Str("profile", o.opts.Profile).Msg("Pipeline started")

	err := o.pipeline().Execute(ctx, state)
	if err != nil && state.Tracker.Record() == nil {
		return nil, err
	}
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("cancelled: %w", context.Cause(ctx))
		}
		if failErr := state.Tracker.Fail(ctx, err); failErr != nil {
			log.Error().Err(failErr).Msg("Failed to mark execution as failed")
		}
		log.Error().Err(err).Msg("Pipeline failed")
		state.Status = domain.StatusFailed
	}

	res := o.result(state, err, o.deps.Now().Sub(start))
	o.notify(ctx, res)
	return res, nil
}

// notify runs on a context detached from cancellation so a cancelled run is still reported.
func (o *Orchestrator) notify(ctx context.Context, res *Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := o.deps.Notifier.Notify(ctx, res); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("status", string(res.Status)).Msg("Completion notification failed")
	}
}

func (o *Orchestrator) pipeline() *Pipeline {
	mapper := mapping.NewRecordMapper(o.deps.Registry, mapping.MapperOptions{
		Now:          o.deps.Now,
		StrictPeriod: o.opts.StrictPeriod,
	})
	return NewPipeline(
		&InitStep{},
		&DownloadStep{Downloader: o.deps.Downloader, Secrets: o.deps.Secrets, Options: o.opts.Download},
		&StageStep{Stager: o.deps.Stager, Now: o.deps.Now},
		&ParseStep{
			Decoder:    spreadsheet.NewDecoder(),
			Normalizer: mapping.NewHeaderNormalizer(o.deps.Registry),
			Registry:   o.deps.Registry,
			Profile:    o.opts.Profile,
		},
		&MapStep{Mapper: mapper, Profile: o.opts.Profile, Metrics: o.deps.Metrics},
		&LoadStep{Backend: o.deps.Backend, Metrics: o.deps.Metrics, Options: o.opts.Loader},
		&FinishStep{},
	)
}

func (o *Orchestrator) result(state *PipelineState, runErr error, elapsed time.Duration) *Result {
	res := &Result{
		ExecutionID:       state.ExecutionID,
		Status:            state.Status,
		RecordsProcessed:  state.Processed,
		RecordsImported:   state.Load.Imported(),
		RecordsFailed:     state.Load.Failed,
		RecordsSkipped:    state.Skipped,
		DimensionsCreated: state.DimensionsCreated,
		FileName:          state.FileName,
		StagedURI:         state.StagedURI,
		DurationSeconds:   elapsed.Seconds(),
	}
	res.Success = res.Status == domain.StatusSucceeded || res.Status == domain.StatusPartial
	if runErr != nil {
		res.Error = runErr.Error()
	} else if rec := state.Tracker.Record(); rec != nil && rec.ErrorMessage != "" {
		res.Error = rec.ErrorMessage
	}
	for _, e := range state.Load.Errors {
		if len(res.Errors) == maxResultErrors {
			break
		}
		res.Errors = append(res.Errors, e.String())
	}
	return res
}
