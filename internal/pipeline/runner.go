package pipeline

import (
	"context"
)

// Runner starts a fresh Orchestrator per trigger so long-lived callers
// (HTTP server, queue workers, scheduler) can share one set of dependencies.
type Runner struct {
	Deps    Deps
	Options Options
}

// NewRunner validates deps and opts once up front.
func NewRunner(deps Deps, opts Options) (*Runner, error) {
	if _, err := NewOrchestrator(deps, opts); err != nil {
		return nil, err
	}
	return &Runner{Deps: deps, Options: opts}, nil
}

// Run executes one ingestion.
func (r *Runner) Run(ctx context.Context, trigger Trigger) (*Result, error) {
	o, err := NewOrchestrator(r.Deps, r.Options)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, trigger)
}
