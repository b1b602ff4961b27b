package optimization

import (
	"context"
)

// Engine is the optimization collaborator the pipeline drives. It owns the
// authoritative trial ledger: callers append trials and read them back but
// never rewrite a trial once it has left the running state.
//
// An Engine is not safe for concurrent use. Independent runs must each
// construct their own Engine.
type Engine interface {
	// CreateExperiment declares the search space and objective directions.
	// It must be called exactly once, before any trial is created.
	CreateExperiment(ctx context.Context, spec ExperimentSpec) error

	// NewTrial creates a trial bound to params and returns it in the created
	// state. Indices are assigned sequentially from zero.
	NewTrial(ctx context.Context, params Assignment) (Trial, error)

	// MarkRunning moves a created trial to running.
	MarkRunning(ctx context.Context, index int, opts RunOptions) error

	// CompleteTrial moves a running trial to completed with one measurement
	// per objective.
	CompleteTrial(ctx context.Context, index int, measurements Assignment) error

	// NextTrials proposes up to maxTrials new candidates from the completed
	// history. Returning fewer than maxTrials is not an error.
	NextTrials(ctx context.Context, maxTrials int) ([]Candidate, error)

	// Trials returns a snapshot of the ledger in index order.
	Trials() []Trial
}

// Journal receives a copy of every trial each time its state changes. It lets
// an Engine mirror its ledger to durable storage.
type Journal interface {
	Record(ctx context.Context, experimentID string, trial Trial) error
}

// ExperimentSpec declares an experiment to the engine.
type ExperimentSpec struct {
	// ID namespaces the experiment's trials in any journal.
	ID         string
	Name       string
	Parameters []ParameterSpec
	Objectives []ObjectiveSpec
}

// ParameterSpec is a bounded range parameter keyed by token.
type ParameterSpec struct {
	Name  string
	Lower float64
	Upper float64
}

// ObjectiveSpec names an objective and its direction.
type ObjectiveSpec struct {
	Name     string
	Minimize bool
}

// RunOptions controls how a trial is started.
type RunOptions struct {
	// NoRunnerRequired marks a backfilled trial: nothing is executed, the
	// outcome is already known.
	NoRunnerRequired bool
}

// Assignment maps tokens to values.
type Assignment map[string]float64

// Clone returns a copy of a.
func (a Assignment) Clone() Assignment {
	if a == nil {
		return nil
	}
	c := make(Assignment, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

// Candidate is a suggested, not yet evaluated trial.
type Candidate struct {
	Index      int
	Parameters Assignment
}
