// Package replay feeds a history table into an optimization engine as
// completed trials, one trial per row in file order.
package replay

import (
	"context"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/history"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/metrics"
	"github.com/copyleftdev/paramgen/internal/optimization"
	"github.com/copyleftdev/paramgen/internal/searchspace"
)

const component = "replayer"

// Result identifies a successful replay. Trials[i] is the engine index of
// history row i.
type Result struct {
	ExperimentID string
	Trials       []int
}

// Replayer initializes an engine from history.
type Replayer struct {
	engine  optimization.Engine
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Replayer. logger and m may be nil.
func New(engine optimization.Engine, logger *zap.Logger, m *metrics.Metrics) *Replayer {
	return &Replayer{
		engine:  engine,
		logger:  logging.OrNop(logger).Named(component),
		metrics: m,
	}
}

// ExperimentSpec translates a search space into the engine's declaration.
func ExperimentSpec(id string, space *searchspace.SearchSpace) optimization.ExperimentSpec {
	spec := optimization.ExperimentSpec{ID: id, Name: id}
	for _, p := range space.Parameters() {
		spec.Parameters = append(spec.Parameters, optimization.ParameterSpec{
			Name:  p.Token,
			Lower: p.Lower,
			Upper: p.Upper,
		})
	}
	for _, o := range space.Objectives() {
		spec.Objectives = append(spec.Objectives, optimization.ObjectiveSpec{
			Name:     o.Token,
			Minimize: o.Minimize,
		})
	}
	return spec
}

// Replay declares the experiment and replays every record in order. Row i
// must become trial i. The first failure aborts the replay; the engine may
// then hold a partial ledger and must not be asked for suggestions.
func (r *Replayer) Replay(ctx context.Context, experimentID string, space *searchspace.SearchSpace, table *history.Table) (*Result, error) {
	const op = "Replayer.Replay"

	if err := r.engine.CreateExperiment(ctx, ExperimentSpec(experimentID, space)); err != nil {
		return nil, optimizerErr(op, err, "engine rejected the experiment")
	}

	result := &Result{ExperimentID: experimentID, Trials: make([]int, 0, table.Len())}
	for i, rec := range table.Records {
		if err := ctx.Err(); err != nil {
			return nil, optimizerErr(op, err, "replay cancelled").WithRow(rec.Row)
		}

		index, err := r.replayRecord(ctx, rec)
		if err != nil {
			return nil, err
		}
		if index != i {
			return nil, errors.Errorf(errors.KindOptimizer,
				"engine assigned trial index %d to history row %d", index, rec.Row).
				WithComponent(component).WithOperation(op).WithRow(rec.Row)
		}
		result.Trials = append(result.Trials, index)
		r.metrics.TrialReplayed()
	}

	r.logger.Info("Replayed history",
		zap.String("experiment_id", experimentID),
		zap.Int("trials", len(result.Trials)),
	)
	return result, nil
}

func (r *Replayer) replayRecord(ctx context.Context, rec history.Record) (int, error) {
	const op = "Replayer.replayRecord"

	trial, err := r.engine.NewTrial(ctx, optimization.Assignment(rec.Parameters).Clone())
	if err != nil {
		return 0, optimizerErr(op, err, "engine rejected trial").WithRow(rec.Row)
	}
	if err := r.engine.MarkRunning(ctx, trial.Index, optimization.RunOptions{NoRunnerRequired: true}); err != nil {
		return 0, optimizerErr(op, err, "engine could not start trial").WithRow(rec.Row)
	}
	if err := r.engine.CompleteTrial(ctx, trial.Index, optimization.Assignment(rec.Outcomes).Clone()); err != nil {
		return 0, optimizerErr(op, err, "engine could not complete trial").WithRow(rec.Row)
	}

	r.logger.Debug("Replayed row",
		zap.Int("row", rec.Row),
		zap.Int("trial", trial.Index),
	)
	return trial.Index, nil
}

// optimizerErr reports a collaborator failure as an OptimizerError, whatever
// kind the engine attached.
func optimizerErr(op string, err error, msg string) *errors.Error {
	return errors.New(errors.KindOptimizer, msg).
		WithCause(err).WithComponent(component).WithOperation(op)
}
