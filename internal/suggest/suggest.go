// Package suggest asks a replayed engine for the next batch of candidates.
package suggest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/metrics"
	"github.com/copyleftdev/paramgen/internal/optimization"
	"github.com/copyleftdev/paramgen/internal/replay"
	"github.com/copyleftdev/paramgen/internal/searchspace"
)

const component = "suggester"

// Batch is the ordered candidates returned by the engine. It may be shorter
// than the requested size.
type Batch []optimization.Candidate

// Suggester requests candidates from an engine.
type Suggester struct {
	engine  optimization.Engine
	space   *searchspace.SearchSpace
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Suggester for the engine that replayed space. logger and m
// may be nil.
func New(engine optimization.Engine, space *searchspace.SearchSpace, logger *zap.Logger, m *metrics.Metrics) *Suggester {
	return &Suggester{
		engine:  engine,
		space:   space,
		logger:  logging.OrNop(logger).Named(component),
		metrics: m,
	}
}

// Suggest returns up to batchSize candidates. replayed must come from a
// successful replay into the same engine.
func (s *Suggester) Suggest(ctx context.Context, replayed *replay.Result, batchSize int) (Batch, error) {
	const op = "Suggester.Suggest"

	if batchSize < 1 {
		return nil, errors.Errorf(errors.KindConfig, "batch size must be at least 1, got %d", batchSize).
			WithComponent(component).WithOperation(op).WithField("batch_size")
	}
	if replayed == nil {
		return nil, errors.New(errors.KindOptimizer, "suggestion requires a successful replay").
			WithComponent(component).WithOperation(op)
	}

	start := time.Now()
	candidates, err := s.engine.NextTrials(ctx, batchSize)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.New(errors.KindOptimizer, "engine could not generate candidates").
			WithCause(err).WithComponent(component).WithOperation(op)
	}

	if len(candidates) > batchSize {
		return nil, errors.Errorf(errors.KindOptimizer,
			"engine returned %d candidates for a batch of %d", len(candidates), batchSize).
			WithComponent(component).WithOperation(op)
	}
	for _, c := range candidates {
		if err := s.validate(c); err != nil {
			return nil, err.WithOperation(op)
		}
	}

	s.metrics.Suggested(batchSize, len(candidates), elapsed)
	if len(candidates) < batchSize {
		s.logger.Info("Engine returned a short batch",
			zap.Int("requested", batchSize),
			zap.Int("returned", len(candidates)),
		)
	}
	s.logger.Debug("Generated suggestions",
		zap.String("experiment_id", replayed.ExperimentID),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", elapsed),
	)
	return Batch(candidates), nil
}

// validate checks that c assigns an in-bounds value to every parameter and
// nothing else.
func (s *Suggester) validate(c optimization.Candidate) *errors.Error {
	params := s.space.Parameters()
	if len(c.Parameters) != len(params) {
		return errors.Errorf(errors.KindOptimizer,
			"candidate %d has %d parameters, search space declares %d", c.Index, len(c.Parameters), len(params)).
			WithComponent(component)
	}
	for _, p := range params {
		v, ok := c.Parameters[p.Token]
		if !ok {
			return errors.Errorf(errors.KindOptimizer, "candidate %d is missing parameter", c.Index).
				WithComponent(component).WithField(p.Name)
		}
		if !p.Contains(v) {
			return errors.Errorf(errors.KindOptimizer,
				"candidate %d value %v is outside [%v, %v]", c.Index, v, p.Lower, p.Upper).
				WithComponent(component).WithField(p.Name)
		}
	}
	return nil
}
