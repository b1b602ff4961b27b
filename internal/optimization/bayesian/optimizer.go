package bayesian

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/optimization"
)

const engineComponent = "bayesian_engine"

// Options configures an Engine.
type Options struct {
	// Seed for the random number generator; 0 seeds from the clock.
	Seed int64
	// Xi is the Expected Improvement exploration margin.
	Xi float64
	// NoiseVar is added to the kernel diagonal.
	NoiseVar float64
	// Kernel is "matern52" (default) or "rbf".
	Kernel string
	// LengthScale of the kernel on the unit cube.
	LengthScale float64
	// MinObservations is the number of completed trials required before the
	// model is used. Below it, candidates come from a Latin hypercube.
	MinObservations int
	// MaxParallelism caps the candidates returned by one NextTrials call.
	// Zero means no cap.
	MaxParallelism int
	// Restarts is the number of Nelder-Mead starts per candidate. Zero picks
	// a default from the dimension.
	Restarts int
	// Journal mirrors every trial state change. Optional.
	Journal optimization.Journal
	// Logger receives engine warnings. Optional.
	Logger *zap.Logger
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Xi:              0.01,
		NoiseVar:        1e-6,
		Kernel:          "matern52",
		LengthScale:     0.25,
		MinObservations: 2,
	}
}

// Engine is an in-memory optimization.Engine backed by a Gaussian Process
// surrogate of a ParEGO scalarization of the objectives.
type Engine struct {
	opts    Options
	logger  *zap.Logger
	journal optimization.Journal

	// Random number generator
	rng *rand.Rand

	spec   *optimization.ExperimentSpec
	trials []optimization.Trial
}

var _ optimization.Engine = (*Engine)(nil)

// NewEngine creates an Engine. Zero-valued options fall back to defaults.
func NewEngine(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if opts.Xi < 0 {
		return nil, engineErr("NewEngine", "xi must not be negative, got %v", opts.Xi)
	}
	if opts.Xi == 0 {
		opts.Xi = def.Xi
	}
	if opts.NoiseVar < 0 {
		return nil, engineErr("NewEngine", "noise variance must not be negative, got %v", opts.NoiseVar)
	}
	if opts.NoiseVar == 0 {
		opts.NoiseVar = def.NoiseVar
	}
	if opts.Kernel == "" {
		opts.Kernel = def.Kernel
	}
	if opts.LengthScale < 0 {
		return nil, engineErr("NewEngine", "length scale must not be negative, got %v", opts.LengthScale)
	}
	if opts.LengthScale == 0 {
		opts.LengthScale = def.LengthScale
	}
	if opts.MinObservations < 1 {
		opts.MinObservations = def.MinObservations
	}
	if opts.MaxParallelism < 0 {
		return nil, engineErr("NewEngine", "max parallelism must not be negative, got %d", opts.MaxParallelism)
	}
	if _, err := newKernel(opts); err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Engine{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).Named(engineComponent),
		journal: opts.Journal,
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

func engineErr(op, format string, args ...interface{}) *errors.Error {
	return errors.Errorf(errors.KindOptimizer, format, args...).
		WithComponent(engineComponent).WithOperation(op)
}

// CreateExperiment declares the search space. It may be called once.
func (e *Engine) CreateExperiment(ctx context.Context, spec optimization.ExperimentSpec) error {
	const op = "Engine.CreateExperiment"

	if e.spec != nil {
		return engineErr(op, "experiment %q already created", e.spec.Name)
	}
	if len(spec.Parameters) == 0 {
		return engineErr(op, "experiment needs at least one parameter")
	}
	if len(spec.Objectives) == 0 {
		return engineErr(op, "experiment needs at least one objective")
	}

	seen := make(map[string]bool)
	for _, p := range spec.Parameters {
		if p.Name == "" || seen[p.Name] {
			return engineErr(op, "parameter name %q is empty or duplicated", p.Name)
		}
		seen[p.Name] = true
		if !finite(p.Lower) || !finite(p.Upper) || p.Lower >= p.Upper {
			return engineErr(op, "parameter %q has invalid bounds [%v, %v]", p.Name, p.Lower, p.Upper)
		}
	}
	for _, o := range spec.Objectives {
		if o.Name == "" || seen[o.Name] {
			return engineErr(op, "objective name %q is empty or duplicated", o.Name)
		}
		seen[o.Name] = true
	}

	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.KindOptimizer, err, "experiment creation cancelled").WithOperation(op)
	}

	cp := spec
	cp.Parameters = append([]optimization.ParameterSpec(nil), spec.Parameters...)
	cp.Objectives = append([]optimization.ObjectiveSpec(nil), spec.Objectives...)
	e.spec = &cp
	e.trials = nil

	e.logger.Debug("Experiment created",
		zap.String("experiment_id", cp.ID),
		zap.Int("parameters", len(cp.Parameters)),
		zap.Int("objectives", len(cp.Objectives)),
	)
	return nil
}

// NewTrial appends a created trial bound to params.
func (e *Engine) NewTrial(ctx context.Context, params optimization.Assignment) (optimization.Trial, error) {
	const op = "Engine.NewTrial"

	if e.spec == nil {
		return optimization.Trial{}, engineErr(op, "no experiment has been created")
	}
	if len(params) != len(e.spec.Parameters) {
		return optimization.Trial{}, engineErr(op, "trial has %d parameters, experiment declares %d", len(params), len(e.spec.Parameters))
	}
	for _, p := range e.spec.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return optimization.Trial{}, engineErr(op, "trial is missing parameter %q", p.Name)
		}
		if !finite(v) {
			return optimization.Trial{}, engineErr(op, "parameter %q is not finite: %v", p.Name, v)
		}
		if v < p.Lower || v > p.Upper {
			e.logger.Warn("Trial parameter outside declared bounds",
				zap.Int("trial", len(e.trials)),
				zap.String("parameter", p.Name),
				zap.Float64("value", v),
				zap.Float64("lower", p.Lower),
				zap.Float64("upper", p.Upper),
			)
		}
	}

	trial := optimization.Trial{
		Index:      len(e.trials),
		Status:     optimization.StatusCreated,
		Parameters: params.Clone(),
	}
	if err := e.record(ctx, op, trial); err != nil {
		return optimization.Trial{}, err
	}
	e.trials = append(e.trials, trial)
	return trial.Clone(), nil
}

// MarkRunning moves a created trial to running. The engine has no runner, so
// only trials whose outcome is already known may be started.
func (e *Engine) MarkRunning(ctx context.Context, index int, opts optimization.RunOptions) error {
	const op = "Engine.MarkRunning"

	trial, err := e.trial(op, index)
	if err != nil {
		return err
	}
	if !opts.NoRunnerRequired {
		return engineErr(op, "trial %d: engine has no runner; start it with NoRunnerRequired", index)
	}
	next, err := trial.Advance(optimization.StatusRunning)
	if err != nil {
		return errors.Wrap(errors.KindOptimizer, err, "cannot start trial").WithOperation(op)
	}
	if err := e.record(ctx, op, next); err != nil {
		return err
	}
	e.trials[index] = next
	return nil
}

// CompleteTrial moves a running trial to completed with one finite
// measurement per objective.
func (e *Engine) CompleteTrial(ctx context.Context, index int, measurements optimization.Assignment) error {
	const op = "Engine.CompleteTrial"

	trial, err := e.trial(op, index)
	if err != nil {
		return err
	}
	for _, o := range e.spec.Objectives {
		v, ok := measurements[o.Name]
		if !ok {
			return engineErr(op, "trial %d is missing objective %q", index, o.Name)
		}
		if !finite(v) {
			return engineErr(op, "trial %d: objective %q is not finite: %v", index, o.Name, v)
		}
	}
	next, err := trial.Advance(optimization.StatusCompleted)
	if err != nil {
		return errors.Wrap(errors.KindOptimizer, err, "cannot complete trial").WithOperation(op)
	}
	next.Measurements = measurements.Clone()
	if err := e.record(ctx, op, next); err != nil {
		return err
	}
	e.trials[index] = next
	return nil
}

// Trials returns a copy of the ledger in index order.
func (e *Engine) Trials() []optimization.Trial {
	out := make([]optimization.Trial, len(e.trials))
	for i, t := range e.trials {
		out[i] = t.Clone()
	}
	return out
}

// NextTrials proposes up to maxTrials candidates and appends them to the
// ledger with status candidate. The batch is shorter than requested when
// MaxParallelism caps it or when a proposal duplicates an existing trial.
func (e *Engine) NextTrials(ctx context.Context, maxTrials int) (candidates []optimization.Candidate, err error) {
	const op = "Engine.NextTrials"
	defer errors.Recover(errors.KindOptimizer, op, &err)

	if e.spec == nil {
		return nil, engineErr(op, "no experiment has been created")
	}
	if maxTrials < 1 {
		return nil, engineErr(op, "max trials must be at least 1, got %d", maxTrials)
	}

	n := maxTrials
	if e.opts.MaxParallelism > 0 && n > e.opts.MaxParallelism {
		e.logger.Warn("Batch capped by max parallelism",
			zap.Int("requested", maxTrials),
			zap.Int("max_parallelism", e.opts.MaxParallelism),
		)
		n = e.opts.MaxParallelism
	}

	observed := e.completed()

	var points [][]float64
	if len(observed) < e.opts.MinObservations {
		e.logger.Debug("Too few observations for the model, using Latin hypercube design",
			zap.Int("completed", len(observed)),
			zap.Int("min_observations", e.opts.MinObservations),
		)
		points = latinHypercube(e.rng, n, len(e.spec.Parameters))
	} else {
		points, err = e.propose(ctx, observed, n)
		if err != nil {
			return nil, err
		}
	}

	existing := e.unitPoints(e.trials)
	for _, u := range points {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindOptimizer, err, "suggestion cancelled").WithOperation(op)
		}
		if isDuplicate(u, existing) {
			e.logger.Warn("Dropping duplicate candidate", zap.Float64s("point", u))
			continue
		}
		existing = append(existing, u)

		trial := optimization.Trial{
			Index:      len(e.trials),
			Status:     optimization.StatusCandidate,
			Parameters: e.fromUnit(u),
		}
		if err := e.record(ctx, op, trial); err != nil {
			return nil, err
		}
		e.trials = append(e.trials, trial)
		candidates = append(candidates, optimization.Candidate{
			Index:      trial.Index,
			Parameters: trial.Parameters.Clone(),
		})
	}

	e.logger.Debug("Generated candidates",
		zap.Int("requested", maxTrials),
		zap.Int("returned", len(candidates)),
	)
	return candidates, nil
}

func (e *Engine) trial(op string, index int) (optimization.Trial, error) {
	if e.spec == nil {
		return optimization.Trial{}, engineErr(op, "no experiment has been created")
	}
	if index < 0 || index >= len(e.trials) {
		return optimization.Trial{}, engineErr(op, "no trial with index %d", index)
	}
	return e.trials[index], nil
}

// record forwards a trial snapshot to the journal, if any.
func (e *Engine) record(ctx context.Context, op string, trial optimization.Trial) error {
	if e.journal == nil {
		return nil
	}
	if err := e.journal.Record(ctx, e.spec.ID, trial.Clone()); err != nil {
		return errors.Wrapf(errors.KindOptimizer, err, "journal trial %d", trial.Index).WithOperation(op)
	}
	return nil
}

// completed returns the completed trials in index order.
func (e *Engine) completed() []optimization.Trial {
	var out []optimization.Trial
	for _, t := range e.trials {
		if t.Status == optimization.StatusCompleted {
			out = append(out, t)
		}
	}
	return out
}

// toUnit maps an assignment onto the unit cube in parameter order.
func (e *Engine) toUnit(a optimization.Assignment) []float64 {
	u := make([]float64, len(e.spec.Parameters))
	for i, p := range e.spec.Parameters {
		u[i] = (a[p.Name] - p.Lower) / (p.Upper - p.Lower)
	}
	return u
}

// fromUnit maps a unit-cube point back to an in-bounds assignment.
func (e *Engine) fromUnit(u []float64) optimization.Assignment {
	a := make(optimization.Assignment, len(u))
	for i, p := range e.spec.Parameters {
		v := p.Lower + clamp01(u[i])*(p.Upper-p.Lower)
		a[p.Name] = math.Max(p.Lower, math.Min(v, p.Upper))
	}
	return a
}

func (e *Engine) unitPoints(trials []optimization.Trial) [][]float64 {
	out := make([][]float64, len(trials))
	for i, t := range trials {
		out[i] = e.toUnit(t.Parameters)
	}
	return out
}

const duplicateTolerance = 1e-6

func isDuplicate(u []float64, existing [][]float64) bool {
	for _, x := range existing {
		same := true
		for i := range u {
			if math.Abs(u[i]-x[i]) > duplicateTolerance {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(v, 1))
}
