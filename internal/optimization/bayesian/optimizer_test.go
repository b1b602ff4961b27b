package bayesian

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/optimization"
)

func twoObjectiveSpec() optimization.ExperimentSpec {
	return optimization.ExperimentSpec{
		ID:   "exp-1",
		Name: "test",
		Parameters: []optimization.ParameterSpec{
			{Name: "x1", Lower: 0, Upper: 1},
			{Name: "x2", Lower: 0, Upper: 10},
		},
		Objectives: []optimization.ObjectiveSpec{
			{Name: "f1"},
			{Name: "f2"},
		},
	}
}

func completeTrial(tb testing.TB, e *Engine, params, outcome optimization.Assignment) optimization.Trial {
	tb.Helper()
	ctx := context.Background()
	trial, err := e.NewTrial(ctx, params)
	require.NoError(tb, err)
	require.NoError(tb, e.MarkRunning(ctx, trial.Index, optimization.RunOptions{NoRunnerRequired: true}))
	require.NoError(tb, e.CompleteTrial(ctx, trial.Index, outcome))
	return trial
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	e, err := NewEngine(opts)
	require.NoError(t, err)
	require.NoError(t, e.CreateExperiment(context.Background(), twoObjectiveSpec()))
	return e
}

// recordingJournal keeps every snapshot it receives
type recordingJournal struct {
	entries []optimization.Trial
	fail    error
}

func (j *recordingJournal) Record(_ context.Context, experimentID string, trial optimization.Trial) error {
	if j.fail != nil {
		return j.fail
	}
	if experimentID != "exp-1" {
		return fmt.Errorf("unexpected experiment %q", experimentID)
	}
	j.entries = append(j.entries, trial)
	return nil
}

func TestNewEngine(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{}},
		{name: "rbf kernel", opts: Options{Kernel: "rbf", LengthScale: 0.5}},
		{name: "negative xi", opts: Options{Xi: -1}, wantErr: true},
		{name: "negative noise", opts: Options{NoiseVar: -1}, wantErr: true},
		{name: "negative length scale", opts: Options{LengthScale: -0.1}, wantErr: true},
		{name: "negative parallelism", opts: Options{MaxParallelism: -1}, wantErr: true},
		{name: "unknown kernel", opts: Options{Kernel: "periodic"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindOptimizer))
				return
			}
			require.NoError(t, err)
			require.NotNil(t, e.rng)
			assert.Equal(t, 2, e.opts.MinObservations)
			assert.Equal(t, 0.01, e.opts.Xi)
		})
	}
}

func TestCreateExperiment(t *testing.T) {
	valid := twoObjectiveSpec()

	tests := []struct {
		name   string
		mutate func(*optimization.ExperimentSpec)
		msg    string
	}{
		{"no parameters", func(s *optimization.ExperimentSpec) { s.Parameters = nil }, "at least one parameter"},
		{"no objectives", func(s *optimization.ExperimentSpec) { s.Objectives = nil }, "at least one objective"},
		{"inverted bounds", func(s *optimization.ExperimentSpec) {
			s.Parameters = []optimization.ParameterSpec{{Name: "x", Lower: 1, Upper: 0}}
		}, "invalid bounds"},
		{"name clash", func(s *optimization.ExperimentSpec) {
			s.Objectives = []optimization.ObjectiveSpec{{Name: "x1"}}
		}, "duplicated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			spec.Parameters = append([]optimization.ParameterSpec(nil), valid.Parameters...)
			spec.Objectives = append([]optimization.ObjectiveSpec(nil), valid.Objectives...)
			tt.mutate(&spec)

			e, err := NewEngine(Options{Seed: 1})
			require.NoError(t, err)
			err = e.CreateExperiment(context.Background(), spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("only once", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		err := e.CreateExperiment(context.Background(), valid)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already created")
	})
}

func TestTrialLifecycle(t *testing.T) {
	ctx := context.Background()
	journal := &recordingJournal{}
	e := newTestEngine(t, Options{Journal: journal})

	for i := 0; i < 3; i++ {
		trial := completeTrial(t, e,
			optimization.Assignment{"x1": 0.1 * float64(i), "x2": float64(i)},
			optimization.Assignment{"f1": float64(i), "f2": 1})
		assert.Equal(t, i, trial.Index, "indices are assigned sequentially")
		assert.Equal(t, optimization.StatusCreated, trial.Status)
	}

	trials := e.Trials()
	require.Len(t, trials, 3)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Index)
		assert.Equal(t, optimization.StatusCompleted, tr.Status)
		assert.Equal(t, float64(i), tr.Measurements["f1"])
	}

	// Every transition reached the journal in order.
	require.Len(t, journal.entries, 9)
	assert.Equal(t, optimization.StatusCreated, journal.entries[0].Status)
	assert.Equal(t, optimization.StatusRunning, journal.entries[1].Status)
	assert.Equal(t, optimization.StatusCompleted, journal.entries[2].Status)

	// Snapshots are copies.
	trials[0].Parameters["x1"] = 99
	assert.Equal(t, 0.0, e.Trials()[0].Parameters["x1"])

	t.Run("completed trial cannot restart", func(t *testing.T) {
		err := e.MarkRunning(ctx, 0, optimization.RunOptions{NoRunnerRequired: true})
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindOptimizer))
		assert.Contains(t, err.Error(), "illegal transition")
	})

	t.Run("runner required", func(t *testing.T) {
		trial, err := e.NewTrial(ctx, optimization.Assignment{"x1": 0.5, "x2": 5})
		require.NoError(t, err)
		err = e.MarkRunning(ctx, trial.Index, optimization.RunOptions{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no runner")
	})

	t.Run("complete before running", func(t *testing.T) {
		trial, err := e.NewTrial(ctx, optimization.Assignment{"x1": 0.5, "x2": 5})
		require.NoError(t, err)
		err = e.CompleteTrial(ctx, trial.Index, optimization.Assignment{"f1": 1, "f2": 2})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "illegal transition")
	})

	t.Run("unknown index", func(t *testing.T) {
		err := e.MarkRunning(ctx, 42, optimization.RunOptions{NoRunnerRequired: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no trial with index 42")
	})
}

func TestNewTrialValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("before experiment", func(t *testing.T) {
		e, err := NewEngine(Options{Seed: 1})
		require.NoError(t, err)
		_, err = e.NewTrial(ctx, optimization.Assignment{"x1": 0})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no experiment")
	})

	tests := []struct {
		name   string
		params optimization.Assignment
		msg    string
	}{
		{"missing parameter", optimization.Assignment{"x1": 0, "x3": 1}, `missing parameter "x2"`},
		{"wrong count", optimization.Assignment{"x1": 0}, "trial has 1 parameters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, Options{})
			_, err := e.NewTrial(ctx, tt.params)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	t.Run("out of bounds is accepted with a warning", func(t *testing.T) {
		core, logs := observer.New(zap.WarnLevel)
		e := newTestEngine(t, Options{Logger: zap.New(core)})
		_, err := e.NewTrial(ctx, optimization.Assignment{"x1": 2, "x2": 5})
		require.NoError(t, err)
		assert.Equal(t, 1, logs.FilterMessage("Trial parameter outside declared bounds").Len())
	})

	t.Run("missing measurement", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		trial, err := e.NewTrial(ctx, optimization.Assignment{"x1": 0, "x2": 0})
		require.NoError(t, err)
		require.NoError(t, e.MarkRunning(ctx, trial.Index, optimization.RunOptions{NoRunnerRequired: true}))
		err = e.CompleteTrial(ctx, trial.Index, optimization.Assignment{"f1": 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `missing objective "f2"`)
	})
}

func assertInBounds(t *testing.T, spec optimization.ExperimentSpec, candidates []optimization.Candidate) {
	t.Helper()
	for _, c := range candidates {
		for _, p := range spec.Parameters {
			v, ok := c.Parameters[p.Name]
			require.True(t, ok, "candidate %d lacks %s", c.Index, p.Name)
			assert.GreaterOrEqual(t, v, p.Lower)
			assert.LessOrEqual(t, v, p.Upper)
		}
	}
}

func TestNextTrialsWithoutHistoryUsesLatinHypercube(t *testing.T) {
	e := newTestEngine(t, Options{})

	candidates, err := e.NextTrials(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	assertInBounds(t, twoObjectiveSpec(), candidates)

	// One point per quarter along each axis.
	strata := map[int]bool{}
	for i, c := range candidates {
		assert.Equal(t, i, c.Index)
		strata[int(c.Parameters["x1"]*4)] = true
	}
	assert.Len(t, strata, 4)

	for _, tr := range e.Trials() {
		assert.Equal(t, optimization.StatusCandidate, tr.Status)
	}
}

func TestNextTrialsModelBased(t *testing.T) {
	e := newTestEngine(t, Options{})
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 8; i++ {
		x1, x2 := rng.Float64(), rng.Float64()*10
		completeTrial(t, e,
			optimization.Assignment{"x1": x1, "x2": x2},
			optimization.Assignment{"f1": -(x1 - 0.3) * (x1 - 0.3), "f2": -(x2 - 7) * (x2 - 7)})
	}

	candidates, err := e.NextTrials(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	assertInBounds(t, twoObjectiveSpec(), candidates)

	for i, c := range candidates {
		assert.Equal(t, 8+i, c.Index, "candidates are numbered after the history")
	}
	require.Len(t, e.Trials(), 12)
}

func TestNextTrialsMaxParallelism(t *testing.T) {
	e := newTestEngine(t, Options{MaxParallelism: 2})
	completeTrial(t, e, optimization.Assignment{"x1": 0.2, "x2": 2}, optimization.Assignment{"f1": 1, "f2": 0})
	completeTrial(t, e, optimization.Assignment{"x1": 0.8, "x2": 8}, optimization.Assignment{"f1": 0, "f2": 1})

	candidates, err := e.NextTrials(context.Background(), 5)
	require.NoError(t, err)
	assert.Len(t, candidates, 2, "shortfall is returned, not padded")
}

func TestNextTrialsIsReproducible(t *testing.T) {
	run := func() []optimization.Candidate {
		e := newTestEngine(t, Options{Seed: 11})
		completeTrial(t, e, optimization.Assignment{"x1": 0.1, "x2": 1}, optimization.Assignment{"f1": 1, "f2": 3})
		completeTrial(t, e, optimization.Assignment{"x1": 0.5, "x2": 4}, optimization.Assignment{"f1": 2, "f2": 2})
		completeTrial(t, e, optimization.Assignment{"x1": 0.9, "x2": 9}, optimization.Assignment{"f1": 3, "f2": 1})
		c, err := e.NextTrials(context.Background(), 3)
		require.NoError(t, err)
		return c
	}
	assert.Equal(t, run(), run())
}

func TestNextTrialsErrors(t *testing.T) {
	t.Run("batch below one", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		_, err := e.NextTrials(context.Background(), 0)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindOptimizer))
	})

	t.Run("cancelled context", func(t *testing.T) {
		e := newTestEngine(t, Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := e.NextTrials(ctx, 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("journal failure", func(t *testing.T) {
		journal := &recordingJournal{}
		e := newTestEngine(t, Options{Journal: journal})
		journal.fail = fmt.Errorf("disk full")
		_, err := e.NextTrials(context.Background(), 2)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindOptimizer))
		assert.Contains(t, err.Error(), "disk full")
		assert.Empty(t, e.Trials())
	})
}

func TestNormalizedCostsRespectDirection(t *testing.T) {
	e := newTestEngine(t, Options{})
	e.spec.Objectives[1].Minimize = true

	observed := []optimization.Trial{
		{Measurements: optimization.Assignment{"f1": 10, "f2": 10}},
		{Measurements: optimization.Assignment{"f1": 0, "f2": 0}},
	}
	costs := e.normalizedCosts(observed)

	// f1 is maximized: 10 is best. f2 is minimized: 0 is best.
	assert.Equal(t, [][]float64{{0, 1}, {1, 0}}, costs)
}

func TestScalarize(t *testing.T) {
	costs := [][]float64{{0, 0}, {1, 0}, {0.5, 0.5}}
	s := scalarize(costs, []float64{0.5, 0.5})

	assert.InDelta(t, 0, s[0], 1e-12)
	assert.InDelta(t, -(0.5 + 0.05*0.5), s[1], 1e-12)
	assert.InDelta(t, -(0.25 + 0.05*0.5), s[2], 1e-12)
}

func TestLatinHypercube(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := latinHypercube(rng, 5, 3)
	require.Len(t, points, 5)

	for dim := 0; dim < 3; dim++ {
		seen := map[int]bool{}
		for _, p := range points {
			require.Len(t, p, 3)
			assert.GreaterOrEqual(t, p[dim], 0.0)
			assert.Less(t, p[dim], 1.0)
			seen[int(p[dim]*5)] = true
		}
		assert.Len(t, seen, 5, "dimension %d must hit every stratum", dim)
	}
}

func TestIsDuplicate(t *testing.T) {
	existing := [][]float64{{0.1, 0.2}, {0.5, 0.5}}
	assert.True(t, isDuplicate([]float64{0.5, 0.5 + 1e-9}, existing))
	assert.False(t, isDuplicate([]float64{0.5, 0.51}, existing))
	assert.False(t, isDuplicate([]float64{0.5, 0.5}, nil))
}

func TestSimplexWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 10; i++ {
		w := simplexWeights(rng, 2)
		assert.InDelta(t, 1, w[0]+w[1], 1e-12)
		assert.GreaterOrEqual(t, w[0], 0.0)
	}
}
