package suggest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/optimization"
	"github.com/copyleftdev/paramgen/internal/optimization/optimizationtest"
	"github.com/copyleftdev/paramgen/internal/replay"
	"github.com/copyleftdev/paramgen/internal/searchspace"
)

var replayed = &replay.Result{ExperimentID: "exp", Trials: []int{0, 1, 2}}

func mixingSpace(t *testing.T) *searchspace.SearchSpace {
	t.Helper()
	space, err := searchspace.Parse([]byte(`{
		"objective": {"name": "Yield", "name2": "Purity"},
		"parameters": [
			{"name": "Mix Ratio", "min": 0, "max": 1},
			{"name": "Temp C", "min": 20, "max": 100}
		]
	}`), searchspace.FormatJSON)
	require.NoError(t, err)
	return space
}

func candidates(n int) []optimization.Candidate {
	out := make([]optimization.Candidate, n)
	for i := range out {
		out[i] = optimization.Candidate{
			Index:      3 + i,
			Parameters: optimization.Assignment{"Mix_Ratio": 0.1 * float64(i+1), "Temp_C": 30 + float64(i)},
		}
	}
	return out
}

func TestSuggestBatchSizes(t *testing.T) {
	tests := []struct {
		name      string
		available int
		batchSize int
		want      int
	}{
		{"exact batch", 4, 4, 4},
		{"engine returns fewer", 2, 4, 2},
		{"engine returns none", 0, 3, 0},
		{"single", 5, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := optimizationtest.NewEngine()
			engine.Candidates = candidates(tt.available)

			batch, err := New(engine, mixingSpace(t), nil, nil).Suggest(context.Background(), replayed, tt.batchSize)
			require.NoError(t, err)
			assert.Len(t, batch, tt.want, "shortfall is propagated without padding")
			assert.Equal(t, []optimizationtest.Call{{Method: "NextTrials", Batch: tt.batchSize}}, engine.Calls)

			for i, c := range batch {
				assert.Equal(t, engine.Candidates[i], c, "candidates keep engine order")
			}
		})
	}
}

func TestSuggestErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(*optimizationtest.Engine)
		replayed  *replay.Result
		batchSize int
		kind      errors.Kind
		msg       string
	}{
		{
			name:      "batch size zero",
			replayed:  replayed,
			batchSize: 0,
			kind:      errors.KindConfig,
			msg:       "batch size must be at least 1",
		},
		{
			name:      "without replay",
			batchSize: 2,
			kind:      errors.KindOptimizer,
			msg:       "requires a successful replay",
		},
		{
			name:      "engine failure",
			setup:     func(e *optimizationtest.Engine) { e.FailOn = "NextTrials" },
			replayed:  replayed,
			batchSize: 2,
			kind:      errors.KindOptimizer,
			msg:       "could not generate candidates",
		},
		{
			name: "too many candidates",
			setup: func(e *optimizationtest.Engine) {
				e.Candidates = candidates(3)
				e.Overfill = true
			},
			replayed:  replayed,
			batchSize: 2,
			kind:      errors.KindOptimizer,
			msg:       "returned 3 candidates for a batch of 2",
		},
		{
			name: "out of bounds candidate",
			setup: func(e *optimizationtest.Engine) {
				e.Candidates = []optimization.Candidate{{Index: 3, Parameters: optimization.Assignment{"Mix_Ratio": 0.5, "Temp_C": 120}}}
			},
			replayed:  replayed,
			batchSize: 1,
			kind:      errors.KindOptimizer,
			msg:       "outside [20, 100]",
		},
		{
			name: "missing parameter",
			setup: func(e *optimizationtest.Engine) {
				e.Candidates = []optimization.Candidate{{Index: 3, Parameters: optimization.Assignment{"Mix_Ratio": 0.5, "Temp": 50}}}
			},
			replayed:  replayed,
			batchSize: 1,
			kind:      errors.KindOptimizer,
			msg:       "missing parameter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := optimizationtest.NewEngine()
			if tt.setup != nil {
				tt.setup(engine)
			}

			batch, err := New(engine, mixingSpace(t), nil, nil).Suggest(context.Background(), tt.replayed, tt.batchSize)
			require.Error(t, err)
			assert.Nil(t, batch)
			assert.Equal(t, tt.kind, errors.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSuggestOutOfBoundsNamesParameter(t *testing.T) {
	engine := optimizationtest.NewEngine()
	engine.Candidates = []optimization.Candidate{{Index: 0, Parameters: optimization.Assignment{"Mix_Ratio": -0.1, "Temp_C": 50}}}

	_, err := New(engine, mixingSpace(t), nil, nil).Suggest(context.Background(), replayed, 1)
	require.Error(t, err)

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "Mix Ratio", e.Field)
}
