package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRBFKernel(t *testing.T) {
	tests := []struct {
		name     string
		x1       []float64
		x2       []float64
		ls       []float64
		sv       float64
		expected float64
	}{
		{
			name:     "same point",
			x1:       []float64{1.0, 2.0},
			x2:       []float64{1.0, 2.0},
			ls:       []float64{1.0},
			sv:       1.0,
			expected: 1.0,
		},
		{
			name:     "different points",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 1.0},
			ls:       []float64{1.0},
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (1+1) / 1^2)
		},
		{
			name:     "with different length scale",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{2.0, 2.0},
			ls:       []float64{2.0},
			sv:       1.0,
			expected: math.Exp(-1.0), // exp(-0.5 * (2^2 + 2^2) / 2^2)
		},
		{
			name:     "per dimension length scales",
			x1:       []float64{0.0, 0.0},
			x2:       []float64{1.0, 2.0},
			ls:       []float64{1.0, 2.0},
			sv:       2.0,
			expected: 2.0 * math.Exp(-1.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := NewRBFKernel(tt.ls, tt.sv)
			require.NoError(t, err)

			result := kernel.Eval(tt.x1, tt.x2)
			assert.InDelta(t, tt.expected, result, 1e-10)
			assert.InDelta(t, result, kernel.Eval(tt.x2, tt.x1), 1e-10, "kernel is not symmetric")
		})
	}
}

func TestMatern52Kernel(t *testing.T) {
	kernel, err := NewMatern52Kernel([]float64{1.0}, 1.5)
	require.NoError(t, err)

	assert.InDelta(t, 1.5, kernel.Eval([]float64{0.3}, []float64{0.3}), 1e-12)

	// r = 1: (1 + sqrt5 + 5/3) * exp(-sqrt5)
	want := 1.5 * (1 + math.Sqrt(5) + 5.0/3.0) * math.Exp(-math.Sqrt(5))
	assert.InDelta(t, want, kernel.Eval([]float64{0}, []float64{1}), 1e-12)

	// decreasing with distance
	near := kernel.Eval([]float64{0, 0}, []float64{0.1, 0.1})
	far := kernel.Eval([]float64{0, 0}, []float64{0.9, 0.9})
	assert.Greater(t, near, far)
}

func TestKernelValidation(t *testing.T) {
	_, err := NewRBFKernel(nil, 1)
	assert.Error(t, err)
	_, err = NewRBFKernel([]float64{0}, 1)
	assert.Error(t, err)
	_, err = NewMatern52Kernel([]float64{1}, -1)
	assert.Error(t, err)
	_, err = NewMatern52Kernel([]float64{math.Inf(1)}, 1)
	assert.Error(t, err)
}

func TestHyperparameters(t *testing.T) {
	kernel, err := NewMatern52Kernel([]float64{0.2, 0.4}, 1.0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.4, 1.0}, kernel.Hyperparameters())

	require.NoError(t, kernel.SetHyperparameters([]float64{0.5, 0.6, 2.0}))
	assert.Equal(t, []float64{0.5, 0.6, 2.0}, kernel.Hyperparameters())

	assert.Error(t, kernel.SetHyperparameters([]float64{1, 2}))
	assert.Error(t, kernel.SetHyperparameters([]float64{-1, 2, 3}))
	assert.Equal(t, []float64{0.5, 0.6, 2.0}, kernel.Hyperparameters(), "failed update must not change the kernel")
}

func TestNew(t *testing.T) {
	k, err := New("", []float64{1}, 1)
	require.NoError(t, err)
	assert.IsType(t, &Matern52Kernel{}, k)

	k, err = New("rbf", []float64{1}, 1)
	require.NoError(t, err)
	assert.IsType(t, &RBFKernel{}, k)

	k, err = New("periodic", []float64{1}, 1)
	assert.Error(t, err)
	assert.Nil(t, k)
}
