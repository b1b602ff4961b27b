package bayesian

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/optimization"
	"github.com/copyleftdev/paramgen/internal/optimization/acquisition"
	"github.com/copyleftdev/paramgen/internal/optimization/kernels"
)

// rho weights the augmentation term of the Chebyshev scalarization.
const rho = 0.05

func newKernel(opts Options) (kernels.Kernel, error) {
	k, err := kernels.New(opts.Kernel, []float64{opts.LengthScale}, 1.0)
	if err != nil {
		return nil, errors.Wrap(errors.KindOptimizer, err, "invalid kernel").
			WithComponent(engineComponent).WithOperation("newKernel")
	}
	return k, nil
}

// propose returns n unit-cube points chosen by Expected Improvement on a
// fresh random scalarization per point. Points already chosen for the batch
// enter the model as fantasies observed at their predicted mean.
func (e *Engine) propose(ctx context.Context, observed []optimization.Trial, n int) ([][]float64, error) {
	const op = "Engine.propose"

	X := e.unitPoints(observed)
	costs := e.normalizedCosts(observed)

	ei := acquisition.NewExpectedImprovement(0, e.opts.Xi, false)
	var batch [][]float64
	for len(batch) < n {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.KindOptimizer, err, "suggestion cancelled").WithOperation(op)
		}

		weights := simplexWeights(e.rng, len(e.spec.Objectives))
		y := standardize(scalarize(costs, weights))

		gp, err := e.fit(X, y)
		if err != nil {
			return nil, err
		}

		best := floats.Max(y)
		if len(batch) > 0 {
			// Kriging believer: condition on the pending points at their mean.
			fantasy := mat.NewDense(len(batch), len(e.spec.Parameters), nil)
			for i, u := range batch {
				fantasy.SetRow(i, u)
			}
			mean, _, err := gp.Predict(fantasy)
			if err != nil {
				return nil, err
			}
			fx := append(append([][]float64(nil), X...), batch...)
			fy := append(append([]float64(nil), y...), mean.RawVector().Data...)
			if gp, err = e.fit(fx, fy); err != nil {
				return nil, err
			}
			best = math.Max(best, floats.Max(mean.RawVector().Data))
		}

		ei.UpdateBest(best)
		next := e.maximizeAcquisition(gp, ei, X[floats.MaxIdx(y)])
		batch = append(batch, next)
	}
	return batch, nil
}

func (e *Engine) fit(X [][]float64, y []float64) (*GP, error) {
	kernel, err := newKernel(e.opts)
	if err != nil {
		return nil, err
	}
	dims := len(e.spec.Parameters)
	data := mat.NewDense(len(X), dims, nil)
	for i, row := range X {
		data.SetRow(i, row)
	}
	gp := NewGP(kernel, e.opts.NoiseVar, e.logger)
	if err := gp.Fit(data, mat.NewVecDense(len(y), append([]float64(nil), y...))); err != nil {
		return nil, err
	}
	return gp, nil
}

// normalizedCosts maps each objective onto [0, 1] with 0 the best observed
// value, respecting the objective's direction.
func (e *Engine) normalizedCosts(observed []optimization.Trial) [][]float64 {
	m := len(e.spec.Objectives)
	costs := make([][]float64, len(observed))
	for i := range costs {
		costs[i] = make([]float64, m)
	}

	column := make([]float64, len(observed))
	for j, o := range e.spec.Objectives {
		for i, t := range observed {
			v := t.Measurements[o.Name]
			if o.Minimize {
				v = -v
			}
			column[i] = v
		}
		hi, lo := floats.Max(column), floats.Min(column)
		span := hi - lo
		for i := range observed {
			if span > 0 {
				costs[i][j] = (hi - column[i]) / span
			}
		}
	}
	return costs
}

// scalarize applies the augmented Chebyshev scalarization and negates it so
// larger is better.
func scalarize(costs [][]float64, weights []float64) []float64 {
	out := make([]float64, len(costs))
	weighted := make([]float64, len(weights))
	for i, c := range costs {
		floats.MulTo(weighted, weights, c)
		out[i] = -(floats.Max(weighted) + rho*floats.Sum(weighted))
	}
	return out
}

// standardize rescales y to zero mean and unit variance. A constant y maps to
// zeros.
func standardize(y []float64) []float64 {
	mean, std := stat.MeanStdDev(y, nil)
	if !(std > 0) {
		std = 1
	}
	out := make([]float64, len(y))
	for i, v := range y {
		out[i] = (v - mean) / std
	}
	return out
}

// simplexWeights draws weights uniformly from the probability simplex.
func simplexWeights(rng *rand.Rand, m int) []float64 {
	w := make([]float64, m)
	for i := range w {
		w[i] = rng.ExpFloat64()
	}
	floats.Scale(1/floats.Sum(w), w)
	return w
}

// latinHypercube returns n stratified points in the unit cube.
func latinHypercube(rng *rand.Rand, n, dims int) [][]float64 {
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, dims)
	}

	strata := make([]float64, n)
	for i := 0; i < dims; i++ {
		for j := 0; j < n; j++ {
			strata[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			strata[k], strata[l] = strata[l], strata[k]
		})
		for j := 0; j < n; j++ {
			samples[j][i] = strata[j]
		}
	}
	return samples
}

// maximizeAcquisition finds the unit-cube point that maximizes the
// acquisition function, starting Nelder-Mead from the incumbent and from
// random points.
func (e *Engine) maximizeAcquisition(gp *GP, ei *acquisition.ExpectedImprovement, incumbent []float64) []float64 {
	nDims := len(e.spec.Parameters)

	point := mat.NewDense(1, nDims, nil)
	clamped := make([]float64, nDims)
	objective := func(x []float64) float64 {
		for i := range x {
			clamped[i] = clamp01(x[i])
		}
		point.SetRow(0, clamped)
		mu, sigmaSq, err := gp.Predict(point)
		if err != nil {
			return math.Inf(1)
		}
		// Negate because we're minimizing
		return -ei.Compute(mu.AtVec(0), math.Sqrt(sigmaSq.AtVec(0)))
	}

	nStarts := e.opts.Restarts
	if nStarts < 1 {
		nStarts = 5 + int(5*math.Sqrt(float64(nDims)))
	}
	// The incumbent goes last; ties keep the earlier start.
	starts := make([][]float64, nStarts)
	for i := 0; i < nStarts-1; i++ {
		starts[i] = make([]float64, nDims)
		for j := range starts[i] {
			starts[i][j] = e.rng.Float64()
		}
	}
	starts[nStarts-1] = append([]float64(nil), incumbent...)

	problem := optimize.Problem{Func: objective}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-6,
			Relative:   1e-6,
			Iterations: 100,
		},
		FuncEvaluations: 2000,
	}

	bestX := append([]float64(nil), starts[0]...)
	bestVal := math.Inf(1)
	for _, start := range starts {
		if v := objective(start); v < bestVal {
			bestVal = v
			copy(bestX, start)
		}

		method := &optimize.NelderMead{
			Reflection:  1.0,
			Expansion:   2.0,
			Contraction: 0.5,
			Shrink:      0.5,
			SimplexSize: 0.2,
		}
		result, err := optimize.Minimize(problem, start, settings, method)
		if err != nil && result == nil {
			e.logger.Debug("Acquisition search failed from start", zap.Error(err))
			continue
		}
		if result.F < bestVal {
			bestVal = result.F
			copy(bestX, result.X)
		}
	}

	for i := range bestX {
		bestX[i] = clamp01(bestX[i])
	}
	return bestX
}
