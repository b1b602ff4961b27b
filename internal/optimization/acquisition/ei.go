package acquisition

import (
	"gonum.org/v1/gonum/stat/distuv"
)

// ExpectedImprovement implements the Expected Improvement acquisition function
type ExpectedImprovement struct {
	// Best observed value so far
	bestObserved float64
	// Exploration-exploitation trade-off parameter (xi)
	xi float64
	// Whether we're minimizing (true) or maximizing (false)
	minimize bool
}

// NewExpectedImprovement creates an Expected Improvement acquisition function
// for the given direction.
func NewExpectedImprovement(bestObserved, xi float64, minimize bool) *ExpectedImprovement {
	return &ExpectedImprovement{
		bestObserved: bestObserved,
		xi:           xi,
		minimize:     minimize,
	}
}

// Compute returns the expected improvement over the best observation of a
// Gaussian prediction with mean mu and standard deviation sigma. The result
// is never negative.
func (ei *ExpectedImprovement) Compute(mu, sigma float64) float64 {
	improvement := mu - ei.bestObserved - ei.xi
	if ei.minimize {
		improvement = ei.bestObserved - mu - ei.xi
	}

	// A certain prediction improves by exactly its margin.
	if sigma <= 1e-10 {
		if improvement > 0 {
			return improvement
		}
		return 0
	}

	z := improvement / sigma
	value := improvement*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
	if value < 0 {
		return 0
	}
	return value
}

// UpdateBest updates the best observed value
func (ei *ExpectedImprovement) UpdateBest(best float64) {
	ei.bestObserved = best
}

// BestObserved returns the best observed value
func (ei *ExpectedImprovement) BestObserved() float64 {
	return ei.bestObserved
}

// Minimize reports the optimization direction.
func (ei *ExpectedImprovement) Minimize() bool {
	return ei.minimize
}
