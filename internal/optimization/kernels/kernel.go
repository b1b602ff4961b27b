package kernels

import (
	"fmt"
	"math"
)

// Kernel is a covariance function over points of the unit cube.
type Kernel interface {
	// Eval computes the kernel value between two points x1 and x2
	Eval(x1, x2 []float64) float64

	// Hyperparameters returns the length scales followed by the signal variance.
	Hyperparameters() []float64

	// SetHyperparameters replaces the length scales and signal variance.
	SetHyperparameters(params []float64) error
}

// ard holds per-dimension length scales and a signal variance. A single
// length scale is broadcast to every dimension.
type ard struct {
	lengthScales []float64
	signalVar    float64
}

func newARD(lengthScales []float64, signalVar float64) (ard, error) {
	if len(lengthScales) == 0 {
		return ard{}, fmt.Errorf("at least one length scale is required")
	}
	for i, l := range lengthScales {
		if !(l > 0) || math.IsInf(l, 0) {
			return ard{}, fmt.Errorf("length scale %d must be positive and finite, got %v", i, l)
		}
	}
	if !(signalVar > 0) || math.IsInf(signalVar, 0) {
		return ard{}, fmt.Errorf("signal variance must be positive and finite, got %v", signalVar)
	}
	return ard{lengthScales: append([]float64(nil), lengthScales...), signalVar: signalVar}, nil
}

func (a *ard) scale(i int) float64 {
	if len(a.lengthScales) == 1 {
		return a.lengthScales[0]
	}
	return a.lengthScales[i]
}

// sqDist is the squared distance with each axis divided by its length scale.
func (a *ard) sqDist(x1, x2 []float64) float64 {
	sum := 0.0
	for i := range x1 {
		d := (x1[i] - x2[i]) / a.scale(i)
		sum += d * d
	}
	return sum
}

func (a *ard) hyperparameters() []float64 {
	return append(append([]float64(nil), a.lengthScales...), a.signalVar)
}

func (a *ard) set(params []float64) error {
	if len(params) != len(a.lengthScales)+1 {
		return fmt.Errorf("expected %d hyperparameters, got %d", len(a.lengthScales)+1, len(params))
	}
	next, err := newARD(params[:len(params)-1], params[len(params)-1])
	if err != nil {
		return err
	}
	*a = next
	return nil
}

// RBFKernel is the squared exponential kernel.
type RBFKernel struct {
	ard
}

// NewRBFKernel creates an RBF kernel. Pass one length scale for an isotropic
// kernel or one per dimension.
func NewRBFKernel(lengthScales []float64, signalVar float64) (*RBFKernel, error) {
	a, err := newARD(lengthScales, signalVar)
	if err != nil {
		return nil, err
	}
	return &RBFKernel{ard: a}, nil
}

// Eval computes the RBF kernel value between x1 and x2
func (k *RBFKernel) Eval(x1, x2 []float64) float64 {
	return k.signalVar * math.Exp(-0.5*k.sqDist(x1, x2))
}

// Hyperparameters returns the current hyperparameters
func (k *RBFKernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters sets the kernel's hyperparameters
func (k *RBFKernel) SetHyperparameters(params []float64) error { return k.set(params) }

// Matern52Kernel implements the Matérn 5/2 kernel, the engine default.
type Matern52Kernel struct {
	ard
}

// NewMatern52Kernel creates a Matérn 5/2 kernel.
func NewMatern52Kernel(lengthScales []float64, signalVar float64) (*Matern52Kernel, error) {
	a, err := newARD(lengthScales, signalVar)
	if err != nil {
		return nil, err
	}
	return &Matern52Kernel{ard: a}, nil
}

// Eval computes the Matérn 5/2 kernel value between x1 and x2
func (k *Matern52Kernel) Eval(x1, x2 []float64) float64 {
	r := math.Sqrt(5 * k.sqDist(x1, x2))
	return k.signalVar * (1 + r + r*r/3) * math.Exp(-r)
}

// Hyperparameters returns the current hyperparameters
func (k *Matern52Kernel) Hyperparameters() []float64 { return k.hyperparameters() }

// SetHyperparameters sets the kernel's hyperparameters
func (k *Matern52Kernel) SetHyperparameters(params []float64) error { return k.set(params) }

// New builds a kernel by name ("matern52" or "rbf").
func New(name string, lengthScales []float64, signalVar float64) (Kernel, error) {
	switch name {
	case "", "matern52":
		k, err := NewMatern52Kernel(lengthScales, signalVar)
		if err != nil {
			return nil, err
		}
		return k, nil
	case "rbf":
		k, err := NewRBFKernel(lengthScales, signalVar)
		if err != nil {
			return nil, err
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unknown kernel %q", name)
	}
}
