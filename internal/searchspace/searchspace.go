// Package searchspace loads the declarative experiment document into a typed,
// immutable search space: bounded numeric parameters plus exactly two objectives.
package searchspace

import (
	"github.com/copyleftdev/paramgen/internal/naming"
)

// Parameter is one tunable numeric dimension.
type Parameter struct {
	// Name is the human-readable name from the config document.
	Name string
	// Token is the sanitized name used by the optimization engine.
	Token string
	Lower float64
	Upper float64
}

// Contains reports whether v lies within the parameter bounds.
func (p Parameter) Contains(v float64) bool {
	return v >= p.Lower && v <= p.Upper
}

// Objective is a measured outcome. Minimize is false unless the document or the
// caller asks otherwise: historical runs always maximized both objectives.
type Objective struct {
	Name     string
	Token    string
	Minimize bool
}

// Direction returns "minimize" or "maximize".
func (o Objective) Direction() string {
	if o.Minimize {
		return "minimize"
	}
	return "maximize"
}

// SearchSpace is the validated experiment declaration. It is read-only once
// Load or Parse returns.
type SearchSpace struct {
	parameters []Parameter
	objectives [2]Objective
	codec      *naming.Codec
}

// Parameters returns the parameters in declaration order.
func (s *SearchSpace) Parameters() []Parameter {
	return append([]Parameter(nil), s.parameters...)
}

// Objectives returns both objectives in declaration order.
func (s *SearchSpace) Objectives() []Objective {
	return []Objective{s.objectives[0], s.objectives[1]}
}

// Parameter looks up a parameter by token.
func (s *SearchSpace) Parameter(token string) (Parameter, bool) {
	for _, p := range s.parameters {
		if p.Token == token {
			return p, true
		}
	}
	return Parameter{}, false
}

// Codec returns the name table built while loading. Callers must not register
// further names on it.
func (s *SearchSpace) Codec() *naming.Codec {
	return s.codec
}

// Bounds returns the [lower, upper] pairs in parameter order.
func (s *SearchSpace) Bounds() [][2]float64 {
	bounds := make([][2]float64, len(s.parameters))
	for i, p := range s.parameters {
		bounds[i] = [2]float64{p.Lower, p.Upper}
	}
	return bounds
}
