// Package optimizationtest provides a recording optimization.Engine for tests.
package optimizationtest

import (
	"context"
	"fmt"

	"github.com/copyleftdev/paramgen/internal/optimization"
)

// Call is one recorded engine call.
type Call struct {
	Method  string
	Index   int
	Values  optimization.Assignment
	Options optimization.RunOptions
	Batch   int
}

// Engine records every call and replies from its fields. It enforces the
// trial lifecycle so tests can assert on ordering.
type Engine struct {
	Calls []Call
	Spec  *optimization.ExperimentSpec

	// Candidates is returned by NextTrials, truncated to maxTrials unless
	// Overfill is set.
	Candidates []optimization.Candidate
	Overfill   bool

	// FailOn makes the named method fail. FailAt restricts trial methods to
	// one trial index; -1 fails every call.
	FailOn string
	FailAt int

	// IndexOffset shifts the indices assigned by NewTrial.
	IndexOffset int

	trials []optimization.Trial
}

var _ optimization.Engine = (*Engine)(nil)

// NewEngine returns a stub that fails nothing.
func NewEngine() *Engine {
	return &Engine{FailAt: -1}
}

func (e *Engine) fail(method string, index int) error {
	if e.FailOn == method && (e.FailAt < 0 || e.FailAt == index) {
		return fmt.Errorf("stub: %s failed", method)
	}
	return nil
}

// CreateExperiment records the declaration.
func (e *Engine) CreateExperiment(_ context.Context, spec optimization.ExperimentSpec) error {
	e.Calls = append(e.Calls, Call{Method: "CreateExperiment"})
	if err := e.fail("CreateExperiment", -1); err != nil {
		return err
	}
	e.Spec = &spec
	return nil
}

// NewTrial appends a created trial.
func (e *Engine) NewTrial(_ context.Context, params optimization.Assignment) (optimization.Trial, error) {
	index := len(e.trials) + e.IndexOffset
	e.Calls = append(e.Calls, Call{Method: "NewTrial", Index: index, Values: params.Clone()})
	if err := e.fail("NewTrial", index); err != nil {
		return optimization.Trial{}, err
	}
	t := optimization.Trial{Index: index, Status: optimization.StatusCreated, Parameters: params.Clone()}
	e.trials = append(e.trials, t)
	return t, nil
}

// MarkRunning advances a trial to running.
func (e *Engine) MarkRunning(_ context.Context, index int, opts optimization.RunOptions) error {
	e.Calls = append(e.Calls, Call{Method: "MarkRunning", Index: index, Options: opts})
	if err := e.fail("MarkRunning", index); err != nil {
		return err
	}
	return e.advance(index, optimization.StatusRunning, nil)
}

// CompleteTrial advances a trial to completed.
func (e *Engine) CompleteTrial(_ context.Context, index int, measurements optimization.Assignment) error {
	e.Calls = append(e.Calls, Call{Method: "CompleteTrial", Index: index, Values: measurements.Clone()})
	if err := e.fail("CompleteTrial", index); err != nil {
		return err
	}
	return e.advance(index, optimization.StatusCompleted, measurements)
}

func (e *Engine) advance(index int, next optimization.Status, measurements optimization.Assignment) error {
	pos := index - e.IndexOffset
	if pos < 0 || pos >= len(e.trials) {
		return fmt.Errorf("stub: no trial %d", index)
	}
	t, err := e.trials[pos].Advance(next)
	if err != nil {
		return err
	}
	if measurements != nil {
		t.Measurements = measurements.Clone()
	}
	e.trials[pos] = t
	return nil
}

// NextTrials returns the configured candidates.
func (e *Engine) NextTrials(_ context.Context, maxTrials int) ([]optimization.Candidate, error) {
	e.Calls = append(e.Calls, Call{Method: "NextTrials", Batch: maxTrials})
	if err := e.fail("NextTrials", -1); err != nil {
		return nil, err
	}
	out := e.Candidates
	if !e.Overfill && len(out) > maxTrials {
		out = out[:maxTrials]
	}
	return append([]optimization.Candidate(nil), out...), nil
}

// Trials returns the recorded trials.
func (e *Engine) Trials() []optimization.Trial {
	out := make([]optimization.Trial, len(e.trials))
	for i, t := range e.trials {
		out[i] = t.Clone()
	}
	return out
}

// Methods lists the recorded method names in call order.
func (e *Engine) Methods() []string {
	out := make([]string, len(e.Calls))
	for i, c := range e.Calls {
		out[i] = c.Method
	}
	return out
}
