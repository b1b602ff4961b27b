// Package optimization defines the contract between the suggestion pipeline and
// the optimization engine, and the trial lifecycle both sides agree on.
package optimization

import "fmt"

// Status is a trial lifecycle state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCandidate Status = "candidate"
)

// Trial is one parameter assignment with its lifecycle state and, once
// completed, its objective measurements.
type Trial struct {
	Index        int
	Status       Status
	Parameters   Assignment
	Measurements Assignment
}

// Clone returns a deep copy of t.
func (t Trial) Clone() Trial {
	t.Parameters = t.Parameters.Clone()
	t.Measurements = t.Measurements.Clone()
	return t
}

// transitions lists the legal moves. Completed and candidate are terminal
// for the pipeline.
var transitions = map[Status]Status{
	StatusCreated: StatusRunning,
	StatusRunning: StatusCompleted,
}

// Advance checks that t may move to next and returns the updated trial.
func (t Trial) Advance(next Status) (Trial, error) {
	if want, ok := transitions[t.Status]; !ok || want != next {
		return t, fmt.Errorf("trial %d: illegal transition %s -> %s", t.Index, t.Status, next)
	}
	t.Status = next
	return t, nil
}
