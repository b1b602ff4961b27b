// Package ledger mirrors the optimization engine's trial ledger so a run can
// be inspected after the process exits.
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/copyleftdev/paramgen/internal/optimization"
)

// Event is one recorded trial state change.
type Event struct {
	ExperimentID string
	TrialIndex   int
	Status       optimization.Status
}

// Store is a Journal that can be read back.
type Store interface {
	optimization.Journal
	// List returns the latest snapshot of every trial of an experiment in
	// index order.
	List(ctx context.Context, experimentID string) ([]optimization.Trial, error)
	// Events returns the recorded state changes of an experiment in the
	// order they were recorded.
	Events(ctx context.Context, experimentID string) ([]Event, error)
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu     sync.Mutex
	trials map[string]map[int]optimization.Trial
	events []Event
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{trials: make(map[string]map[int]optimization.Trial)}
}

// Record stores a snapshot of trial.
func (m *Memory) Record(_ context.Context, experimentID string, trial optimization.Trial) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex, ok := m.trials[experimentID]
	if !ok {
		byIndex = make(map[int]optimization.Trial)
		m.trials[experimentID] = byIndex
	}
	byIndex[trial.Index] = trial.Clone()
	m.events = append(m.events, Event{
		ExperimentID: experimentID,
		TrialIndex:   trial.Index,
		Status:       trial.Status,
	})
	return nil
}

// List returns the trials of experimentID in index order.
func (m *Memory) List(_ context.Context, experimentID string) ([]optimization.Trial, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byIndex := m.trials[experimentID]
	out := make([]optimization.Trial, 0, len(byIndex))
	for _, t := range byIndex {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Events returns the state changes of experimentID in record order.
func (m *Memory) Events(_ context.Context, experimentID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.ExperimentID == experimentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Open returns a SQLite store for a non-empty dsn and a Memory store
// otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	if dsn == "" {
		return NewMemory(), nil
	}
	s, err := OpenSQLite(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}
