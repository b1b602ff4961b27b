package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/optimization"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	memoryDSN          = ":memory:"
)

// SQLite is a Store backed by a SQLite database.
type SQLite struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
}

var _ Store = (*SQLite)(nil)

// Option configures a SQLite store.
type Option func(*SQLite)

// WithBusyTimeout sets how long a writer waits for a locked database.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *SQLite) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

// WithWAL toggles write-ahead logging.
func WithWAL(enabled bool) Option {
	return func(s *SQLite) {
		s.enableWAL = enabled
	}
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLite, error) {
	const op = "ledger.OpenSQLite"

	if strings.TrimSpace(path) == "" {
		return nil, ioErr(op, "sqlite path is required", nil)
	}

	s := &SQLite{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
	}
	for _, opt := range opts {
		opt(s)
	}

	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, ioErr(op, "failed to create sqlite directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioErr(op, "failed to open sqlite db", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func ioErr(op, msg string, err error) *errors.Error {
	e := errors.New(errors.KindIO, msg).WithComponent("ledger").WithOperation(op)
	if err != nil {
		e = e.WithCause(err)
	}
	return e
}

func (s *SQLite) initialize(ctx context.Context) error {
	const op = "ledger.initialize"

	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return ioErr(op, "failed to set busy_timeout", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return ioErr(op, "failed to enable wal", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return ioErr(op, "failed to initialize schema", err)
	}
	return nil
}

// Record upserts the trial snapshot and appends a state-change event.
func (s *SQLite) Record(ctx context.Context, experimentID string, trial optimization.Trial) error {
	const op = "ledger.Record"

	if experimentID == "" {
		return ioErr(op, "experiment_id is required", nil)
	}

	paramsRaw, err := json.Marshal(trial.Parameters)
	if err != nil {
		return ioErr(op, "failed to marshal parameters", err)
	}
	var measurements interface{}
	if trial.Measurements != nil {
		raw, err := json.Marshal(trial.Measurements)
		if err != nil {
			return ioErr(op, "failed to marshal measurements", err)
		}
		measurements = string(raw)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioErr(op, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
INSERT INTO trials (
  experiment_id, trial_index, status, parameters, measurements, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(experiment_id, trial_index) DO UPDATE SET
  status=excluded.status,
  parameters=excluded.parameters,
  measurements=excluded.measurements,
  updated_at=excluded.updated_at;
`
	if _, err := tx.ExecContext(ctx, upsert,
		experimentID, trial.Index, string(trial.Status), string(paramsRaw), measurements, now, now,
	); err != nil {
		return ioErr(op, "failed to save trial", err)
	}

	const event = `
INSERT INTO trial_events (experiment_id, trial_index, status, recorded_at)
VALUES (?, ?, ?, ?);
`
	if _, err := tx.ExecContext(ctx, event, experimentID, trial.Index, string(trial.Status), now); err != nil {
		return ioErr(op, "failed to save trial event", err)
	}

	if err := tx.Commit(); err != nil {
		return ioErr(op, "failed to commit trial", err)
	}
	return nil
}

// List returns the trials of experimentID in index order.
func (s *SQLite) List(ctx context.Context, experimentID string) ([]optimization.Trial, error) {
	const op = "ledger.List"

	const q = `
SELECT trial_index, status, parameters, measurements
FROM trials
WHERE experiment_id = ?
ORDER BY trial_index ASC;
`
	rows, err := s.db.QueryContext(ctx, q, experimentID)
	if err != nil {
		return nil, ioErr(op, "failed to list trials", err)
	}
	defer rows.Close()

	var out []optimization.Trial
	for rows.Next() {
		var (
			trial        optimization.Trial
			status       string
			paramsRaw    string
			measurements sql.NullString
		)
		if err := rows.Scan(&trial.Index, &status, &paramsRaw, &measurements); err != nil {
			return nil, ioErr(op, "failed to scan trial", err)
		}
		trial.Status = optimization.Status(status)
		if err := json.Unmarshal([]byte(paramsRaw), &trial.Parameters); err != nil {
			return nil, ioErr(op, "failed to decode parameters", err)
		}
		if measurements.Valid {
			if err := json.Unmarshal([]byte(measurements.String), &trial.Measurements); err != nil {
				return nil, ioErr(op, "failed to decode measurements", err)
			}
		}
		out = append(out, trial)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(op, "failed to iterate trials", err)
	}
	return out, nil
}

// Events returns the state changes of experimentID in record order.
func (s *SQLite) Events(ctx context.Context, experimentID string) ([]Event, error) {
	const op = "ledger.Events"

	const q = `
SELECT trial_index, status
FROM trial_events
WHERE experiment_id = ?
ORDER BY id ASC;
`
	rows, err := s.db.QueryContext(ctx, q, experimentID)
	if err != nil {
		return nil, ioErr(op, "failed to list trial events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev := Event{ExperimentID: experimentID}
		var status string
		if err := rows.Scan(&ev.TrialIndex, &status); err != nil {
			return nil, ioErr(op, "failed to scan trial event", err)
		}
		ev.Status = optimization.Status(status)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr(op, "failed to iterate trial events", err)
	}
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
