// Package pipeline runs one parameter generation pass: load the search space
// and history, replay the history into a fresh engine, ask for a batch of
// candidates and write them out.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/history"
	"github.com/copyleftdev/paramgen/internal/ledger"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/metrics"
	"github.com/copyleftdev/paramgen/internal/optimization"
	"github.com/copyleftdev/paramgen/internal/optimization/bayesian"
	"github.com/copyleftdev/paramgen/internal/output"
	"github.com/copyleftdev/paramgen/internal/replay"
	"github.com/copyleftdev/paramgen/internal/searchspace"
	"github.com/copyleftdev/paramgen/internal/suggest"
)

// EngineFactory builds the engine for one run. The engine must mirror its
// trials to journal.
type EngineFactory func(journal optimization.Journal, logger *zap.Logger) (optimization.Engine, error)

// Options describes one run.
type Options struct {
	ConfigPath string
	DataPath   string
	BatchSize  int
	// Destination of the output document. Empty means outputs/parameters.json.
	Destination string
	// Minimize names objectives to minimize in addition to the document.
	Minimize []string

	// ExperimentID namespaces the run's trials. Empty generates a UUID.
	ExperimentID string
	// Engine configures the default engine. Ignored when NewEngine is set.
	Engine    bayesian.Options
	NewEngine EngineFactory
	// LedgerDSN opens a SQLite trial journal. Empty keeps it in memory.
	LedgerDSN string

	Logger *zap.Logger
	// OptimizerLogger receives engine warnings. Defaults to Logger.
	OptimizerLogger *zap.Logger
	Metrics         *metrics.Metrics
}

// Result describes a successful run.
type Result struct {
	ExperimentID string
	Destination  string
	Requested    int
	Suggestions  []output.Suggestion
	// Trials is the journal of the run in index order.
	Trials []optimization.Trial
}

// Run executes the pipeline. Every stage fails fast; on error no output file
// is written and the error carries its kind.
func Run(ctx context.Context, opts Options) (result *Result, err error) {
	start := time.Now()
	logger := logging.OrNop(opts.Logger)
	defer func() {
		opts.Metrics.RunFinished(err)
		if err != nil {
			logger.Error("Run failed",
				zap.String("kind", string(errors.KindOf(err))),
				zap.Error(err),
			)
		}
	}()

	if opts.BatchSize < 1 {
		return nil, errors.Errorf(errors.KindConfig, "batch size must be at least 1, got %d", opts.BatchSize).
			WithComponent("pipeline").WithOperation("Run").WithField("batch_size")
	}

	space, err := searchspace.Load(opts.ConfigPath, searchspace.WithMinimize(opts.Minimize...))
	if err != nil {
		return nil, err
	}
	table, err := history.Load(opts.DataPath, space)
	if err != nil {
		return nil, err
	}
	opts.Metrics.RowsLoaded(table.Len())
	logger.Info("Loaded inputs",
		zap.String("config", opts.ConfigPath),
		zap.String("data", opts.DataPath),
		zap.Int("parameters", len(space.Parameters())),
		zap.Int("rows", table.Len()),
	)

	experimentID := opts.ExperimentID
	if experimentID == "" {
		experimentID = uuid.NewString()
	}
	logger = logger.With(zap.String("experiment_id", experimentID))

	journal, err := ledger.Open(ctx, opts.LedgerDSN)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := journal.Close(); cerr != nil {
			logger.Warn("Failed to close trial journal", zap.Error(cerr))
		}
	}()

	engine, err := newEngine(opts, journal, logger)
	if err != nil {
		return nil, err
	}

	replayed, err := replay.New(engine, logger, opts.Metrics).Replay(ctx, experimentID, space, table)
	if err != nil {
		return nil, err
	}

	batch, err := suggest.New(engine, space, logger, opts.Metrics).Suggest(ctx, replayed, opts.BatchSize)
	if err != nil {
		return nil, err
	}

	trials, err := journal.List(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	formatted := output.Format(batch, space.Codec())
	destination := opts.Destination
	if destination == "" {
		destination = output.Destination("", "")
	}
	if err := output.Persist(formatted, destination); err != nil {
		return nil, err
	}

	logger.Info("Wrote suggestions",
		zap.String("destination", destination),
		zap.Int("requested", opts.BatchSize),
		zap.Int("returned", len(formatted)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{
		ExperimentID: experimentID,
		Destination:  destination,
		Requested:    opts.BatchSize,
		Suggestions:  formatted,
		Trials:       trials,
	}, nil
}

func newEngine(opts Options, journal optimization.Journal, logger *zap.Logger) (optimization.Engine, error) {
	optimizerLogger := opts.OptimizerLogger
	if optimizerLogger == nil {
		optimizerLogger = logger
	}
	if opts.NewEngine != nil {
		return opts.NewEngine(journal, optimizerLogger)
	}

	engineOpts := opts.Engine
	engineOpts.Journal = journal
	engineOpts.Logger = optimizerLogger
	engine, err := bayesian.NewEngine(engineOpts)
	if err != nil {
		return nil, err
	}
	return engine, nil
}
