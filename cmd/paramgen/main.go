package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/copyleftdev/paramgen/internal/config"
	"github.com/copyleftdev/paramgen/internal/errors"
	"github.com/copyleftdev/paramgen/internal/logging"
	"github.com/copyleftdev/paramgen/internal/metrics"
	"github.com/copyleftdev/paramgen/internal/optimization/bayesian"
	"github.com/copyleftdev/paramgen/internal/output"
	"github.com/copyleftdev/paramgen/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one generation pass and returns the process exit code.
func run(ctx context.Context, stdout, stderr io.Writer) int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logCfg := &logging.Config{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		Output:         cfg.Logging.Output,
		OptimizerLevel: cfg.Logging.OptimizerLevel,
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	logger = logger.With(
		zap.String("service", "paramgen"),
		zap.String("environment", cfg.Environment),
	)
	ctx = logging.WithContext(ctx, logger)

	m := metrics.New()
	result, err := pipeline.Run(ctx, pipeline.Options{
		ConfigPath:  cfg.Input.ConfigPath,
		DataPath:    cfg.Input.DataPath,
		BatchSize:   cfg.Optimization.BatchSize,
		Destination: output.Destination(cfg.Output.Dir, cfg.Output.File),
		Minimize:    cfg.Input.Minimize,
		Engine: bayesian.Options{
			Seed:            cfg.Optimization.Seed,
			Xi:              cfg.Optimization.Xi,
			NoiseVar:        cfg.Optimization.NoiseVar,
			Kernel:          cfg.Optimization.Kernel,
			LengthScale:     cfg.Optimization.LengthScale,
			MinObservations: cfg.Optimization.MinObservations,
			MaxParallelism:  cfg.Optimization.MaxParallelism,
		},
		LedgerDSN:       cfg.Ledger.DSN,
		Logger:          logger,
		OptimizerLogger: logging.ForOptimizer(logger, logCfg),
		Metrics:         m,
	})

	if cfg.Metrics.File != "" {
		if werr := m.WriteToTextfile(cfg.Metrics.File); werr != nil {
			logger.Warn("Failed to write metrics", zap.Error(werr))
		}
	}

	if err != nil {
		if errors.KindOf(err) == "" {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		} else {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(result.Suggestions); err != nil {
		fmt.Fprintf(stderr, "Failed to print suggestions: %v\n", err)
		return 1
	}
	return 0
}
