// Package config reads the paramgen command's settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/paramgen/internal/errors"
)

// Config holds every runtime setting of the paramgen command.
type Config struct {
	Environment string `env:"ENV" envDefault:"development"`

	Input struct {
		ConfigPath string `env:"CONFIG_PATH" envDefault:"./config/config.json"`
		DataPath   string `env:"DATA_PATH" envDefault:"./data/data.csv"`
		// Minimize lists objective names to minimize instead of maximize.
		Minimize []string `env:"MINIMIZE" envSeparator:","`
	}
	Output struct {
		Dir  string `env:"OUTPUT_DIR" envDefault:"outputs"`
		File string `env:"OUTPUT_FILE" envDefault:"parameters.json"`
	}
	Logging struct {
		Level          string `env:"LOG_LEVEL" envDefault:"info"`
		Format         string `env:"LOG_FORMAT" envDefault:"json"`
		Output         string `env:"LOG_OUTPUT" envDefault:"stderr"`
		OptimizerLevel string `env:"OPTIMIZER_LOG_LEVEL" envDefault:"error"`
	}
	Optimization struct {
		BatchSize       int     `env:"BATCH_SIZE" envDefault:"4"`
		Seed            int64   `env:"SEED" envDefault:"0"`
		Kernel          string  `env:"KERNEL" envDefault:"matern52"`
		LengthScale     float64 `env:"LENGTH_SCALE" envDefault:"0.25"`
		NoiseVar        float64 `env:"NOISE_VAR" envDefault:"1e-6"`
		Xi              float64 `env:"XI" envDefault:"0.01"`
		MinObservations int     `env:"MIN_OBSERVATIONS" envDefault:"2"`
		MaxParallelism  int     `env:"MAX_PARALLELISM" envDefault:"0"`
	}
	Ledger struct {
		// DSN of the SQLite trial journal. Empty keeps the journal in memory.
		DSN string `env:"LEDGER_DSN"`
	}
	Metrics struct {
		// File receives the run's metrics in text exposition format.
		File string `env:"METRICS_FILE"`
	}
}

// Prefix is prepended to every variable name.
const Prefix = "PARAMGEN_"

// Load parses the process environment.
func Load() (*Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "invalid environment").
			WithComponent("config").WithOperation("Load")
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	for i, name := range cfg.Input.Minimize {
		cfg.Input.Minimize[i] = strings.TrimSpace(name)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	check := func(ok bool, field, format string, args ...interface{}) error {
		if ok {
			return nil
		}
		return errors.New(errors.KindConfig, fmt.Sprintf(format, args...)).
			WithComponent("config").WithOperation("validate").WithField(Prefix + field)
	}

	for _, err := range []error{
		check(c.Input.ConfigPath != "", "CONFIG_PATH", "config path is required"),
		check(c.Input.DataPath != "", "DATA_PATH", "data path is required"),
		check(c.Optimization.BatchSize >= 1, "BATCH_SIZE", "batch size must be at least 1, got %d", c.Optimization.BatchSize),
		check(c.Optimization.MaxParallelism >= 0, "MAX_PARALLELISM", "max parallelism must not be negative, got %d", c.Optimization.MaxParallelism),
		check(c.Optimization.LengthScale > 0, "LENGTH_SCALE", "length scale must be positive, got %v", c.Optimization.LengthScale),
		check(c.Optimization.NoiseVar >= 0, "NOISE_VAR", "noise variance must not be negative, got %v", c.Optimization.NoiseVar),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}
