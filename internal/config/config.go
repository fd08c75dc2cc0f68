// Package config loads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/cellfit/internal/optimization"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		// MaxBodyBytes limits fit submissions, data included
		MaxBodyBytes int64 `env:"HTTP_MAX_BODY_BYTES" envDefault:"33554432"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Optimization struct {
		// WorkerCount sizes the evaluation pool shared by all jobs; zero
		// uses GOMAXPROCS
		WorkerCount       int           `env:"OPT_WORKER_COUNT" envDefault:"10"`
		MaxIterations     int           `env:"OPT_MAX_ITERATIONS" envDefault:"1000"`
		EvaluationTimeout time.Duration `env:"OPT_EVALUATION_TIMEOUT" envDefault:"0s"`
		Seed              int64         `env:"OPT_SEED" envDefault:"0"`
		// MaxJobs bounds the fits running at once
		MaxJobs int `env:"OPT_MAX_JOBS" envDefault:"4"`
		// JobRetention is how long finished jobs stay queryable
		JobRetention time.Duration `env:"OPT_JOB_RETENTION" envDefault:"1h"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Port <= 0 || c.HTTP.Port > 65535:
		return fmt.Errorf("HTTP_PORT must be in 1..65535, got %d", c.HTTP.Port)
	case c.HTTP.MaxBodyBytes <= 0:
		return fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive, got %d", c.HTTP.MaxBodyBytes)
	case c.Optimization.WorkerCount < 0:
		return fmt.Errorf("OPT_WORKER_COUNT must be non-negative, got %d", c.Optimization.WorkerCount)
	case c.Optimization.MaxIterations < 0:
		return fmt.Errorf("OPT_MAX_ITERATIONS must be non-negative, got %d", c.Optimization.MaxIterations)
	case c.Optimization.EvaluationTimeout < 0:
		return fmt.Errorf("OPT_EVALUATION_TIMEOUT must be non-negative, got %s", c.Optimization.EvaluationTimeout)
	case c.Optimization.MaxJobs <= 0:
		return fmt.Errorf("OPT_MAX_JOBS must be positive, got %d", c.Optimization.MaxJobs)
	}
	return nil
}

// RunDefaults returns the driver settings fit manifests start from
func (c *Config) RunDefaults() optimization.Config {
	cfg := optimization.DefaultConfig()
	cfg.MaxIterations = c.Optimization.MaxIterations
	cfg.EvaluationTimeout = c.Optimization.EvaluationTimeout
	cfg.Seed = c.Optimization.Seed
	return cfg
}
