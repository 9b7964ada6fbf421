package main

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/relaycrm/relay-go/internal/engine"
	"github.com/relaycrm/relay-go/internal/platform/env"
)

const serviceName = "sequence-engine"

// engineConfigFromEnv is the only place engine settings are read from the
// environment.
func engineConfigFromEnv() (engine.Config, error) {
	cfg := engine.DefaultConfig()

	var err error
	if cfg.MaxRetries, err = env.Int("SEQUENCE_ENGINE_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return engine.Config{}, err
	}
	if cfg.RetryPermanent, err = env.Bool("SEQUENCE_ENGINE_RETRY_PERMANENT", cfg.RetryPermanent); err != nil {
		return engine.Config{}, err
	}
	if cfg.RetryBackoff.Base, err = env.Duration("SEQUENCE_ENGINE_RETRY_BASE_DELAY", cfg.RetryBackoff.Base); err != nil {
		return engine.Config{}, err
	}
	if cfg.RetryBackoff.Max, err = env.Duration("SEQUENCE_ENGINE_RETRY_MAX_DELAY", cfg.RetryBackoff.Max); err != nil {
		return engine.Config{}, err
	}
	if cfg.RetryBackoff.Factor, err = env.Float64("SEQUENCE_ENGINE_RETRY_BACKOFF_FACTOR", cfg.RetryBackoff.Factor); err != nil {
		return engine.Config{}, err
	}
	if cfg.DefaultDelay, err = env.Float64("SEQUENCE_ENGINE_DEFAULT_DELAY", cfg.DefaultDelay); err != nil {
		return engine.Config{}, err
	}

	rawUnit := env.String("SEQUENCE_ENGINE_DEFAULT_DELAY_UNIT", string(cfg.DefaultDelayUnit))
	unit, ok := engine.ParseDelayUnit(rawUnit)
	if !ok {
		return engine.Config{}, fmt.Errorf("SEQUENCE_ENGINE_DEFAULT_DELAY_UNIT must be minutes, hours, days or weeks (got %q)", rawUnit)
	}
	cfg.DefaultDelayUnit = unit
	cfg.Instruction = env.String("SEQUENCE_ENGINE_GENERATION_INSTRUCTION", cfg.Instruction)

	if path := env.String("SEQUENCE_ENGINE_STEP_POLICY", ""); path != "" {
		policy, err := engine.LoadStepPolicy(path)
		if err != nil {
			return engine.Config{}, fmt.Errorf("SEQUENCE_ENGINE_STEP_POLICY: %w", err)
		}
		cfg.Policy = policy
	}

	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

type pollConfig struct {
	Schedule  string
	BatchSize int
}

func pollConfigFromEnv() (pollConfig, error) {
	batchSize, err := env.Int("SEQUENCE_ENGINE_POLL_BATCH_SIZE", 10)
	if err != nil {
		return pollConfig{}, err
	}
	cfg := pollConfig{
		Schedule:  env.String("SEQUENCE_ENGINE_POLL_SCHEDULE", "@every 10s"),
		BatchSize: batchSize,
	}
	if err := cfg.Validate(); err != nil {
		return pollConfig{}, err
	}
	return cfg, nil
}

func (c pollConfig) Validate() error {
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("SEQUENCE_ENGINE_POLL_SCHEDULE: %w", err)
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return errors.New("SEQUENCE_ENGINE_POLL_BATCH_SIZE must be between 1 and 100")
	}
	return nil
}
