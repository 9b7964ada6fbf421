package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-command/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/engine"
)

func TestEngineConfigDefaults(t *testing.T) {
	cfg, err := engineConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultConfig().MaxRetries, cfg.MaxRetries)
	assert.True(t, cfg.RetryPermanent)
	assert.Equal(t, engine.UnitDays, cfg.DefaultDelayUnit)
	assert.Equal(t, float64(3), cfg.DefaultDelay)
}

func TestEngineConfigFromEnv(t *testing.T) {
	policy := filepath.Join(t.TempDir(), "steps.yaml")
	require.NoError(t, os.WriteFile(policy, []byte("schema: relay.steps.v1\ncomplete: [delay, call]\n"), 0o600))
	t.Setenv("SEQUENCE_ENGINE_MAX_RETRIES", "5")
	t.Setenv("SEQUENCE_ENGINE_RETRY_PERMANENT", "false")
	t.Setenv("SEQUENCE_ENGINE_RETRY_BASE_DELAY", "10s")
	t.Setenv("SEQUENCE_ENGINE_RETRY_MAX_DELAY", "1m")
	t.Setenv("SEQUENCE_ENGINE_DEFAULT_DELAY", "12")
	t.Setenv("SEQUENCE_ENGINE_DEFAULT_DELAY_UNIT", "hours")
	t.Setenv("SEQUENCE_ENGINE_STEP_POLICY", policy)

	cfg, err := engineConfigFromEnv()

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.False(t, cfg.RetryPermanent)
	assert.Equal(t, runner.ExponentialBackoffStrategy{Base: 10 * time.Second, Factor: 2, Max: time.Minute}, cfg.RetryBackoff)
	assert.Equal(t, engine.UnitHours, cfg.DefaultDelayUnit)
	assert.Equal(t, domain.ExecutionCompleted, cfg.Policy.Decide(domain.StepCall).Status)
}

func TestEngineConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SEQUENCE_ENGINE_MAX_RETRIES":          "zero",
		"SEQUENCE_ENGINE_DEFAULT_DELAY_UNIT":   "fortnights",
		"SEQUENCE_ENGINE_STEP_POLICY":          "/nonexistent/steps.yaml",
		"SEQUENCE_ENGINE_RETRY_MAX_DELAY":      "1s",
		"SEQUENCE_ENGINE_DEFAULT_DELAY":        "Inf",
		"SEQUENCE_ENGINE_RETRY_BACKOFF_FACTOR": "NaN",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := engineConfigFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestPollConfig(t *testing.T) {
	cfg, err := pollConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, pollConfig{Schedule: "@every 10s", BatchSize: 10}, cfg)

	assert.Error(t, pollConfig{Schedule: "every tuesday", BatchSize: 10}.Validate())
	assert.Error(t, pollConfig{Schedule: "*/5 * * * *", BatchSize: 0}.Validate())
	assert.Error(t, pollConfig{Schedule: "*/5 * * * *", BatchSize: 101}.Validate())
	assert.NoError(t, pollConfig{Schedule: "*/5 * * * *", BatchSize: 100}.Validate())
}
