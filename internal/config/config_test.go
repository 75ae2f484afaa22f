package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/relay/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 5*time.Second, cfg.Execution.MaxSignalAge)
	assert.Equal(t, 30*time.Second, cfg.Execution.DefaultMaxExecTime)
	assert.Equal(t, "confidence_weighted", cfg.Execution.SizingMethod)
	assert.Equal(t, 70.0, cfg.Execution.MinQualityScore)
	assert.Equal(t, 0.6, cfg.Risk.MinConfidenceThreshold)
	assert.Equal(t, "http://localhost:5000", cfg.Broker.GatewayURL)
	assert.Equal(t, "relay", cfg.Audit.S3Prefix)
	assert.Empty(t, cfg.Audit.S3Bucket)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_PORT", "9090")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("EXECUTION_MAX_SIGNAL_AGE_MS", "2500")
	t.Setenv("EXECUTION_SIZING_METHOD", "kelly")
	t.Setenv("RISK_MIN_CONFIDENCE", "0.75")
	t.Setenv("BROKER_SIMULATED", "true")
	t.Setenv("AUDIT_S3_BUCKET", "relay-audit")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 2500*time.Millisecond, cfg.Execution.MaxSignalAge)
	assert.Equal(t, "kelly", cfg.Execution.SizingMethod)
	assert.Equal(t, 0.75, cfg.Risk.MinConfidenceThreshold)
	assert.True(t, cfg.Broker.Simulated)
	assert.Equal(t, "relay-audit", cfg.Audit.S3Bucket)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("RELAY_PORT", "not-a-number")
	t.Setenv("RISK_MAX_DAILY_LOSS", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 50_000.0, cfg.Risk.MaxDailyLoss)
}

func TestValidate(t *testing.T) {
	t.Setenv("RELAY_PORT", "70000")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errs.KindConfiguration, errs.KindOf(err))

	t.Setenv("RELAY_PORT", "8001")
	t.Setenv("EXECUTION_SIZING_METHOD", "martingale")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "martingale")

	t.Setenv("EXECUTION_SIZING_METHOD", "kelly")
	t.Setenv("RISK_MIN_CONFIDENCE", "1.5")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("RISK_MIN_CONFIDENCE", "0.6")
	t.Setenv("IB_GATEWAY_URL", "")
	_, err = Load()
	require.NoError(t, err, "empty URL falls back to the default")
}
