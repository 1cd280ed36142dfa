package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/amp-labs/amp-session/envutil"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) { //nolint:paralleltest
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SERVICE_NAME", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TIMEOUT", "1s")

	cfg, err := LoadConfigFromEnv(t.Context(), "amp-session")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)

	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")

	cfg, err = LoadConfigFromEnv(t.Context(), "amp-session")
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.ExportLogs)
	assert.Equal(t, "amp-session", cfg.ServiceName)
	assert.Equal(t, defaultServiceVersion, cfg.ServiceVersion)
	assert.Equal(t, "http://collector:4318", cfg.Endpoint)
	assert.Equal(t, time.Second, cfg.Timeout)
}

func TestLoadConfigFromEnvErrors(t *testing.T) {
	t.Parallel()

	ctx := envutil.WithEnvOverride(t.Context(), "OTEL_LOGS_ENABLED", "maybe")
	ctx = envutil.WithEnvOverride(ctx, "OTEL_EXPORTER_OTLP_TIMEOUT", "soon")

	_, err := LoadConfigFromEnv(ctx, "x")
	require.ErrorIs(t, err, sessionerrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "OTEL_LOGS_ENABLED")
	assert.Contains(t, err.Error(), "OTEL_EXPORTER_OTLP_TIMEOUT")
}

func TestInitializeDisabled(t *testing.T) {
	t.Parallel()

	p, err := Initialize(t.Context(), &Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, p.LogHandler("x"))
	require.NoError(t, p.Shutdown(t.Context()))

	p, err = Initialize(t.Context(), &Config{Enabled: true})
	require.NoError(t, err, "no endpoint disables export")
	assert.Nil(t, p.LogHandler("x"))
}

func TestInitializeWithLogs(t *testing.T) { //nolint:paralleltest
	p, err := Initialize(t.Context(), &Config{
		Enabled:     true,
		ExportLogs:  true,
		ServiceName: "amp-session",
		Endpoint:    "http://127.0.0.1:4318",
		Timeout:     time.Second,
	})
	require.NoError(t, err)
	assert.NotNil(t, p.LogHandler("amp-session"))

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()

	_ = p.Shutdown(ctx)
}
