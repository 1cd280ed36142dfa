package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/amp-labs/amp-session/envutil"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadComponentsWithFragments(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	main := filepath.Join(dir, "session.yaml")

	write(t, main, `
components:
  - name: policy
    type: policy
`)
	write(t, filepath.Join(dir, "session.yaml.d", "10-usb.yaml"), `
components:
  - name: usb
    type: endpoint-rule
    args:
      match: "alsa_output.usb*"
      priority: 10
`)
	write(t, filepath.Join(dir, "session.yaml.d", "2-hdmi.yaml"), `
components:
  - name: hdmi
    type: endpoint-rule
    args:
      match: "alsa_output.hdmi*"
      priority: -1
`)
	write(t, filepath.Join(dir, "session.yaml.d", "ignored.txt"), "not yaml")

	components, err := LoadComponents(main)
	require.NoError(t, err)

	names := make([]string, 0, len(components))
	for _, c := range components {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"policy", "hdmi", "usb"}, names, "fragments load in natural order after the main file")

	rules := OfType(components, "endpoint-rule")
	require.Len(t, rules, 2)
	assert.Equal(t, -1, rules[0].Values()["priority"])
}

func TestLoadComponentsFragmentsOnly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "s.yaml.d", "a.yaml"), "components: [{name: a, type: x}]")

	components, err := LoadComponents(filepath.Join(dir, "s.yaml"))
	require.NoError(t, err)
	assert.Len(t, components, 1)
}

func TestLoadComponentsErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadComponents(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, ErrNoConfig)
	require.ErrorIs(t, err, sessionerrors.ErrConfiguration)

	main := filepath.Join(dir, "bad.yaml")
	write(t, main, "components: [{name: a}]")
	write(t, filepath.Join(dir, "bad.yaml.d", "b.yaml"), "components: {")

	_, err = LoadComponents(main)
	require.ErrorIs(t, err, sessionerrors.ErrConfiguration)
	assert.Contains(t, err.Error(), "has no type")
	assert.Contains(t, err.Error(), "b.yaml", "every broken file is reported")
}

func TestFromEnv(t *testing.T) { //nolint:paralleltest
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvComponents, "/etc/session.yaml")

	opts, err := FromEnv(t.Context())
	require.NoError(t, err)
	assert.True(t, opts.LogJSON)
	assert.Equal(t, slog.LevelDebug, opts.LogLevel)
	assert.Equal(t, "/etc/session.yaml", opts.ComponentsPath)

	logging := opts.Logging("session")
	assert.Equal(t, "session", logging.Subsystem)
	assert.True(t, logging.JSON)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Parallel()

	opts, err := FromEnv(envutil.WithEnvOverride(t.Context(), EnvLogLevel, "warn"))
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, opts.LogLevel)

	ctx := envutil.WithEnvOverride(t.Context(), EnvLogJSON, "sometimes")
	ctx = envutil.WithEnvOverride(ctx, EnvLogLevel, "loud")

	_, err = FromEnv(ctx)
	require.ErrorIs(t, err, sessionerrors.ErrConfiguration)
	assert.Contains(t, err.Error(), EnvLogJSON)
	assert.Contains(t, err.Error(), EnvLogLevel, "every malformed variable is reported")
}
