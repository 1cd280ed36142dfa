package envutil_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/amp-labs/amp-session/envutil"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//nolint:tparallel // Cannot use t.Parallel() with subtests that call t.Setenv()
func TestString(t *testing.T) {
	t.Run("present value", func(t *testing.T) {
		t.Setenv("AMP_TEST_STRING", "hello")

		reader := envutil.String(t.Context(), "AMP_TEST_STRING")
		value, err := reader.Value()
		require.NoError(t, err)
		assert.Equal(t, "hello", value)
		assert.True(t, reader.HasValue())
	})

	t.Run("blank counts as unset", func(t *testing.T) {
		t.Setenv("AMP_TEST_STRING", "  ")

		reader := envutil.String(t.Context(), "AMP_TEST_STRING", envutil.Default("fallback"))
		assert.Equal(t, "fallback", reader.ValueOrElse("other"))
	})

	t.Run("missing value", func(t *testing.T) {
		t.Parallel()

		_, err := envutil.String(t.Context(), "AMP_TEST_STRING_MISSING").Value()
		require.ErrorIs(t, err, envutil.ErrEnvVarMissing)
		require.ErrorIs(t, err, sessionerrors.ErrConfiguration)
	})
}

func TestContextOverride(t *testing.T) {
	t.Parallel()

	ctx := envutil.WithEnvOverride(t.Context(), "AMP_TEST_OVERRIDE", "true")

	value, err := envutil.Bool(ctx, "AMP_TEST_OVERRIDE").Value()
	require.NoError(t, err)
	assert.True(t, value)

	assert.False(t, envutil.Bool(t.Context(), "AMP_TEST_OVERRIDE").HasValue())
}

func TestTypedReaders(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	ctx = envutil.WithEnvOverride(ctx, "LEVEL", "WARN")
	ctx = envutil.WithEnvOverride(ctx, "TIMEOUT", "250ms")
	ctx = envutil.WithEnvOverride(ctx, "COUNT", "7")
	ctx = envutil.WithEnvOverride(ctx, "BROKEN", "soon")

	level, err := envutil.SlogLevel(ctx, "LEVEL").Value()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	timeout, err := envutil.Duration(ctx, "TIMEOUT").Value()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, timeout)

	count, err := envutil.Int(ctx, "COUNT").Value()
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	broken := envutil.Duration(ctx, "BROKEN", envutil.Default(time.Second))
	assert.True(t, broken.HasError(), "a default does not hide a malformed value")
	assert.Equal(t, time.Minute, broken.ValueOrElse(time.Minute))
}

func TestInto(t *testing.T) {
	t.Parallel()

	ctx := envutil.WithEnvOverride(t.Context(), "FLAG", "yes-ish")
	ctx = envutil.WithEnvOverride(ctx, "NAME", "session")

	var (
		errs sessionerrors.Collection
		flag = true
		name string
		kept = "unchanged"
	)

	envutil.Bool(ctx, "FLAG").Into(&flag, &errs)
	envutil.String(ctx, "NAME").Into(&name, &errs)
	envutil.String(ctx, "UNSET").Into(&kept, &errs)

	assert.True(t, flag, "a malformed value leaves the destination alone")
	assert.Equal(t, "session", name)
	assert.Equal(t, "unchanged", kept)

	err := errs.GetError()
	require.ErrorIs(t, err, envutil.ErrBadEnvVar)
	assert.Contains(t, err.Error(), "FLAG")
}

func TestValidateAndIfMissing(t *testing.T) {
	t.Parallel()

	errNegative := errors.New("negative")
	ctx := envutil.WithEnvOverride(t.Context(), "COUNT", "-3")

	_, err := envutil.Int(ctx, "COUNT", envutil.Validate(func(i int) error {
		if i < 0 {
			return errNegative
		}

		return nil
	})).Value()
	require.ErrorIs(t, err, errNegative)

	errRequired := errors.New("required")

	var errs sessionerrors.Collection

	var path string

	envutil.String(ctx, "PATH_UNSET", envutil.IfMissing[string](errRequired)).Into(&path, &errs)
	require.ErrorIs(t, errs.GetError(), errRequired)
}
