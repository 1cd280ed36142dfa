// Package config loads the settings of a session process: logging options
// from the environment and the component table from YAML files.
package config

import (
	"context"
	"log/slog"

	"github.com/amp-labs/amp-session/envutil"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"github.com/amp-labs/amp-session/logger"
)

// Environment variables read by FromEnv.
const (
	EnvLogJSON    = "LOG_JSON"
	EnvLogLevel   = "LOG_LEVEL"
	EnvComponents = "AMP_SESSION_CONFIG"
)

// Options are the process-level settings.
type Options struct {
	LogJSON        bool
	LogLevel       slog.Level
	ComponentsPath string
}

// FromEnv reads Options from the environment, or from overrides stored in
// ctx. Unset variables keep their defaults: text logs at info level and no
// component file.
func FromEnv(ctx context.Context) (Options, error) {
	var (
		opts = Options{LogLevel: slog.LevelInfo}
		errs sessionerrors.Collection
	)

	envutil.Bool(ctx, EnvLogJSON).Into(&opts.LogJSON, &errs)
	envutil.SlogLevel(ctx, EnvLogLevel).Into(&opts.LogLevel, &errs)
	envutil.String(ctx, EnvComponents).Into(&opts.ComponentsPath, &errs)

	return opts, errs.GetError()
}

// Logging returns the logger options for subsystem. extra handlers, such as
// an OTLP exporter, receive every record too; nil entries are skipped.
func (o Options) Logging(subsystem string, extra ...slog.Handler) logger.Options {
	opts := logger.Options{
		Subsystem:   subsystem,
		JSON:        o.LogJSON,
		MinLevel:    o.LogLevel,
		LegacyLevel: slog.LevelInfo,
	}

	for _, h := range extra {
		if h != nil {
			opts.Extra = append(opts.Extra, h)
		}
	}

	return opts
}
