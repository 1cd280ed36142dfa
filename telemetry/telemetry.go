// Package telemetry exports the daemon's traces and logs over OTLP/HTTP.
//
// Transition spans are always created; without Initialize they go to the
// no-op global provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/amp-labs/amp-session/envutil"
	sessionerrors "github.com/amp-labs/amp-session/errors"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

const (
	defaultServiceVersion = "1.0.0"
	defaultTimeout        = 5 * time.Second
)

// Config holds the OpenTelemetry settings.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
	ExportLogs     bool
	Timeout        time.Duration
}

// LoadConfigFromEnv reads the standard OTEL_* variables, honoring overrides
// stored in ctx. serviceName is used when OTEL_SERVICE_NAME is unset.
func LoadConfigFromEnv(ctx context.Context, serviceName string) (*Config, error) {
	var errs sessionerrors.Collection

	cfg := &Config{
		ServiceName:    serviceName,
		ServiceVersion: defaultServiceVersion,
		Timeout:        defaultTimeout,
	}

	envutil.String(ctx, "OTEL_SERVICE_NAME").Into(&cfg.ServiceName, &errs)
	envutil.String(ctx, "OTEL_SERVICE_VERSION").Into(&cfg.ServiceVersion, &errs)
	envutil.String(ctx, "OTEL_EXPORTER_OTLP_ENDPOINT").Into(&cfg.Endpoint, &errs)
	envutil.Bool(ctx, "OTEL_ENABLED").Into(&cfg.Enabled, &errs)
	envutil.Bool(ctx, "OTEL_LOGS_ENABLED").Into(&cfg.ExportLogs, &errs)
	envutil.Duration(ctx, "OTEL_EXPORTER_OTLP_TIMEOUT").Into(&cfg.Timeout, &errs)

	if err := errs.GetError(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Providers are the installed OpenTelemetry providers. The zero value is
// valid and does nothing.
type Providers struct {
	traces *sdktrace.TracerProvider
	logs   *sdklog.LoggerProvider
}

// Initialize installs the global tracer provider and, if log export is
// enabled, a logger provider whose handler is returned by LogHandler.
func Initialize(ctx context.Context, cfg *Config) (*Providers, error) {
	if !cfg.Enabled {
		slog.Debug("OpenTelemetry export is disabled")

		return &Providers{}, nil
	}

	if cfg.Endpoint == "" {
		slog.Warn("OpenTelemetry endpoint not configured, export disabled")

		return &Providers{}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint+"/v1/traces"),
		otlptracehttp.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	p := &Providers{
		traces: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		),
	}

	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.ExportLogs {
		logExporter, err := otlploghttp.New(ctx,
			otlploghttp.WithEndpointURL(cfg.Endpoint+"/v1/logs"),
			otlploghttp.WithTimeout(cfg.Timeout),
		)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create OTLP log exporter: %w", err), p.Shutdown(ctx))
		}

		p.logs = sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
			sdklog.WithResource(res),
		)
	}

	slog.Info("OpenTelemetry export initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"endpoint", cfg.Endpoint,
		"logs", cfg.ExportLogs,
	)

	return p, nil
}

// LogHandler returns a slog handler exporting records, or nil when log
// export is off.
func (p *Providers) LogHandler(name string) slog.Handler {
	if p == nil || p.logs == nil {
		return nil
	}

	return otelslog.NewHandler(name, otelslog.WithLoggerProvider(p.logs))
}

// Shutdown flushes and stops the providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}

	var errs sessionerrors.Collection

	if p.logs != nil {
		errs.Add(p.logs.Shutdown(ctx))
	}

	if p.traces != nil {
		errs.Add(p.traces.Shutdown(ctx))
	}

	return errs.GetError()
}
