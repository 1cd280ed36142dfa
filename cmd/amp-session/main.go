// Command amp-session runs a session daemon against the in-process loopback
// server. Nodes and endpoint rules come from the component file named by
// AMP_SESSION_CONFIG.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/amp-labs/amp-session/config"
	"github.com/amp-labs/amp-session/daemon"
	"github.com/amp-labs/amp-session/logger"
	"github.com/amp-labs/amp-session/session"
	"github.com/amp-labs/amp-session/shutdown"
	"github.com/amp-labs/amp-session/telemetry"
)

const serviceName = "amp-session"

func main() {
	if err := run(); err != nil {
		slog.Error("amp-session failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := config.FromEnv(context.Background())
	if err != nil {
		return err
	}

	otelCfg, err := telemetry.LoadConfigFromEnv(context.Background(), serviceName)
	if err != nil {
		return err
	}

	handler := shutdown.New()
	ctx := handler.Context(context.Background())

	providers, err := telemetry.Initialize(ctx, otelCfg)
	if err != nil {
		return err
	}

	logger.ConfigureLoggingWithOptions(opts.Logging(serviceName, providers.LogHandler(serviceName)))

	handler.BeforeShutdown(func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := providers.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	})

	var components []config.Component

	if opts.ComponentsPath != "" {
		components, err = config.LoadComponents(opts.ComponentsPath)
		if err != nil {
			return err
		}
	}

	d, err := daemon.Start(ctx, components)
	if err != nil {
		return err
	}

	handler.BeforeShutdown(func() {
		for _, t := range session.DefaultEndpointTypes {
			if id, err := d.DefaultEndpoint(context.Background(), t); err == nil {
				logger.Get(ctx).Info("default endpoint at shutdown", "type", t.String(), "id", id)
			}
		}
	})

	<-ctx.Done()
	d.Stop()

	return nil
}
