package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/authgw/internal/config"
	"github.com/vyrodovalexey/authgw/internal/identity"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

// run serves until SIGINT or SIGTERM, then shuts down gracefully.
func run(ctx context.Context, app *application, configPath string, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.serve(ctx, nil, configPath, logger)
}

// serve runs the server on ln, or on the configured address when ln is
// nil, until ctx is done or the server fails.
func (a *application) serve(ctx context.Context, ln net.Listener, configPath string, logger observability.Logger) error {
	// In-flight requests must survive the cancellation that triggers
	// shutdown so they can drain.
	serveCtx := context.WithoutCancel(ctx)

	errCh := make(chan error, 1)
	go func() {
		if ln != nil {
			errCh <- a.server.Serve(serveCtx, ln)
			return
		}
		errCh <- a.server.Start(serveCtx)
	}()

	go a.sweepCache(ctx, identity.CacheTTL, logger)

	var watcher *config.Watcher
	if configPath != "" {
		watcher = startConfigWatcher(ctx, a, configPath, logger)
	}

	select {
	case err := <-errCh:
		a.shutdown(watcher, logger)
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	a.shutdown(watcher, logger)
	return <-errCh
}

// shutdown stops the watcher and the server, then releases the remaining
// resources. The drain is bounded by server.shutdownTimeout.
func (a *application) shutdown(watcher *config.Watcher, logger observability.Logger) {
	timeout := a.config.Server.ShutdownTimeout.Duration()
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
		a.reload.watcherStatus.Set(0)
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop server gracefully", observability.Error(err))
	}

	if err := a.close(shutdownCtx); err != nil {
		logger.Error("failed to release resources", observability.Error(err))
	}

	logger.Info("gateway stopped")
}

// sweepCache drops expired identities every interval until ctx is done.
func (a *application) sweepCache(ctx context.Context, interval time.Duration, logger observability.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.cache.Sweep(); n > 0 {
				logger.Debug("expired identities swept",
					observability.Int("removed", n),
					observability.Int("remaining", a.cache.Len()),
				)
			}
		}
	}
}
