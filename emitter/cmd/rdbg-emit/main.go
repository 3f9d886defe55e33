package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/remdbg/remdbg/pkg/capture"
	"github.com/remdbg/remdbg/pkg/config"
	"github.com/remdbg/remdbg/pkg/transport"
)

// drainTimeout bounds how long a replaced or stopping transport may take to
// deliver what it still holds.
const drainTimeout = 2 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: RDBG_* environment)")
	interval := flag.Duration("interval", time.Second, "time between emitted messages")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("rdbg-emit starting", "config", *configPath)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"enabled", cfg.Enabled,
		"mode", cfg.Mode,
		"addr", cfg.Addr(),
		"queue_capacity", cfg.QueueCapacity,
		"metrics_addr", cfg.MetricsAddr,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	capture.Init(newDebugger(*cfg, logger))

	// Watch config file for hot-reload: the transport is rebuilt with the
	// new settings, so toggling enabled takes effect live.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				slog.Info("config hot-reloaded", "enabled", updated.Enabled, "addr", updated.Addr())
				// Release the old listener before the new transport binds.
				prev := capture.Init(capture.New(transport.Noop{}))
				if prev != nil && !prev.Shutdown(drainTimeout) {
					slog.Warn("previous transport not drained before reload")
				}
				capture.Init(newDebugger(*updated, logger))
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Shutdown(context.Background()) //nolint:errcheck
	}

	emit(ctx, *interval)

	slog.Info("rdbg-emit shutting down")
	drained := capture.Shutdown(drainTimeout)
	slog.Info("transport stopped", "drained", drained, "dropped_total", transport.Dropped())
}

// loadConfig reads path, or the RDBG_* environment when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnvironment()
	}
	return config.Load(path)
}

func newDebugger(cfg config.Config, logger *slog.Logger) *capture.Debugger {
	return capture.FromConfig(cfg,
		transport.WithLogger(logger),
		transport.WithDiagnostics(func(ev transport.Event) {
			if ev.Kind == transport.EventDropped {
				slog.Debug("transport dropped messages", "count", ev.Count, "err", ev.Err)
			}
		}),
	)
}

// emit sends a synthetic mix of messages every interval until ctx is done.
func emit(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		capture.Msg("tick %d", n)
		capture.Vals(
			"n", n,
			"uptime", time.Since(start).Round(time.Millisecond),
			"runtime.NumGoroutine()", runtime.NumGoroutine(),
			"transport.Dropped()", transport.Dropped(),
		)
		if n%10 == 0 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			capture.Msg("memory after %d ticks:\n  heap_alloc=%d\n  num_gc=%d", n, ms.HeapAlloc, ms.NumGC)
		}
	}
}
