// Command categorize performs exactly one categorization run and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basegraph.app/categorizer/common/id"
	"basegraph.app/categorizer/common/logger"
	"basegraph.app/categorizer/common/otel"
	"basegraph.app/categorizer/core/config"
	"basegraph.app/categorizer/internal/app"
	"basegraph.app/categorizer/internal/pipeline"
)

func main() {
	skipLease := flag.Bool("skip-lease", false, "run without the Redis run lease")
	flag.Parse()

	os.Exit(run(*skipLease))
}

func run(skipLease bool) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		return 1
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		return 1
	}
	defer func() {
		if telemetry == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}()

	logger.Setup(cfg)

	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		return 1
	}

	a, err := app.New(ctx, cfg, app.Options{SkipLease: skipLease})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize categorizer", "error", err)
		return 1
	}
	defer a.Close()

	result, err := a.Orchestrator.Run(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		slog.WarnContext(ctx, "run interrupted", "error", err)
		return 130
	}
	if err != nil {
		slog.ErrorContext(ctx, "categorization run failed", "error", err)
		return 1
	}
	if result.State == pipeline.StateSkipped {
		slog.InfoContext(ctx, "run skipped, another run holds the lease")
		return 0
	}

	slog.InfoContext(ctx, "categorization run completed",
		"run_id", result.RunID,
		"processed", result.Processed,
		"failed", result.Failed,
		"duration_ms", result.Duration().Milliseconds())
	return 0
}
