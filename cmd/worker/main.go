package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/categorizer/common/id"
	"basegraph.app/categorizer/common/logger"
	"basegraph.app/categorizer/common/otel"
	"basegraph.app/categorizer/core/config"
	"basegraph.app/categorizer/internal/app"
	"basegraph.app/categorizer/internal/http/middleware"
	httprouter "basegraph.app/categorizer/internal/http/router"
	"basegraph.app/categorizer/internal/worker"
)

// workerStopTimeout outlasts the orchestrator's persist timeout so a cancelled
// run can write its taxonomy before the pools close.
const workerStopTimeout = 3 * time.Minute

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider when exporting)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "categorizer worker starting",
		"env", cfg.Env,
		"interval", cfg.Pipeline.Interval.String())

	// Node 1 is the one-shot command.
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize categorizer", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	w := worker.New(a.Orchestrator, worker.Config{
		Interval:     cfg.Pipeline.Interval,
		RunOnStartup: cfg.Pipeline.RunOnStartup,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, a, w),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	// Stop cancels an in-flight run; it still persists its taxonomy before returning.
	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-time.After(workerStopTimeout):
		slog.WarnContext(ctx, "worker stop timeout exceeded, abandoning in-flight run")
	case <-stopped:
		if err := <-errCh; err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		otelCtx, otelCancel := context.WithTimeout(ctx, 10*time.Second)
		defer otelCancel()
		if err := telemetry.Shutdown(otelCtx); err != nil {
			slog.ErrorContext(otelCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

func setupRouter(cfg config.Config, a *app.App, w *worker.Worker) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health"))

	httprouter.SetupRoutes(router, httprouter.RouterConfig{
		Runs:       w,
		RunHistory: a.Runs,
		Taxonomy:   a.Taxonomy,
	})

	return router
}

const banner = `
 ██████╗ █████╗ ████████╗███████╗ ██████╗  ██████╗ ██████╗ ██╗███████╗███████╗██████╗
██╔════╝██╔══██╗╚══██╔══╝██╔════╝██╔════╝ ██╔═══██╗██╔══██╗██║╚══███╔╝██╔════╝██╔══██╗
██║     ███████║   ██║   █████╗  ██║  ███╗██║   ██║██████╔╝██║  ███╔╝ █████╗  ██████╔╝
██║     ██╔══██║   ██║   ██╔══╝  ██║   ██║██║   ██║██╔══██╗██║ ███╔╝  ██╔══╝  ██╔══██╗
╚██████╗██║  ██║   ██║   ███████╗╚██████╔╝╚██████╔╝██║  ██║██║███████╗███████╗██║  ██║
 ╚═════╝╚═╝  ╚═╝   ╚═╝   ╚══════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝╚══════╝╚══════╝╚═╝  ╚═╝
`
