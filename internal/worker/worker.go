package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"basegraph.app/categorizer/common/logger"
	"basegraph.app/categorizer/internal/pipeline"
)

var (
	ErrRunInProgress = errors.New("a categorization run is already in progress")
	ErrStopped       = errors.New("worker is stopped")
)

// Runner is satisfied by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context) (*pipeline.RunResult, error)
}

type Config struct {
	Interval     time.Duration
	RunOnStartup bool
}

// Worker triggers categorization runs on a fixed schedule and on demand.
// At most one run executes per process; the run lease extends that across processes.
type Worker struct {
	runner Runner
	cfg    Config

	running atomic.Bool
	started atomic.Bool
	last    atomic.Pointer[pipeline.RunResult]
	manual  sync.WaitGroup

	// stopCtx is cancelled by Stop; every run context is cancelled with it.
	stopCtx   context.Context
	stop      context.CancelFunc
	stoppedCh chan struct{}
}

func New(runner Runner, cfg Config) *Worker {
	stopCtx, stop := context.WithCancel(context.Background())
	return &Worker{
		runner:    runner,
		cfg:       cfg,
		stopCtx:   stopCtx,
		stop:      stop,
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks, starting a run every Interval, until Stop is called or ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.started.Store(true)
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "categorizer.worker",
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopRuns := context.AfterFunc(w.stopCtx, cancel)
	defer stopRuns()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "worker started",
		"interval", w.cfg.Interval.String(),
		"run_on_startup", w.cfg.RunOnStartup)

	if w.cfg.RunOnStartup && w.stopCtx.Err() == nil {
		w.tick(runCtx, time.Now())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCtx.Done():
			slog.InfoContext(ctx, "worker stopping")
			return nil
		case t := <-ticker.C:
			w.tick(runCtx, t)
		}
	}
}

// Stop cancels any in-flight run and waits for the loop and manual runs to
// return. A cancelled run stops between records and still persists its taxonomy.
func (w *Worker) Stop() {
	w.stop()
	if w.started.Load() {
		<-w.stoppedCh
	}
	w.manual.Wait()
}

// Trigger starts a run in the background. It fails with ErrRunInProgress
// instead of queueing behind a running one.
// The run outlives the caller's context and is cancelled only by Stop.
func (w *Worker) Trigger(ctx context.Context) error {
	if w.stopCtx.Err() != nil {
		return ErrStopped
	}
	if !w.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}

	ctx = logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		Component: "categorizer.worker",
	})
	ctx, cancel := context.WithCancel(ctx)
	stopRun := context.AfterFunc(w.stopCtx, cancel)

	w.manual.Add(1)
	go func() {
		defer w.manual.Done()
		defer cancel()
		defer stopRun()
		w.execute(ctx, "manual")
	}()
	return nil
}

func (w *Worker) Running() bool {
	return w.running.Load()
}

// LastResult returns the summary of the most recent finished run, or nil.
func (w *Worker) LastResult() *pipeline.RunResult {
	return w.last.Load()
}

func (w *Worker) tick(ctx context.Context, scheduled time.Time) {
	if lag := time.Since(scheduled); lag > w.cfg.Interval/2 {
		slog.WarnContext(ctx, "timer is past due", "lag", lag.String())
	}

	if !w.running.CompareAndSwap(false, true) {
		slog.InfoContext(ctx, "previous run still in progress, skipping tick")
		return
	}
	w.execute(ctx, "schedule")
}

// execute expects the running flag to be held by the caller and clears it.
func (w *Worker) execute(ctx context.Context, trigger string) {
	defer w.running.Store(false)

	result, err := w.runSafe(ctx)
	if result != nil {
		w.last.Store(result)
	}
	if err != nil {
		slog.ErrorContext(ctx, "categorization run failed", "trigger", trigger, "error", err)
		return
	}

	slog.InfoContext(ctx, "categorization run completed",
		"trigger", trigger,
		"run_id", result.RunID,
		"state", result.State,
		"duration_ms", result.Duration().Milliseconds())
}

func (w *Worker) runSafe(ctx context.Context) (result *pipeline.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in categorization run", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = w.runner.Run(ctx)
	if err == nil && result == nil {
		err = errors.New("runner returned no result")
	}
	return result, err
}
