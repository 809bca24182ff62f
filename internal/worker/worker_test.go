package worker_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/categorizer/internal/pipeline"
	"basegraph.app/categorizer/internal/worker"
)

type fakeRunner struct {
	calls atomic.Int32
	runFn func(ctx context.Context) (*pipeline.RunResult, error)
}

func (f *fakeRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	n := f.calls.Add(1)
	if f.runFn != nil {
		return f.runFn(ctx)
	}
	return &pipeline.RunResult{RunID: int64(n), State: pipeline.StateDone}, nil
}

var _ = Describe("Worker", func() {
	var runner *fakeRunner

	BeforeEach(func() {
		runner = &fakeRunner{}
	})

	start := func(w *worker.Worker) {
		go func() {
			defer GinkgoRecover()
			_ = w.Run(context.Background())
		}()
	}

	It("runs on every tick", func() {
		w := worker.New(runner, worker.Config{Interval: 10 * time.Millisecond})
		start(w)
		defer w.Stop()

		Eventually(runner.calls.Load).Should(BeNumerically(">=", 3))
		Eventually(w.LastResult).ShouldNot(BeNil())
	})

	It("runs immediately when configured to run on startup", func() {
		w := worker.New(runner, worker.Config{Interval: time.Hour, RunOnStartup: true})
		start(w)
		defer w.Stop()

		Eventually(runner.calls.Load).Should(Equal(int32(1)))
	})

	It("keeps ticking after a run panics", func() {
		runner.runFn = func(context.Context) (*pipeline.RunResult, error) {
			panic("boom")
		}
		w := worker.New(runner, worker.Config{Interval: 10 * time.Millisecond})
		start(w)
		defer w.Stop()

		Eventually(runner.calls.Load).Should(BeNumerically(">=", 2))
		Expect(w.LastResult()).To(BeNil())
	})

	Describe("Trigger", func() {
		It("starts a run in the background", func() {
			w := worker.New(runner, worker.Config{Interval: time.Hour})

			Expect(w.Trigger(context.Background())).To(Succeed())
			Eventually(w.LastResult).ShouldNot(BeNil())
			Eventually(w.Running).Should(BeFalse())
		})

		It("refuses to start a second run while one is in progress", func() {
			release := make(chan struct{})
			runner.runFn = func(context.Context) (*pipeline.RunResult, error) {
				<-release
				return &pipeline.RunResult{State: pipeline.StateDone}, nil
			}
			w := worker.New(runner, worker.Config{Interval: time.Hour})

			Expect(w.Trigger(context.Background())).To(Succeed())
			Eventually(runner.calls.Load).Should(Equal(int32(1)))
			Expect(w.Trigger(context.Background())).To(MatchError(worker.ErrRunInProgress))

			close(release)
			Eventually(w.Running).Should(BeFalse())
			Expect(w.Trigger(context.Background())).To(Succeed())
			Eventually(runner.calls.Load).Should(Equal(int32(2)))
		})

		It("is not cancelled with the request context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			var sawCancel atomic.Bool
			runner.runFn = func(runCtx context.Context) (*pipeline.RunResult, error) {
				time.Sleep(20 * time.Millisecond)
				sawCancel.Store(runCtx.Err() != nil)
				return &pipeline.RunResult{State: pipeline.StateDone}, nil
			}
			w := worker.New(runner, worker.Config{Interval: time.Hour})

			Expect(w.Trigger(ctx)).To(Succeed())
			cancel()

			Eventually(w.LastResult).ShouldNot(BeNil())
			Expect(sawCancel.Load()).To(BeFalse())
		})
	})

	Describe("Stop", func() {
		blockUntilCancelled := func(ctx context.Context) (*pipeline.RunResult, error) {
			<-ctx.Done()
			return &pipeline.RunResult{State: pipeline.StateAborted}, ctx.Err()
		}

		It("cancels an in-flight scheduled run and waits for it", func() {
			runner.runFn = blockUntilCancelled
			w := worker.New(runner, worker.Config{Interval: time.Hour, RunOnStartup: true})
			start(w)
			Eventually(w.Running).Should(BeTrue())

			stopped := make(chan struct{})
			go func() {
				w.Stop()
				close(stopped)
			}()

			Eventually(stopped).Should(BeClosed())
			Expect(w.Running()).To(BeFalse())
			Expect(w.LastResult().State).To(Equal(pipeline.StateAborted))
		})

		It("cancels an in-flight manual run", func() {
			runner.runFn = blockUntilCancelled
			w := worker.New(runner, worker.Config{Interval: time.Hour})

			Expect(w.Trigger(context.Background())).To(Succeed())
			Eventually(runner.calls.Load).Should(Equal(int32(1)))

			stopped := make(chan struct{})
			go func() {
				w.Stop()
				close(stopped)
			}()

			Eventually(stopped).Should(BeClosed())
			Expect(w.Running()).To(BeFalse())
		})

		It("refuses manual runs afterwards", func() {
			w := worker.New(runner, worker.Config{Interval: time.Hour})
			w.Stop()

			Expect(w.Trigger(context.Background())).To(MatchError(worker.ErrStopped))
			Expect(runner.calls.Load()).To(BeZero())
		})
	})

	It("returns from Run when stopped", func() {
		w := worker.New(runner, worker.Config{Interval: time.Hour})
		done := make(chan error, 1)
		go func() { done <- w.Run(context.Background()) }()

		w.Stop()
		Eventually(done).Should(Receive(BeNil()))
	})
})
