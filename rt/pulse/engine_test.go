package pulse_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/evan-idocoding/pulsed/rt/pulse"
	"github.com/evan-idocoding/pulsed/rt/pulse/pulsetest"
	"github.com/evan-idocoding/pulsed/rt/safecall"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mustPulse(delay, dur float64, pulses int) pulse.Descriptor {
	GinkgoHelper()
	d, err := pulse.NewPulse(delay, dur, pulses)
	Expect(err).NotTo(HaveOccurred())
	return d
}

// offsets returns each edge's time relative to the first edge.
func offsets(edges []pulsetest.Edge) []time.Duration {
	out := make([]time.Duration, len(edges))
	for i, ed := range edges {
		out[i] = ed.At.Sub(edges[0].At)
	}
	return out
}

func edgesAfter(edges []pulsetest.Edge, t time.Time) int {
	n := 0
	for _, ed := range edges {
		if ed.At.After(t) {
			n++
		}
	}
	return n
}

func lastEdgeIs(rec *pulsetest.Recorder, high bool) func() bool {
	return func() bool {
		edges := rec.Edges()
		return len(edges) >= 3 && edges[len(edges)-1].High == high
	}
}

func newEngine(d pulse.Descriptor, opts ...pulse.Option) *pulse.Engine {
	GinkgoHelper()
	all := append([]pulse.Option{pulse.WithSpinThreshold(50 * time.Microsecond)}, opts...)
	e, err := pulse.New(d, all...)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() {
		e.UnDoTasks()
		_ = e.StopInfiniteTrain()
		Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
		Expect(e.Close()).To(Succeed())
	})
	return e
}

var _ = Describe("Engine", func() {
	var rec *pulsetest.Recorder

	BeforeEach(func() {
		rec = pulsetest.New()
	})

	Context("construction", func() {
		It("rejects an invalid descriptor", func() {
			_, err := pulse.New(pulse.Descriptor{})
			Expect(err).To(MatchError(pulse.ErrInvalidValue))
		})

		It("starts idle with a generated ID", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1))
			Expect(e.ID()).NotTo(BeEmpty())
			Expect(e.State()).To(Equal(pulse.StateIdle))
			Expect(e.IsBusy()).To(BeFalse())
			Expect(e.WaitOnBusy(0)).To(Equal(pulse.WaitSignaled))
			Expect(e.Status().ArrayCursor).To(Equal(-1))
		})

		It("uses the configured ID", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1), pulse.WithID("bench-1"))
			Expect(e.ID()).To(Equal("bench-1"))
			Expect(e.Status().ID).To(Equal("bench-1"))
		})
	})

	Context("finite tasks", func() {
		It("runs n tasks back to back and then goes idle", func() {
			e := newEngine(mustPulse(0.002, 0.001, 5), rec.Options(pulse.ShapePulse)...)

			start := time.Now()
			Expect(e.DoTasks(3)).To(Succeed())
			Expect(e.IsBusy()).To(BeTrue())
			Expect(e.State()).To(Equal(pulse.StateRunningFiniteTask))
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			elapsed := time.Since(start)
			Expect(elapsed).To(BeNumerically(">=", 45*time.Millisecond))
			Expect(elapsed).To(BeNumerically("<", 45*time.Millisecond+25*time.Millisecond))
			Expect(rec.Count(true)).To(Equal(15))
			// 15 low phases plus the rest edge after the final high phase.
			Expect(rec.Count(false)).To(Equal(16))

			st := e.Status()
			Expect(st.TasksCompleted).To(Equal(uint64(3)))
			Expect(st.TrainsCompleted).To(Equal(uint64(3)))
			Expect(st.PhasesCompleted).To(Equal(uint64(30)))
			Expect(st.LastTrainAt).NotTo(BeZero())

			ends := rec.Ends()
			Expect(ends).To(HaveLen(3))
			Expect(ends[0].Pulse.Queued).To(BeTrue())
			Expect(ends[1].Pulse.Queued).To(BeTrue())
			Expect(ends[2].Pulse.Queued).To(BeFalse())
			Expect(ends[2].Pulse.DelayUsecs).To(Equal(int64(2000)))
			Expect(ends[2].Pulse.DurationUsecs).To(Equal(int64(1000)))
			Expect(ends[2].Pulse.Pulses).To(Equal(5))
		})

		It("keeps high phases at least as long as configured", func() {
			e := newEngine(mustPulse(0.002, 0.003, 4), rec.Options(pulse.ShapeNone)...)
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			durations := rec.HighDurations()
			Expect(durations).To(HaveLen(4))
			for _, d := range durations {
				Expect(d).To(BeNumerically(">=", 2*time.Millisecond))
			}
		})

		It("rejects starts and Close while busy", func() {
			e := newEngine(mustPulse(0.01, 0.01, 5))
			Expect(e.DoTask()).To(Succeed())

			Expect(e.DoTask()).To(MatchError(pulse.ErrBusy))
			Expect(e.StartInfiniteTrain()).To(MatchError(pulse.ErrBusy))
			Expect(e.StopInfiniteTrain()).To(MatchError(pulse.ErrInvalidState))
			Expect(e.Close()).To(MatchError(pulse.ErrBusy))
		})

		It("rejects unbounded descriptors and bad counts", func() {
			d, err := pulse.NewTrain(100, 0.5, 0)
			Expect(err).NotTo(HaveOccurred())
			e := newEngine(d)

			Expect(e.DoTask()).To(MatchError(pulse.ErrUnbounded))
			Expect(e.DoTasks(0)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.IsBusy()).To(BeFalse())
		})

		It("drops queued tasks on UnDoTasks but finishes the current one", func() {
			e := newEngine(mustPulse(0.01, 0.01, 5), rec.Options(pulse.ShapeNone)...)
			Expect(e.DoTasks(10)).To(Succeed())
			Eventually(func() int { return rec.Count(true) }, time.Second, time.Millisecond).Should(BeNumerically(">=", 1))

			e.UnDoTasks()
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(e.Status().TasksCompleted).To(Equal(uint64(1)))
			Expect(rec.Count(true)).To(Equal(5))
		})

		It("times out waiting on a long task", func() {
			e := newEngine(mustPulse(0.05, 0.05, 2))
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Millisecond)).To(Equal(pulse.WaitTimedOut))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
			defer cancel()
			Expect(e.WaitIdle(ctx)).To(MatchError(context.DeadlineExceeded))
		})
	})

	Context("infinite trains", func() {
		It("stops within one phase and rests low", func() {
			e := newEngine(mustPulse(0.02, 0.02, 0), rec.Options(pulse.ShapeNone)...)
			Expect(e.StartInfiniteTrain()).To(Succeed())
			Expect(e.State()).To(Equal(pulse.StateRunningInfiniteTrain))
			Eventually(func() int { return rec.Count(true) }, 2*time.Second, time.Millisecond).Should(BeNumerically(">=", 2))

			stopAt := time.Now()
			Expect(e.StopInfiniteTrain()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(time.Since(stopAt)).To(BeNumerically("<", 200*time.Millisecond))

			edges := rec.Edges()
			// Only the rest edge may follow a stop.
			Expect(edgesAfter(edges, stopAt)).To(BeNumerically("<=", 1))
			Expect(edges[len(edges)-1].High).To(BeFalse())
		})

		It("fires nothing more when stopped during a low phase", func() {
			e := newEngine(mustPulse(0.02, 0.02, 0), rec.Options(pulse.ShapeNone)...)
			Expect(e.StartInfiniteTrain()).To(Succeed())
			Eventually(lastEdgeIs(rec, false), 2*time.Second, time.Millisecond).Should(BeTrue())

			stopAt := time.Now()
			Expect(e.StopInfiniteTrain()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			edges := rec.Edges()
			Expect(edgesAfter(edges, stopAt)).To(BeZero())
			Expect(edges[len(edges)-1].High).To(BeFalse())
		})

		It("fires only the rest edge when stopped during a high phase", func() {
			e := newEngine(mustPulse(0.02, 0.02, 0), rec.Options(pulse.ShapeNone)...)
			Expect(e.StartInfiniteTrain()).To(Succeed())
			Eventually(lastEdgeIs(rec, true), 2*time.Second, time.Millisecond).Should(BeTrue())

			stopAt := time.Now()
			Expect(e.StopInfiniteTrain()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			edges := rec.Edges()
			Expect(edgesAfter(edges, stopAt)).To(Equal(1))
			Expect(edges[len(edges)-1].High).To(BeFalse())
		})

		It("repeats bounded trains until stopped", func() {
			e := newEngine(mustPulse(0.001, 0.001, 3), rec.Options(pulse.ShapeTrain)...)
			Expect(e.StartInfiniteTrain()).To(Succeed())
			Eventually(func() uint64 { return e.Status().TrainsCompleted }, 2*time.Second, time.Millisecond).Should(BeNumerically(">=", 3))

			Expect(e.StopInfiniteTrain()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(e.Status().TasksCompleted).To(BeZero())
			Expect(rec.Ends()[0].Train.Queued).To(BeTrue())
		})

		It("rejects StopInfiniteTrain when idle", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1))
			Expect(e.StopInfiniteTrain()).To(MatchError(pulse.ErrInvalidState))
		})
	})

	Context("timing", func() {
		It("keeps every edge on the absolute grid", func() {
			e := newEngine(mustPulse(0.002, 0.002, 25), rec.Options(pulse.ShapeNone)...)
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			edges := rec.Edges()
			// 50 phases plus the rest edge.
			Expect(edges).To(HaveLen(51))
			for k, off := range offsets(edges) {
				Expect(off).To(BeNumerically(">=", time.Duration(k)*2*time.Millisecond-200*time.Microsecond), "edge %d", k)
			}
			last := offsets(edges)[50]
			Expect(last).To(BeNumerically("~", 100*time.Millisecond, 3*time.Millisecond))
			Expect(e.Status().Overruns).To(BeZero())
		})

		It("counts overruns and catches up with the grid after a slow callback", func() {
			highs := 0
			slowHigh := func(data any) {
				rec.High(data)
				highs++
				if highs == 3 {
					time.Sleep(6 * time.Millisecond)
				}
			}
			e := newEngine(mustPulse(0.001, 0.001, 20),
				pulse.WithHighFunc(slowHigh),
				pulse.WithLowFunc(rec.Low),
			)
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			st := e.Status()
			Expect(st.Overruns).To(BeNumerically(">=", 1))
			Expect(st.PhasesCompleted).To(Equal(uint64(40)))

			edges := rec.Edges()
			Expect(edges).To(HaveLen(41))
			offs := offsets(edges)
			// The stall does not push the end of the task out.
			Expect(offs[40]).To(BeNumerically(">=", 40*time.Millisecond-200*time.Microsecond))
			Expect(offs[40]).To(BeNumerically("<=", 40*time.Millisecond+3*time.Millisecond))
			for k := 30; k <= 40; k++ {
				want := time.Duration(k) * time.Millisecond
				Expect(offs[k]).To(BeNumerically(">=", want-200*time.Microsecond), "edge %d", k)
				Expect(offs[k]).To(BeNumerically("<=", want+1500*time.Microsecond), "edge %d", k)
			}
			// Once back on the grid, phases keep their full length.
			for k := 20; k < 40; k++ {
				Expect(edges[k+1].At.Sub(edges[k].At)).To(BeNumerically(">=", 800*time.Microsecond), "phase %d", k)
			}
		})
	})

	Context("modifications", func() {
		It("applies a locking change only at the next train boundary", func() {
			e := newEngine(mustPulse(0.005, 0.005, 10), rec.Options(pulse.ShapePulse)...)
			Expect(e.DoTasks(2)).To(Succeed())

			errCh := make(chan error, 1)
			go func() { errCh <- e.ModDelay(0.003) }()

			Eventually(e.ModCustomStatus, time.Second, time.Millisecond).Should(BeTrue())
			Expect(e.PulseDelay()).To(Equal(0.005))
			Expect(e.Status().PendingMods).To(BeTrue())

			Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
			Expect(e.PulseDelay()).To(Equal(0.003))
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			ends := rec.Ends()
			Expect(ends).To(HaveLen(2))
			Expect(ends[0].Pulse.DelayUsecs).To(Equal(int64(5000)))
			Expect(ends[1].Pulse.DelayUsecs).To(Equal(int64(3000)))
		})

		It("applies a locking change from an edge callback at once", func() {
			var once sync.Once
			errCh := make(chan error, 1)
			e := newEngine(mustPulse(0.002, 0.002, 5))
			e.SetHighFunc(func(any) {
				once.Do(func() { errCh <- e.ModDelay(0.001) })
			})

			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Eventually(errCh).Should(Receive(BeNil()))
			Expect(e.PulseDelay()).To(Equal(0.001))
			Expect(e.ModCustomStatus()).To(BeFalse())
		})

		It("refuses an indefinite pulse count during a finite run", func() {
			e := newEngine(mustPulse(0.005, 0.005, 5))
			Expect(e.DoTasks(2)).To(Succeed())

			Expect(e.ModTrainLength(0)).To(MatchError(pulse.ErrUnbounded))
			Expect(e.Modify(context.Background(), pulse.FieldPulseCount, 0, pulse.NonLocking)).To(MatchError(pulse.ErrUnbounded))
			Expect(e.PulseCount()).To(Equal(5))
			Expect(e.ModCustomStatus()).To(BeFalse())

			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(e.Status().TasksCompleted).To(Equal(uint64(2)))
			Expect(e.ModTrainLength(0)).To(Succeed())
			Expect(e.PulseCount()).To(BeZero())
		})

		It("applies non-locking changes in place", func() {
			e := newEngine(mustPulse(0.01, 0.01, 0))
			Expect(e.StartInfiniteTrain()).To(Succeed())

			Expect(e.Modify(context.Background(), pulse.FieldDuration, 0.004, pulse.NonLocking)).To(Succeed())
			Expect(e.PulseDuration()).To(Equal(0.004))
			Expect(e.ModCustomStatus()).To(BeFalse())
		})

		It("applies every change at once on an idle engine", func() {
			e := newEngine(mustPulse(0.001, 0.001, 2))
			Expect(e.ModFreq(250)).To(Succeed())
			Expect(e.TrainFrequency()).To(BeNumerically("~", 250, 1e-9))
			Expect(e.TrainDutyCycle()).To(BeNumerically("~", 0.5, 1e-9))
			Expect(e.ModDutyCycle(0.25)).To(Succeed())
			Expect(e.PulseDuration()).To(BeNumerically("~", 0.001, 1e-12))
			Expect(e.ModTrainLength(8)).To(Succeed())
			Expect(e.PulseCount()).To(Equal(8))
			Expect(e.ModTrainDur(0.1)).To(Succeed())
			Expect(e.PulseCount()).To(Equal(25))
			Expect(e.TrainDuration()).To(BeNumerically("~", 0.1, 1e-9))
			Expect(e.ModDur(0.002)).To(Succeed())
			Expect(e.PulseDuration()).To(Equal(0.002))
		})

		It("rejects invalid values without queuing or changing anything", func() {
			e := newEngine(mustPulse(0.01, 0.01, 0))
			Expect(e.StartInfiniteTrain()).To(Succeed())
			before := e.Descriptor()

			Expect(e.ModFreq(-1)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.ModDutyCycle(1.5)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.Modify(context.Background(), pulse.Field(42), 1, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.ModCustomStatus()).To(BeFalse())
			Expect(e.Descriptor()).To(Equal(before))
		})

		It("supersedes an older locking request for the same field", func() {
			e := newEngine(mustPulse(0.01, 0.01, 100))
			Expect(e.StartInfiniteTrain()).To(Succeed())

			first := make(chan error, 1)
			go func() { first <- e.Modify(context.Background(), pulse.FieldDelay, 0.003, pulse.Locking) }()
			Eventually(e.ModCustomStatus, time.Second, time.Millisecond).Should(BeTrue())

			second := make(chan error, 1)
			go func() { second <- e.Modify(context.Background(), pulse.FieldDelay, 0.004, pulse.Locking) }()

			Eventually(first, 2*time.Second).Should(Receive(MatchError(pulse.ErrSuperseded)))
			Eventually(second, 5*time.Second).Should(Receive(BeNil()))
			Expect(e.PulseDelay()).To(Equal(0.004))
		})

		It("withdraws a locking request when the caller gives up", func() {
			e := newEngine(mustPulse(0.05, 0.05, 100))
			Expect(e.StartInfiniteTrain()).To(Succeed())

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
			defer cancel()
			err := e.Modify(ctx, pulse.FieldDelay, 0.002, pulse.Locking)
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			Expect(e.ModCustomStatus()).To(BeFalse())
			Expect(e.PulseDelay()).To(Equal(0.05))
		})

		It("applies queued changes when the run ends", func() {
			e := newEngine(mustPulse(0.01, 0.01, 100))
			Expect(e.StartInfiniteTrain()).To(Succeed())

			errCh := make(chan error, 1)
			go func() { errCh <- e.ModDelay(0.002) }()
			Eventually(e.ModCustomStatus, time.Second, time.Millisecond).Should(BeTrue())

			Expect(e.StopInfiniteTrain()).To(Succeed())
			Eventually(errCh, 2*time.Second).Should(Receive(BeNil()))
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(e.PulseDelay()).To(Equal(0.002))
			Expect(e.Status().TrainsCompleted).To(BeZero())
		})

		It("applies changes made from the end func immediately", func() {
			d, err := pulse.NewTrain(100, 0.5, 0.03)
			Expect(err).NotTo(HaveOccurred())

			var (
				e       *pulse.Engine
				mu      sync.Mutex
				modErrs []error
			)
			e = newEngine(d, pulse.WithEndFunc(pulse.TrainEnd(func(data any, info pulse.TrainInfo) {
				rec.TrainEnd(data, info)
				if info.Queued {
					err := e.ModDutyCycle(0.25)
					mu.Lock()
					modErrs = append(modErrs, err)
					mu.Unlock()
				}
			})))

			Expect(e.DoTasks(2)).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			ends := rec.Ends()
			Expect(ends).To(HaveLen(2))
			Expect(ends[0].Train.DutyCycle).To(BeNumerically("~", 0.5, 1e-9))
			Expect(ends[1].Train.DutyCycle).To(BeNumerically("~", 0.25, 1e-9))
			Expect(ends[1].Train.Frequency).To(BeNumerically("~", 100, 1e-9))

			mu.Lock()
			defer mu.Unlock()
			Expect(modErrs).To(HaveLen(1))
			Expect(modErrs[0]).NotTo(HaveOccurred())
		})

		It("rebinds task data through ModCustom", func() {
			e := newEngine(mustPulse(0.001, 0.001, 2), rec.Options(pulse.ShapePulse)...)
			Expect(e.SetTaskData("pin-7", pulse.Locking)).To(Succeed())
			Expect(e.SetEndFuncData("done", pulse.Locking)).To(Succeed())

			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			for _, ed := range rec.Edges() {
				Expect(ed.Data).To(Equal("pin-7"))
			}
			Expect(rec.Ends()[0].Data).To(Equal("done"))
		})

		It("discards a custom change that fails, panics or breaks the descriptor", func() {
			e := newEngine(mustPulse(0.001, 0.001, 2))
			before := e.Descriptor()
			boom := errors.New("boom")

			err := e.ModCustom(context.Background(), func(_ any, d *pulse.Descriptor) error {
				d.Pulses = 9
				return boom
			}, nil, pulse.Locking)
			Expect(err).To(MatchError(boom))

			err = e.ModCustom(context.Background(), func(any, *pulse.Descriptor) error {
				panic("custom")
			}, nil, pulse.Locking)
			Expect(err).To(MatchError(ContainSubstring("panicked")))
			Expect(e.Status().CallbackPanics).To(Equal(uint64(1)))

			err = e.ModCustom(context.Background(), func(_ any, d *pulse.Descriptor) error {
				d.DelayUsecs = -1
				return nil
			}, nil, pulse.NonLocking)
			Expect(err).To(MatchError(pulse.ErrInvalidValue))

			Expect(e.ModCustom(context.Background(), nil, nil, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.Descriptor()).To(Equal(before))
		})
	})

	Context("waveform arrays", func() {
		It("advances the cursor once per train and wraps", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1), rec.Options(pulse.ShapeTrain)...)
			Expect(e.SetUpEndFuncArray([]float64{0.2, 0.4, 0.6}, pulse.DutyCycleFromArray, pulse.Locking)).To(Succeed())
			Expect(e.Status().ArrayCursor).To(Equal(0))

			Expect(e.DoTasks(7)).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			ends := rec.Ends()
			Expect(ends).To(HaveLen(7))
			want := []float64{0.2, 0.4, 0.6, 0.2, 0.4, 0.6, 0.2}
			for i, w := range want {
				Expect(ends[i].Train.DutyCycle).To(BeNumerically("~", w, 1e-9), "train %d", i)
			}
			Expect(e.Status().ArrayCursor).To(Equal(1))
		})

		It("drives the frequency", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1), rec.Options(pulse.ShapeTrain)...)
			Expect(e.SetUpEndFuncArray([]float64{1000, 250}, pulse.FreqFromArray, pulse.Locking)).To(Succeed())

			Expect(e.DoTasks(2)).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			ends := rec.Ends()
			Expect(ends).To(HaveLen(2))
			Expect(ends[0].Train.Frequency).To(BeNumerically("~", 1000, 1e-9))
			Expect(ends[1].Train.Frequency).To(BeNumerically("~", 250, 1e-9))
			Expect(ends[1].Train.DutyCycle).To(BeNumerically("~", 0.5, 1e-9))
		})

		It("rejects samples the target cannot take", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1))
			Expect(e.SetUpEndFuncArray(nil, pulse.DutyCycleFromArray, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.SetUpEndFuncArray([]float64{0.5, 1.5}, pulse.DutyCycleFromArray, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.SetUpEndFuncArray([]float64{10, 0}, pulse.FreqFromArray, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.InstallArray(nil, pulse.FreqFromArray, pulse.Locking)).To(MatchError(pulse.ErrInvalidValue))
			Expect(e.HasEndFunc()).To(BeFalse())
		})

		It("counts samples that cannot be applied and keeps the descriptor", func() {
			buf := &lockedBuffer{}
			logger := slog.New(slog.NewTextHandler(buf, nil))
			e := newEngine(mustPulse(0.001, 0.001, 1), pulse.WithLogger(logger))
			before := e.Descriptor()
			Expect(e.SetUpEndFuncArray([]float64{3e6}, pulse.FreqFromArray, pulse.Locking)).To(Succeed())

			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			Expect(e.Status().RejectedSamples).To(Equal(uint64(1)))
			Expect(e.Descriptor()).To(Equal(before))
			Expect(buf.String()).To(ContainSubstring("waveform sample rejected"))
		})

		It("reports and removes the array through the end func accessors", func() {
			e := newEngine(mustPulse(0.001, 0.001, 1))
			Expect(e.SetUpEndFuncArray([]float64{0.5}, pulse.DutyCycleFromArray, pulse.Locking)).To(Succeed())
			Expect(e.HasEndFunc()).To(BeTrue())

			e.SetEndFunc(pulse.PulseEnd(rec.PulseEnd))
			Expect(e.ClearEndFuncArray(pulse.Locking)).To(Succeed())
			Expect(e.HasEndFunc()).To(BeTrue())
			Expect(e.Status().ArrayCursor).To(Equal(-1))

			Expect(e.SetUpEndFuncArray([]float64{0.5}, pulse.DutyCycleFromArray, pulse.Locking)).To(Succeed())
			e.UnsetEndFunc()
			Expect(e.HasEndFunc()).To(BeFalse())
			Expect(e.Status().HasEndFunc).To(BeFalse())
		})
	})

	Context("callbacks", func() {
		It("survives panicking callbacks and logs them", func() {
			buf := &lockedBuffer{}
			logger := slog.New(slog.NewTextHandler(buf, nil))
			e := newEngine(mustPulse(0.001, 0.001, 2),
				pulse.WithLogger(logger),
				pulse.WithHighFunc(func(any) { panic("high") }),
				pulse.WithEndFunc(pulse.PulseEnd(func(any, pulse.PulseInfo) { panic("end") })),
			)

			Expect(e.DoTasks(2)).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			st := e.Status()
			Expect(st.TasksCompleted).To(Equal(uint64(2)))
			// Two high phases and one end call per task.
			Expect(st.CallbackPanics).To(Equal(uint64(6)))
			Expect(buf.String()).To(ContainSubstring("pulse: callback panicked"))
			Expect(buf.String()).To(ContainSubstring("callback=high"))
			Expect(buf.String()).To(ContainSubstring("value=high"))
			Expect(buf.String()).To(ContainSubstring("callback=end"))
			Expect(buf.String()).To(ContainSubstring("value=end"))
		})

		It("drops panics silently under RecoverOnly", func() {
			buf := &lockedBuffer{}
			e := newEngine(mustPulse(0.001, 0.001, 2),
				pulse.WithLogger(slog.New(slog.NewTextHandler(buf, nil))),
				pulse.WithCallbackPanicPolicy(safecall.RecoverOnly),
				pulse.WithHighFunc(func(any) { panic("high") }),
			)

			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(e.Status().TasksCompleted).To(Equal(uint64(1)))
			Expect(e.Status().CallbackPanics).To(BeZero())
			Expect(buf.String()).NotTo(ContainSubstring("panicked"))
		})

		It("rejects an unknown panic policy", func() {
			_, err := pulse.New(mustPulse(0.001, 0.001, 1), pulse.WithCallbackPanicPolicy(safecall.PanicPolicy(9)))
			Expect(err).To(MatchError(pulse.ErrInvalidValue))
		})

		It("runs the high phase first when asked", func() {
			e := newEngine(mustPulse(0.001, 0.001, 2), append(rec.Options(pulse.ShapeNone), pulse.WithPhaseOrder(pulse.HighFirst))...)
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			var got []bool
			for _, ed := range rec.Edges() {
				got = append(got, ed.High)
			}
			// Last phase was low, so no rest edge follows.
			Expect(got).To(Equal([]bool{true, false, true, false}))
		})

		It("skips zero-length phases", func() {
			e := newEngine(mustPulse(0, 0.001, 3), rec.Options(pulse.ShapeNone)...)
			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))

			Expect(rec.Count(true)).To(Equal(3))
			Expect(rec.Count(false)).To(Equal(1))
			Expect(e.Status().PhasesCompleted).To(Equal(uint64(3)))
		})

		It("installs callbacks on a running engine", func() {
			e := newEngine(mustPulse(0.001, 0.001, 2))
			rec.Attach(e, pulse.ShapePulse)
			Expect(e.HasEndFunc()).To(BeTrue())

			Expect(e.DoTask()).To(Succeed())
			Expect(e.WaitOnBusy(5 * time.Second)).To(Equal(pulse.WaitSignaled))
			Expect(rec.Count(true)).To(Equal(2))
			Expect(rec.Ends()).To(HaveLen(1))
		})
	})

	Context("Close", func() {
		It("is idempotent and fails later operations", func() {
			e, err := pulse.New(mustPulse(0.001, 0.001, 1))
			Expect(err).NotTo(HaveOccurred())

			Expect(e.Close()).To(Succeed())
			Expect(e.Close()).To(Succeed())
			Expect(e.DoTask()).To(MatchError(pulse.ErrClosed))
			Expect(e.StartInfiniteTrain()).To(MatchError(pulse.ErrClosed))
			Expect(e.ModDelay(0.002)).To(MatchError(pulse.ErrClosed))
			Expect(e.WaitOnBusy(time.Millisecond)).To(Equal(pulse.WaitSignaled))
		})
	})
})
