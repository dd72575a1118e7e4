// Package pulse provides a pulse-train timing engine driven by one dedicated worker.
//
// # Design highlights
//
//   - Engine: owns a worker goroutine locked to its OS thread that emits timed low/high phases.
//   - Descriptor: integer-microsecond pulse timing; constructed from pulse timing (NewPulse) or
//     train characteristics (NewTrain).
//   - Modifications: Locking (applied at the next train boundary) or NonLocking (applied now).
//   - Callbacks: high/low edge funcs per phase, an end-of-task func per train, and an optional
//     waveform array that drives frequency or duty cycle from train to train.
//   - Panics in callbacks are recovered, logged and counted; the worker keeps running
//     (WithCallbackPanicPolicy).
//
// # Lifecycle
//
//	d, _ := pulse.NewTrain(1000, 0.25, 0.5) // 1kHz, 25% duty, 0.5s
//	e, _ := pulse.New(d, pulse.WithHighFunc(setPin), pulse.WithLowFunc(clearPin))
//	defer e.Close()
//
//	_ = e.DoTasks(3)
//	e.WaitOnBusy(5 * time.Second)
//
// Only an idle engine accepts DoTask, DoTasks and StartInfiniteTrain; otherwise they return
// ErrBusy. A descriptor with Pulses == 0 is indefinite and can only run as an infinite train
// (DoTask returns ErrUnbounded); during a finite run a modification that would set the pulse
// count to 0 returns ErrUnbounded too. StopInfiniteTrain lets the current phase finish and
// starts no further phase, then the engine returns to idle. When a run ends the low edge is asserted once, unless the last phase
// was already low.
//
// Close returns ErrBusy unless the engine is idle. After Close every operation returns
// ErrClosed.
//
// # Timing
//
// Phase deadlines are absolute and chained from the start of the run, so callback time does not
// accumulate as drift. The worker sleeps until shortly before a deadline and spins for the rest
// (WithSpinThreshold). A phase whose whole window has already passed fires immediately and is
// counted as an overrun; the following phases keep their grid deadlines, so the run catches up
// with the grid instead of shifting it.
//
// # Train boundary
//
// After every full train the worker, in order:
//
//  1. applies the next waveform sample, if an array is installed;
//  2. calls the end func with the updated descriptor;
//  3. applies queued Locking modifications.
//
// Modifications issued from inside any callback (edge or end func) run on the worker and apply
// immediately, whatever their mode.
//
// # Metrics
//
// The engine records OpenTelemetry instruments through WithMeterProvider (default: the global
// provider): pulse.trains.completed, pulse.phases.completed, pulse.phase.overruns,
// pulse.phase.lateness, pulse.modifications and pulse.array.rejected_samples. Status returns
// the same counters as a snapshot.
package pulse
