// Package pulsed provides default-safe assembly helpers for running a pulse/train timing engine
// as a long-lived process.
//
// The main entry point is:
//   - NewDefaultEngine: assemble a runnable, shutdownable Runner around a *pulse.Engine, with an
//     optional waveform array, cron schedules and a Prometheus registry.
//
// You can start using pulsed by only calling NewDefaultEngine and Run. When you need more
// control, pulsed exposes lower-level building blocks in subpackages (listed below).
//
// # Quick start: a bounded run
//
//	d, _ := pulse.NewTrain(1000, 0.25, 0.5) // 1 kHz, 25% duty, 500 pulses
//
//	r := pulsed.NewDefaultEngine(pulsed.EngineSpec{
//		Descriptor: d,
//		Options: []pulse.Option{
//			pulse.WithHighFunc(func(any) { pin.High() }),
//			pulse.WithLowFunc(func(any) { pin.Low() }),
//		},
//		Run: pulsed.RunSpec{Tasks: 3},
//	})
//
//	_ = r.Run(context.Background())
//
// Run returns once the three trains are done, ctx ends, or a signal arrives.
//
// # Quick start: a cosine-modulated infinite train
//
//	r := pulsed.NewDefaultEngine(pulsed.EngineSpec{
//		Descriptor: d,
//		Waveform: &pulsed.WaveformSpec{
//			Target: pulse.DutyCycleFromArray,
//			Cosine: &pulsed.CosineSpec{Length: 100, Period: 100, Offset: 0.5, Scaling: 0.4},
//		},
//		Run:     pulsed.RunSpec{Infinite: true},
//		Metrics: &pulsed.MetricsSpec{TextfilePath: "/var/lib/node_exporter/pulse.prom"},
//	})
//
// # Runner lifecycle and defaults
//
// Runner provides Start/Wait/Shutdown/Run:
//   - Start: runs OnStart hooks, starts the schedule, then issues the configured run (not idempotent)
//   - Wait: waits until the runner fully stops (idempotent)
//   - Shutdown: stops the schedule, lets the engine finish its current phase or task, runs
//     OnShutdown hooks, writes the metrics textfile and closes the engine (idempotent), using
//     ShutdownTimeout (default: 30s)
//   - Run: Start → wait for an exit condition → Shutdown → Wait
//
// A finite run with no schedule is itself an exit condition. With schedules configured the runner
// keeps going until ctx ends or a signal arrives.
//
// Signal handling in Run:
//   - Enabled by default (SignalSpec.Disable=false).
//   - Default signals:
//   - Unix: SIGINT + SIGTERM
//   - Non-Unix: os.Interrupt
//
// Assembly errors (invalid descriptor, bad waveform, unparsable schedule, duplicate collector)
// panic in NewDefaultEngine. Runtime errors are returned from Start/Wait/Run/Shutdown.
//
// # Building blocks (when you need finer-grained control)
//
//   - github.com/evan-idocoding/pulsed/rt/pulse: the engine (descriptor, state machine, modifications, callbacks)
//   - github.com/evan-idocoding/pulsed/rt/pulse/pulsetest: recording callbacks for tests
//   - github.com/evan-idocoding/pulsed/rt/pulse/pulseprom: Prometheus collector over engine status
//   - github.com/evan-idocoding/pulsed/rt/waveform: sample arrays and the cosine generator
//   - github.com/evan-idocoding/pulsed/rt/trigger: cron-driven DoTasks with skip-if-busy
//   - github.com/evan-idocoding/pulsed/rt/safecall: panic-guarded synchronous calls
package pulsed
