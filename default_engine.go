package pulsed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evan-idocoding/pulsed/rt/pulse"
	"github.com/evan-idocoding/pulsed/rt/pulse/pulseprom"
	"github.com/evan-idocoding/pulsed/rt/safecall"
	"github.com/evan-idocoding/pulsed/rt/trigger"
	"github.com/evan-idocoding/pulsed/rt/waveform"
)

var (
	// ErrAlreadyStarted indicates Start/Run was called more than once.
	ErrAlreadyStarted = errors.New("pulsed: runner already started")
	// ErrNotStarted indicates Wait was called before Start.
	ErrNotStarted = errors.New("pulsed: runner not started")
)

// Runner is an assembled engine with its optional schedule, waveform and metrics registry.
type Runner struct {
	// Assembly outputs (optional depending on spec).
	Engine   *pulse.Engine
	Trigger  *trigger.Trigger
	Registry *prometheus.Registry

	// --- internals ---

	log             *slog.Logger
	hooks           Hooks
	hookGuard       *safecall.Guard
	signals         SignalSpec
	run             RunSpec
	textfile        string
	shutdownTimeout time.Duration

	mu        sync.Mutex
	started   bool
	startCtx  context.Context
	startStop context.CancelFunc

	primaryErr error

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
	shutdownErr  error

	doneCh  chan struct{}
	waitErr error
}

// NewDefaultEngine assembles a default-safe Runner.
//
// Assembly errors are fail-fast and will panic.
// Runtime errors are returned from Start/Wait/Run/Shutdown.
func NewDefaultEngine(spec EngineSpec) *Runner {
	log := spec.Logger
	if log == nil {
		log = slog.Default()
	}
	r := &Runner{
		log:             log,
		hooks:           spec.Hooks,
		hookGuard:       safecall.New(safecall.WithName("pulsed.hook"), safecall.WithLogger(log)),
		signals:         spec.Signals,
		run:             spec.Run,
		shutdownTimeout: resolveDuration(spec.ShutdownTimeout, 30*time.Second),
		shutdownCh:      make(chan struct{}),
		doneCh:          make(chan struct{}),
	}

	if spec.Run.Tasks < 0 {
		panic(fmt.Sprintf("pulsed: EngineSpec.Run.Tasks=%d (must be >= 0)", spec.Run.Tasks))
	}
	if spec.Run.Tasks > 0 && spec.Run.Infinite {
		panic("pulsed: EngineSpec.Run: Tasks and Infinite are mutually exclusive")
	}

	// ---- engine ----

	opts := append([]pulse.Option{pulse.WithLogger(log)}, spec.Options...)
	e, err := pulse.New(spec.Descriptor, opts...)
	if err != nil {
		panic(fmt.Sprintf("pulsed: EngineSpec.Descriptor: %v", err))
	}
	r.Engine = e

	// ---- waveform ----

	if spec.Waveform != nil {
		samples, err := spec.Waveform.samples()
		if err != nil {
			_ = e.Close()
			panic(fmt.Sprintf("pulsed: EngineSpec.Waveform: %v", err))
		}
		if err := e.SetUpEndFuncArray(samples, spec.Waveform.Target, pulse.Locking); err != nil {
			_ = e.Close()
			panic(fmt.Sprintf("pulsed: EngineSpec.Waveform: %v", err))
		}
	}

	// ---- schedules ----

	if len(spec.Schedules) != 0 {
		tr := trigger.New(e, trigger.WithLogger(log))
		for i, s := range spec.Schedules {
			if _, err := tr.Add(s.Spec, s.Tasks); err != nil {
				_ = e.Close()
				panic(fmt.Sprintf("pulsed: EngineSpec.Schedules[%d]: %v", i, err))
			}
		}
		r.Trigger = tr
	}

	// ---- metrics ----

	if spec.Metrics != nil {
		reg := spec.Metrics.Registry
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		if err := reg.Register(pulseprom.NewCollector(e)); err != nil {
			_ = e.Close()
			panic(fmt.Sprintf("pulsed: EngineSpec.Metrics: %v", err))
		}
		r.Registry = reg
		r.textfile = strings.TrimSpace(spec.Metrics.TextfilePath)
	}

	return r
}

// Run is equivalent to Start → wait for exit condition → Shutdown → return.
//
// Exit conditions: the finite run completes (when no schedule is configured), ctx ends, or a
// signal arrives. It is NOT idempotent. If called after Start, it returns ErrAlreadyStarted.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.Start(ctx); err != nil {
		return err
	}

	sigCh, stopSignals := r.runSignalWatcher()
	defer stopSignals()

	select {
	case <-r.doneCh:
		return r.Wait()
	case <-ctx.Done():
		r.recordPrimary(ctx.Err())
		_ = r.Shutdown(context.Background())
		return r.Wait()
	case sig := <-sigCh:
		r.log.Info("pulsed: signal received, shutting down", "signal", sig.String())
		_ = r.Shutdown(context.Background())
		return r.Wait()
	}
}

// Start runs OnStart hooks, starts the schedule and issues the configured run.
// It is NOT idempotent.
func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.startCtx, r.startStop = context.WithCancel(ctx)
	r.mu.Unlock()

	// 1) OnStart hooks.
	for i, h := range r.hooks.OnStart {
		if h == nil {
			continue
		}
		if err := r.callHook(r.startCtx, h); err != nil {
			err = fmt.Errorf("pulsed: OnStart[%d]: %w", i, err)
			r.recordPrimary(err)
			r.initiateShutdown()
			return err
		}
	}

	// 2) schedule
	if r.Trigger != nil {
		r.Trigger.Start()
	}

	// 3) run
	var err error
	switch {
	case r.run.Infinite:
		err = r.Engine.StartInfiniteTrain()
	case r.run.Tasks > 0:
		err = r.Engine.DoTasks(r.run.Tasks)
	}
	if err != nil {
		err = fmt.Errorf("pulsed: start run: %w", err)
		r.recordPrimary(err)
		r.initiateShutdown()
		return err
	}

	// A finite run without a schedule ends the runner when the engine goes idle.
	if r.Trigger == nil && !r.run.Infinite {
		go func() {
			if err := r.Engine.WaitIdle(r.startCtx); err == nil {
				r.initiateShutdown()
			}
		}()
	}
	return nil
}

// Wait waits until the runner fully stops.
//
// It is idempotent. If Start was never called, it returns ErrNotStarted.
func (r *Runner) Wait() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return ErrNotStarted
	}
	ch := r.doneCh
	r.mu.Unlock()

	<-ch

	r.mu.Lock()
	err := r.waitErr
	r.mu.Unlock()
	return err
}

// Shutdown triggers shutdown. It is idempotent.
//
// If Start was never called, Shutdown closes the engine and returns nil.
// If Shutdown is already in progress, calling it again waits again using the new ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		_ = r.Engine.Close()
		return nil
	}
	shutdownCh := r.shutdownCh
	r.mu.Unlock()

	r.initiateShutdown()

	select {
	case <-shutdownCh:
		r.mu.Lock()
		err := r.shutdownErr
		r.mu.Unlock()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) recordPrimary(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	if r.primaryErr == nil {
		r.primaryErr = err
	}
	r.mu.Unlock()
}

func (r *Runner) initiateShutdown() {
	r.shutdownOnce.Do(func() {
		go r.doShutdown()
	})
}

func (r *Runner) doShutdown() {
	r.mu.Lock()
	stop := r.startStop
	r.mu.Unlock()
	if stop != nil {
		stop()
	}

	ctx := context.Background()
	cancel := func() {}
	if r.shutdownTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.shutdownTimeout)
	}
	defer cancel()

	var errs []error

	// 1) stop the schedule so nothing new starts
	if r.Trigger != nil {
		if err := r.Trigger.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trigger stop: %w", err))
		}
	}

	// 2) let the engine finish the current phase or task
	e := r.Engine
	e.UnDoTasks()
	if e.State() == pulse.StateRunningInfiniteTrain {
		_ = e.StopInfiniteTrain()
	}
	if err := e.WaitIdle(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine wait idle: %w", err))
	}

	// 3) OnShutdown hooks (sequential; best-effort run all)
	for i, h := range r.hooks.OnShutdown {
		if h == nil {
			continue
		}
		if err := r.callHook(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("OnShutdown[%d]: %w", i, err))
		}
	}

	// 4) final metrics snapshot
	if r.Registry != nil && r.textfile != "" {
		if err := prometheus.WriteToTextfile(r.textfile, r.Registry); err != nil {
			errs = append(errs, fmt.Errorf("metrics textfile: %w", err))
		}
	}

	// 5) engine last
	if err := e.Close(); err != nil {
		errs = append(errs, fmt.Errorf("engine close: %w", err))
	}

	shutdownErr := errors.Join(errs...)

	r.mu.Lock()
	r.shutdownErr = shutdownErr
	primary := r.primaryErr
	r.waitErr = errors.Join(primary, shutdownErr)
	r.mu.Unlock()

	st := e.Status()
	r.log.Info("pulsed: runner stopped",
		"tasks", st.TasksCompleted,
		"trains", st.TrainsCompleted,
		"overruns", st.Overruns,
	)

	close(r.shutdownCh)
	close(r.doneCh)
}

func (r *Runner) runSignalWatcher() (<-chan os.Signal, func()) {
	// No signals requested.
	if r.signals.Disable {
		return nil, func() {}
	}
	sigs := r.signals.Signals
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	if len(sigs) == 0 {
		return nil, func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	stop := func() {
		signal.Stop(ch)
	}
	return ch, stop
}

// --- spec types ---

type EngineSpec struct {
	// Descriptor is the initial timing. An invalid descriptor panics.
	Descriptor pulse.Descriptor

	// Options are forwarded to pulse.New after the logger option.
	Options []pulse.Option

	// Logger is used by the engine, the trigger and the runner. nil means slog.Default().
	Logger *slog.Logger

	// Waveform installs a waveform array before the first run (optional).
	Waveform *WaveformSpec

	// Schedules fire DoTasks on cron specs (optional). A schedule that comes due while the
	// engine is busy is skipped.
	Schedules []ScheduleSpec

	// Run is issued by Start.
	Run RunSpec

	// Metrics registers a Prometheus collector for the engine (optional).
	Metrics *MetricsSpec

	// Signals controls whether Run() listens for OS signals and triggers shutdown.
	//
	// If Disable is false and Signals is nil/empty, a small default set is used:
	//   - Unix: SIGINT + SIGTERM
	//   - Non-Unix: os.Interrupt
	Signals SignalSpec

	// ShutdownTimeout bounds the wait for the engine to go idle, plus hooks.
	//
	// <= 0 means using a conservative default (currently 30s).
	ShutdownTimeout time.Duration

	Hooks Hooks
}

// RunSpec selects what Start issues. The zero value issues nothing (schedules only).
type RunSpec struct {
	// Tasks > 0 runs DoTasks(Tasks).
	Tasks int
	// Infinite starts an infinite train. Mutually exclusive with Tasks.
	Infinite bool
}

// WaveformSpec provides samples either directly or from the cosine generator.
type WaveformSpec struct {
	Target pulse.ArrayTarget

	// Samples wins over Cosine when both are set.
	Samples []float64
	Cosine  *CosineSpec
}

// CosineSpec parameterizes waveform.Cosine.
type CosineSpec struct {
	Length  int
	Period  int
	Offset  float64
	Scaling float64
}

func (w *WaveformSpec) samples() ([]float64, error) {
	if len(w.Samples) != 0 {
		return w.Samples, nil
	}
	if w.Cosine == nil {
		return nil, errors.New("no samples and no cosine")
	}
	c := w.Cosine
	return waveform.Cosine(c.Length, c.Period, c.Offset, c.Scaling)
}

type ScheduleSpec struct {
	// Spec is a cron spec: five fields, six with leading seconds, or a descriptor like @every 10s.
	Spec string
	// Tasks is the DoTasks count per firing.
	Tasks int
}

type MetricsSpec struct {
	// Registry receives the collector. nil means a new registry.
	Registry *prometheus.Registry

	// TextfilePath, when set, receives a final snapshot in the node-exporter textfile format at
	// shutdown.
	TextfilePath string
}

type SignalSpec struct {
	// Disable disables signal handling in Run().
	Disable bool

	// Signals declares which signals Run() listens to. nil/empty means using defaults.
	Signals []os.Signal
}

type Hooks struct {
	// OnStart runs before the run is issued.
	// Hooks are executed sequentially. Any error fails Start/Run.
	OnStart []func(context.Context) error

	// OnShutdown runs after the engine is idle and before it is closed.
	// Hooks are executed sequentially; errors are aggregated.
	OnShutdown []func(context.Context) error
}

// --- helpers ---

func resolveDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func (r *Runner) callHook(ctx context.Context, fn func(context.Context) error) error {
	return r.hookGuard.Err(func() error { return fn(ctx) })
}
