package pulse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/evan-idocoding/pulsed/rt/safecall"
	"github.com/evan-idocoding/pulsed/rt/waveform"
)

type runKind int

const (
	runFinite runKind = iota
	runInfinite
)

// Engine drives one dedicated worker that emits timed low/high phases.
//
// It is safe for concurrent use. Callbacks run on the worker.
type Engine struct {
	id  string
	cfg config
	log *slog.Logger
	ctx context.Context
	// inst is created once in New; the worker only records into it.
	inst *instruments

	highGuard   *safecall.Guard
	lowGuard    *safecall.Guard
	endGuard    *safecall.Guard
	customGuard *safecall.Guard

	state     atomic.Int32  // State
	workerGID atomic.Uint64 // goroutine running loop

	mu sync.Mutex

	desc        Descriptor
	high        EdgeFunc
	low         EdgeFunc
	end         EndFunc
	array       *waveform.Array
	arrayTarget ArrayTarget

	slots [numSlots]*modRequest

	remaining int // finite tasks left after the current one
	closed    bool
	lastTrain time.Time

	idleCh chan struct{} // closed on every transition to Idle, then replaced

	tasksCompleted  atomic.Uint64
	trainsCompleted atomic.Uint64
	phasesCompleted atomic.Uint64
	overruns        atomic.Uint64
	rejectedSamples atomic.Uint64
	callbackPanics  atomic.Uint64

	cmds chan runKind
	quit chan struct{}
	done chan struct{}
}

// New validates d, prepares metrics and callback guards, and starts the worker.
//
// On error no worker is left running.
func New(d Descriptor, opts ...Option) (*Engine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	c := config{spin: defaultSpinThreshold, modMode: Locking}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.order != LowFirst && c.order != HighFirst {
		return nil, fmt.Errorf("%w: unknown phase order %v", ErrInvalidValue, c.order)
	}
	if c.modMode != Locking && c.modMode != NonLocking {
		return nil, fmt.Errorf("%w: unknown mod mode %v", ErrInvalidValue, c.modMode)
	}
	switch c.panics {
	case safecall.RecoverAndReport, safecall.RecoverOnly, safecall.RepanicAfterReport:
	default:
		return nil, fmt.Errorf("%w: unknown panic policy %v", ErrInvalidValue, c.panics)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.meter == nil {
		c.meter = otel.GetMeterProvider()
	}

	inst, err := newInstruments(c.meter, c.id)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:     c.id,
		cfg:    c,
		log:    c.logger.With(slog.String("engine_id", c.id)),
		ctx:    context.Background(),
		inst:   inst,
		desc:   d,
		high:   c.high,
		low:    c.low,
		end:    c.end,
		idleCh: make(chan struct{}),
		cmds:   make(chan runKind, 1),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	base := safecall.New(
		safecall.WithName("pulse"),
		safecall.WithPanicPolicy(c.panics),
		safecall.WithPanicHandler(e.callbackPanicked),
		safecall.WithLogger(c.logger),
	)
	e.highGuard = base.With(safecall.Tag{Key: "callback", Value: "high"})
	e.lowGuard = base.With(safecall.Tag{Key: "callback", Value: "low"})
	e.endGuard = base.With(safecall.Tag{Key: "callback", Value: "end"})
	e.customGuard = base.With(safecall.Tag{Key: "callback", Value: "custom"})
	e.state.Store(int32(StateIdle))

	ready := make(chan struct{})
	go e.loop(ready)
	<-ready

	e.log.Debug("pulse: engine started", "descriptor", d.String(), "order", c.order.String())
	return e, nil
}

// ID returns the engine ID.
func (e *Engine) ID() string { return e.id }

// State returns the current state. It is lock-free.
func (e *Engine) State() State { return State(e.state.Load()) }

// IsBusy reports whether the engine is not Idle. It is lock-free.
func (e *Engine) IsBusy() bool { return e.State() != StateIdle }

// DoTask runs the configured train once.
//
// Errors: ErrBusy (not Idle), ErrUnbounded (Pulses == 0), ErrClosed.
func (e *Engine) DoTask() error { return e.DoTasks(1) }

// DoTasks runs the configured train n times back to back. The engine stays busy for the whole
// run; WaitOnBusy returns once the last task is done.
func (e *Engine) DoTasks(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: tasks=%d (must be > 0)", ErrInvalidValue, n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.startableLocked(); err != nil {
		return err
	}
	if e.desc.Unbounded() {
		return ErrUnbounded
	}
	e.remaining = n - 1
	e.state.Store(int32(StateRunningFiniteTask))
	e.cmds <- runFinite
	return nil
}

// UnDoTasks drops the tasks queued behind the current one. The current task completes.
func (e *Engine) UnDoTasks() {
	e.mu.Lock()
	if e.State() == StateRunningFiniteTask {
		e.remaining = 0
	}
	e.mu.Unlock()
}

// StartInfiniteTrain repeats the train until StopInfiniteTrain. With Pulses == 0 each cycle is a
// single pulse.
func (e *Engine) StartInfiniteTrain() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.startableLocked(); err != nil {
		return err
	}
	e.state.Store(int32(StateRunningInfiniteTrain))
	e.cmds <- runInfinite
	return nil
}

// StopInfiniteTrain asks a running infinite train to stop. The phase in progress completes,
// then the engine returns to Idle; use WaitOnBusy to wait for it.
func (e *Engine) StopInfiniteTrain() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st := e.State(); st != StateRunningInfiniteTrain {
		return fmt.Errorf("%w: stop in state %s", ErrInvalidState, st)
	}
	e.state.Store(int32(StateStopping))
	return nil
}

// WaitOnBusy blocks until the engine is Idle or timeout elapses. It never spins.
//
// A timeout <= 0 only checks the current state.
func (e *Engine) WaitOnBusy(timeout time.Duration) WaitResult {
	ch, idle := e.idleSignal()
	if idle {
		return WaitSignaled
	}
	if timeout <= 0 {
		return WaitTimedOut
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return WaitSignaled
	case <-t.C:
		return WaitTimedOut
	}
}

// WaitIdle blocks until the engine is Idle or ctx ends.
func (e *Engine) WaitIdle(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ch, idle := e.idleSignal()
	if idle {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// idleSignal returns the channel closed on the next Idle transition. The state is checked under
// the same lock the worker holds when it transitions, so no transition is missed.
func (e *Engine) idleSignal() (<-chan struct{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idleCh, e.State() == StateIdle
}

// Close stops the worker. It returns ErrBusy unless the engine is Idle. Close is idempotent.
//
// Callback data references are not touched.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.State() != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	e.closed = true
	close(e.quit)
	e.mu.Unlock()

	<-e.done
	e.log.Debug("pulse: engine closed")
	return nil
}

// Descriptor returns a copy of the current descriptor.
func (e *Engine) Descriptor() Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc
}

// PulseDelay returns the low phase length in seconds.
func (e *Engine) PulseDelay() float64 { return e.Descriptor().Delay() }

// PulseDuration returns the high phase length in seconds.
func (e *Engine) PulseDuration() float64 { return e.Descriptor().Duration() }

// PulseCount returns the number of pulses per train (0 = indefinite).
func (e *Engine) PulseCount() int { return e.Descriptor().Pulses }

// TrainDuration returns the train length in seconds (0 for indefinite trains).
func (e *Engine) TrainDuration() float64 { return e.Descriptor().TrainDuration() }

// TrainFrequency returns the pulse frequency in Hz.
func (e *Engine) TrainFrequency() float64 { return e.Descriptor().Frequency() }

// TrainDutyCycle returns the duty cycle.
func (e *Engine) TrainDutyCycle() float64 { return e.Descriptor().DutyCycle() }

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		ID:          e.id,
		State:       e.State(),
		Descriptor:  e.desc,
		PendingMods: e.hasPendingLocked(),
		HasEndFunc:  !e.end.IsZero() || e.array != nil,
		ArrayCursor: -1,
		LastTrainAt: e.lastTrain,
	}
	if e.array != nil {
		st.ArrayCursor = e.array.Cursor()
	}
	e.mu.Unlock()

	st.TasksCompleted = e.tasksCompleted.Load()
	st.TrainsCompleted = e.trainsCompleted.Load()
	st.PhasesCompleted = e.phasesCompleted.Load()
	st.Overruns = e.overruns.Load()
	st.RejectedSamples = e.rejectedSamples.Load()
	st.CallbackPanics = e.callbackPanics.Load()
	return st
}

// callbackPanicked is the PanicHandler shared by all callback guards.
func (e *Engine) callbackPanicked(info safecall.PanicInfo) {
	callback := ""
	for _, t := range info.Tags {
		if t.Key == "callback" {
			callback = t.Value
		}
	}
	e.callbackPanics.Add(1)
	e.inst.callbackPanic(e.ctx, callback)
	e.log.Error("pulse: callback panicked",
		slog.String("callback", callback),
		slog.String("value", fmt.Sprint(info.Value)),
		slog.String("stack", string(info.Stack)),
	)
}

func (e *Engine) startableLocked() error {
	if e.closed {
		return ErrClosed
	}
	if st := e.State(); st != StateIdle {
		return fmt.Errorf("%w: state %s", ErrBusy, st)
	}
	return nil
}
