package pulse

import (
	"fmt"
	"time"
)

// State is the engine state.
//
//	Idle → RunningFiniteTask        [DoTask / DoTasks]
//	RunningFiniteTask → Idle        [last task done, or UnDoTasks + current task done]
//	Idle → RunningInfiniteTrain     [StartInfiniteTrain]
//	RunningInfiniteTrain → Stopping [StopInfiniteTrain]
//	Stopping → Idle                 [current phase done]
type State int32

const (
	StateIdle State = iota
	StateRunningFiniteTask
	StateRunningInfiniteTrain
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunningFiniteTask:
		return "running-finite-task"
	case StateRunningInfiniteTrain:
		return "running-infinite-train"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// WaitResult is the outcome of WaitOnBusy.
type WaitResult int

const (
	// WaitSignaled means the engine was, or became, idle.
	WaitSignaled WaitResult = iota
	// WaitTimedOut means the timeout elapsed first. It is not an error.
	WaitTimedOut
)

func (r WaitResult) String() string {
	switch r {
	case WaitSignaled:
		return "signaled"
	case WaitTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("WaitResult(%d)", int(r))
	}
}

// ModMode selects when a modification takes effect on a busy engine.
type ModMode int

const (
	// Locking queues the change for the next train boundary and blocks the caller until it
	// is applied. At most one locking change per field is outstanding; a newer one replaces
	// the older, whose caller gets ErrSuperseded.
	Locking ModMode = iota
	// NonLocking applies the change in place immediately. The worker picks it up at the start
	// of its next phase, which may be in the middle of a train.
	NonLocking
)

func (m ModMode) String() string {
	switch m {
	case Locking:
		return "locking"
	case NonLocking:
		return "non-locking"
	default:
		return fmt.Sprintf("ModMode(%d)", int(m))
	}
}

// Field identifies a timing field of the Descriptor.
type Field int

const (
	FieldDelay Field = iota
	FieldDuration
	FieldPulseCount
	FieldTrainDuration
	FieldFrequency
	FieldDutyCycle

	numFields
)

func (f Field) String() string {
	switch f {
	case FieldDelay:
		return "delay"
	case FieldDuration:
		return "duration"
	case FieldPulseCount:
		return "pulse-count"
	case FieldTrainDuration:
		return "train-duration"
	case FieldFrequency:
		return "frequency"
	case FieldDutyCycle:
		return "duty-cycle"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}

// PhaseOrder selects which phase of a pulse comes first.
type PhaseOrder int

const (
	// LowFirst runs the delay (low) phase, then the duration (high) phase.
	LowFirst PhaseOrder = iota
	// HighFirst runs the duration (high) phase, then the delay (low) phase.
	HighFirst
)

func (o PhaseOrder) String() string {
	switch o {
	case LowFirst:
		return "low-first"
	case HighFirst:
		return "high-first"
	default:
		return fmt.Sprintf("PhaseOrder(%d)", int(o))
	}
}

// ArrayTarget selects the field a waveform array drives.
type ArrayTarget int

const (
	// DutyCycleFromArray applies each sample as the duty cycle of the next train.
	DutyCycleFromArray ArrayTarget = iota
	// FreqFromArray applies each sample as the frequency (Hz) of the next train.
	FreqFromArray
)

func (t ArrayTarget) String() string {
	switch t {
	case DutyCycleFromArray:
		return "duty-cycle"
	case FreqFromArray:
		return "frequency"
	default:
		return fmt.Sprintf("ArrayTarget(%d)", int(t))
	}
}

func (t ArrayTarget) field() Field {
	if t == FreqFromArray {
		return FieldFrequency
	}
	return FieldDutyCycle
}

// EdgeFunc is called on the worker at the start of a phase with the descriptor's TaskData.
//
// Its run time counts against the phase, so it must be short relative to the phase length.
// It must not issue Locking modifications (the worker would wait on itself).
type EdgeFunc func(taskData any)

// CustomFunc transforms the descriptor with a caller payload. It runs with the engine lock
// held, at a safe point for Locking mode. If it returns an error, or leaves the descriptor
// invalid, the change is discarded.
type CustomFunc func(payload any, d *Descriptor) error

// Status is a point-in-time view of an engine.
type Status struct {
	ID    string
	State State

	Descriptor Descriptor

	TasksCompleted  uint64
	TrainsCompleted uint64
	PhasesCompleted uint64
	Overruns        uint64
	RejectedSamples uint64
	CallbackPanics  uint64

	// PendingMods is true when a locking modification waits for the next train boundary.
	PendingMods bool
	HasEndFunc  bool
	// ArrayCursor is the next waveform index, or -1 when no array is installed.
	ArrayCursor int

	LastTrainAt time.Time
}
