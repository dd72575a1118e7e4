package pulse

import (
	"context"
	"fmt"
	"math"

	"github.com/evan-idocoding/pulsed/rt/safecall"
	"github.com/evan-idocoding/pulsed/rt/waveform"
)

// EndShape is the payload shape an end-of-task callback receives.
type EndShape int

const (
	// ShapeNone marks an unset EndFunc.
	ShapeNone EndShape = iota
	// ShapePulse delivers PulseInfo (microsecond delay/duration and pulse count).
	ShapePulse
	// ShapeTrain delivers TrainInfo (frequency, duty cycle and train duration).
	ShapeTrain
)

func (s EndShape) String() string {
	switch s {
	case ShapeNone:
		return "none"
	case ShapePulse:
		return "pulse"
	case ShapeTrain:
		return "train"
	default:
		return fmt.Sprintf("EndShape(%d)", int(s))
	}
}

// PulseInfo is the raw-pulse end-of-task payload.
type PulseInfo struct {
	DelayUsecs    int64
	DurationUsecs int64
	Pulses        int
	// Queued is true when more tasks (or infinite-train cycles) follow this one.
	Queued bool
}

// TrainInfo is the train-shaped end-of-task payload.
type TrainInfo struct {
	Frequency     float64
	DutyCycle     float64
	TrainDuration float64
	// Queued is true when more tasks (or infinite-train cycles) follow this one.
	Queued bool
}

// EndFunc is an end-of-task callback in one of two payload shapes. Build it with PulseEnd or
// TrainEnd. The zero value is "no end func".
type EndFunc struct {
	shape EndShape
	pulse func(endFuncData any, info PulseInfo)
	train func(endFuncData any, info TrainInfo)
}

// PulseEnd builds an EndFunc receiving PulseInfo.
func PulseEnd(fn func(endFuncData any, info PulseInfo)) EndFunc {
	if fn == nil {
		return EndFunc{}
	}
	return EndFunc{shape: ShapePulse, pulse: fn}
}

// TrainEnd builds an EndFunc receiving TrainInfo.
func TrainEnd(fn func(endFuncData any, info TrainInfo)) EndFunc {
	if fn == nil {
		return EndFunc{}
	}
	return EndFunc{shape: ShapeTrain, train: fn}
}

// Shape returns the payload shape.
func (f EndFunc) Shape() EndShape { return f.shape }

// IsZero reports whether f is unset.
func (f EndFunc) IsZero() bool { return f.shape == ShapeNone }

// SetHighFunc installs the high phase callback. It takes effect at the next phase.
func (e *Engine) SetHighFunc(fn EdgeFunc) {
	e.mu.Lock()
	e.high = fn
	e.mu.Unlock()
}

// SetLowFunc installs the low phase callback. It takes effect at the next phase.
func (e *Engine) SetLowFunc(fn EdgeFunc) {
	e.mu.Lock()
	e.low = fn
	e.mu.Unlock()
}

// SetEndFunc installs the end-of-task callback. It takes effect at the next train boundary.
func (e *Engine) SetEndFunc(fn EndFunc) {
	e.mu.Lock()
	e.end = fn
	e.mu.Unlock()
}

// UnsetEndFunc removes the end-of-task callback and any installed waveform array.
func (e *Engine) UnsetEndFunc() {
	e.mu.Lock()
	e.end = EndFunc{}
	e.array = nil
	e.mu.Unlock()
}

// HasEndFunc reports whether an end-of-task callback or a waveform array is installed.
func (e *Engine) HasEndFunc() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.end.IsZero() || e.array != nil
}

// SetUpEndFuncArray binds samples as the source of target for successive trains and resets the
// cursor to 0. After every train the next sample is applied, then the user end func (if any)
// runs with the updated descriptor.
//
// Duty cycle samples must lie in [0, 1]; frequency samples must be > 0.
func (e *Engine) SetUpEndFuncArray(samples []float64, target ArrayTarget, mode ModMode) error {
	arr, err := waveform.New(samples)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return e.InstallArray(arr, target, mode)
}

// InstallArray is like SetUpEndFuncArray for an Array the caller already built. The cursor is
// reset to 0; the engine only reads the array.
func (e *Engine) InstallArray(arr *waveform.Array, target ArrayTarget, mode ModMode) error {
	if arr == nil {
		return fmt.Errorf("%w: nil array", ErrInvalidValue)
	}
	if err := validateArray(arr, target); err != nil {
		return err
	}
	return e.submit(context.Background(), slotArray, "array", mode, nil, func() error {
		arr.Reset()
		e.array = arr
		e.arrayTarget = target
		return nil
	})
}

// ClearEndFuncArray removes the waveform array, keeping the user end func.
func (e *Engine) ClearEndFuncArray(mode ModMode) error {
	return e.submit(context.Background(), slotArray, "array", mode, nil, func() error {
		e.array = nil
		return nil
	})
}

func validateArray(arr *waveform.Array, target ArrayTarget) error {
	lo, hi := arr.Bounds()
	switch target {
	case DutyCycleFromArray:
		if lo < 0 || hi > 1 {
			return fmt.Errorf("%w: duty cycle samples must be in [0, 1], got [%v, %v]", ErrInvalidValue, lo, hi)
		}
	case FreqFromArray:
		if lo <= 0 || math.IsInf(hi, 0) {
			return fmt.Errorf("%w: frequency samples must be > 0, got min %v", ErrInvalidValue, lo)
		}
	default:
		return fmt.Errorf("%w: unknown array target %v", ErrInvalidValue, target)
	}
	return nil
}

// applyArraySampleLocked advances the array and applies the sample. e.mu must be held.
func (e *Engine) applyArraySampleLocked() {
	if e.array == nil {
		return
	}
	v, idx := e.array.Next()
	nd, err := e.desc.with(e.arrayTarget.field(), v)
	if err != nil {
		e.rejectedSamples.Add(1)
		e.inst.rejectedSample(e.ctx, e.arrayTarget)
		e.log.Warn("pulse: waveform sample rejected",
			"target", e.arrayTarget.String(),
			"index", idx,
			"value", v,
			"err", err,
		)
		return
	}
	e.desc = nd
}

func (e *Engine) callEnd(fn EndFunc, d Descriptor, queued bool) {
	switch fn.shape {
	case ShapePulse:
		info := PulseInfo{
			DelayUsecs:    d.DelayUsecs,
			DurationUsecs: d.DurationUsecs,
			Pulses:        d.Pulses,
			Queued:        queued,
		}
		safecall.Do2(e.endGuard, fn.pulse, d.EndFuncData, info)
	case ShapeTrain:
		info := TrainInfo{
			Frequency:     d.Frequency(),
			DutyCycle:     d.DutyCycle(),
			TrainDuration: d.TrainDuration(),
			Queued:        queued,
		}
		safecall.Do2(e.endGuard, fn.train, d.EndFuncData, info)
	}
}
