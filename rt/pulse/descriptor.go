package pulse

import (
	"fmt"
	"math"
)

const (
	usecsPerSec = 1e6

	// maxUsecs bounds phase lengths so conversions stay exact in float64.
	maxUsecs = 1 << 52
)

// Descriptor is the timing of a pulse or train.
//
// Times are integer microseconds so long runs do not accumulate floating-point drift.
// A pulse is one low phase (DelayUsecs) and one high phase (DurationUsecs). A train is Pulses
// pulses; Pulses == 0 means indefinite.
//
// TaskData and EndFuncData are borrowed references owned by the caller. The engine passes them
// to callbacks and never releases them.
type Descriptor struct {
	DelayUsecs    int64
	DurationUsecs int64
	Pulses        int

	TaskData    any
	EndFuncData any
}

// NewPulse builds a descriptor from pulse timing in seconds.
func NewPulse(delaySecs, durationSecs float64, pulses int) (Descriptor, error) {
	delay, err := secsToUsecs("delay", delaySecs)
	if err != nil {
		return Descriptor{}, err
	}
	dur, err := secsToUsecs("duration", durationSecs)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{DelayUsecs: delay, DurationUsecs: dur, Pulses: pulses}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// NewTrain builds a descriptor from train characteristics.
//
// trainDurationSecs == 0 builds an indefinite train.
func NewTrain(frequencyHz, dutyCycle, trainDurationSecs float64) (Descriptor, error) {
	period, err := periodFromFrequency(frequencyHz)
	if err != nil {
		return Descriptor{}, err
	}
	delay, dur, err := splitPeriod(period, dutyCycle)
	if err != nil {
		return Descriptor{}, err
	}
	d := Descriptor{DelayUsecs: delay, DurationUsecs: dur}
	if trainDurationSecs != 0 {
		n, err := pulsesForDuration(period, trainDurationSecs)
		if err != nil {
			return Descriptor{}, err
		}
		d.Pulses = n
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if d.DelayUsecs < 0 || d.DelayUsecs > maxUsecs {
		return fmt.Errorf("%w: delay=%dus (must be in [0, %d])", ErrInvalidValue, d.DelayUsecs, int64(maxUsecs))
	}
	if d.DurationUsecs < 0 || d.DurationUsecs > maxUsecs {
		return fmt.Errorf("%w: duration=%dus (must be in [0, %d])", ErrInvalidValue, d.DurationUsecs, int64(maxUsecs))
	}
	if d.DelayUsecs+d.DurationUsecs < 1 {
		return fmt.Errorf("%w: delay+duration must be >= 1us", ErrInvalidValue)
	}
	if d.Pulses < 0 {
		return fmt.Errorf("%w: pulses=%d (must be >= 0)", ErrInvalidValue, d.Pulses)
	}
	return nil
}

// PeriodUsecs returns DelayUsecs + DurationUsecs.
func (d Descriptor) PeriodUsecs() int64 { return d.DelayUsecs + d.DurationUsecs }

// Unbounded reports whether the train is indefinite (Pulses == 0).
func (d Descriptor) Unbounded() bool { return d.Pulses == 0 }

// Delay returns the low phase length in seconds.
func (d Descriptor) Delay() float64 { return float64(d.DelayUsecs) / usecsPerSec }

// Duration returns the high phase length in seconds.
func (d Descriptor) Duration() float64 { return float64(d.DurationUsecs) / usecsPerSec }

// Frequency returns 1/(delay+duration) in Hz.
func (d Descriptor) Frequency() float64 {
	p := d.PeriodUsecs()
	if p <= 0 {
		return 0
	}
	return usecsPerSec / float64(p)
}

// DutyCycle returns duration/(delay+duration).
func (d Descriptor) DutyCycle() float64 {
	p := d.PeriodUsecs()
	if p <= 0 {
		return 0
	}
	return float64(d.DurationUsecs) / float64(p)
}

// TrainDuration returns Pulses*(delay+duration) in seconds; 0 for indefinite trains.
func (d Descriptor) TrainDuration() float64 {
	return float64(d.Pulses) * float64(d.PeriodUsecs()) / usecsPerSec
}

func (d Descriptor) String() string {
	return fmt.Sprintf("delay=%dus duration=%dus pulses=%d", d.DelayUsecs, d.DurationUsecs, d.Pulses)
}

// with returns a copy of d with field f set to v and dependent fields recomputed.
// d is not modified.
func (d Descriptor) with(f Field, v float64) (Descriptor, error) {
	switch f {
	case FieldDelay:
		us, err := secsToUsecs("delay", v)
		if err != nil {
			return d, err
		}
		d.DelayUsecs = us
	case FieldDuration:
		us, err := secsToUsecs("duration", v)
		if err != nil {
			return d, err
		}
		d.DurationUsecs = us
	case FieldPulseCount:
		if math.IsNaN(v) || v < 0 || v > math.MaxInt32 || v != math.Trunc(v) {
			return d, fmt.Errorf("%w: pulse count=%v (must be a non-negative integer)", ErrInvalidValue, v)
		}
		d.Pulses = int(v)
	case FieldTrainDuration:
		n, err := pulsesForDuration(d.PeriodUsecs(), v)
		if err != nil {
			return d, err
		}
		d.Pulses = n
	case FieldFrequency:
		period, err := periodFromFrequency(v)
		if err != nil {
			return d, err
		}
		delay, dur, err := splitPeriod(period, d.DutyCycle())
		if err != nil {
			return d, err
		}
		d.DelayUsecs, d.DurationUsecs = delay, dur
	case FieldDutyCycle:
		delay, dur, err := splitPeriod(d.PeriodUsecs(), v)
		if err != nil {
			return d, err
		}
		d.DelayUsecs, d.DurationUsecs = delay, dur
	default:
		return d, fmt.Errorf("%w: unknown field %v", ErrInvalidValue, f)
	}
	if err := d.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

func secsToUsecs(name string, secs float64) (int64, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("%w: %s=%v (must be finite)", ErrInvalidValue, name, secs)
	}
	if secs < 0 {
		return 0, fmt.Errorf("%w: %s=%vs (must be >= 0)", ErrInvalidValue, name, secs)
	}
	us := math.Round(secs * usecsPerSec)
	if us > maxUsecs {
		return 0, fmt.Errorf("%w: %s=%vs is too long", ErrInvalidValue, name, secs)
	}
	return int64(us), nil
}

func periodFromFrequency(hz float64) (int64, error) {
	if math.IsNaN(hz) || math.IsInf(hz, 0) || hz <= 0 {
		return 0, fmt.Errorf("%w: frequency=%vHz (must be > 0 and finite)", ErrInvalidValue, hz)
	}
	period := math.Round(usecsPerSec / hz)
	if period < 1 {
		return 0, fmt.Errorf("%w: frequency=%vHz is below 1us resolution", ErrInvalidValue, hz)
	}
	if period > maxUsecs {
		return 0, fmt.Errorf("%w: frequency=%vHz is too low", ErrInvalidValue, hz)
	}
	return int64(period), nil
}

// splitPeriod divides period into (delay, duration) for a duty cycle. A phase that should be
// non-empty may not round to zero.
func splitPeriod(period int64, duty float64) (delay, dur int64, err error) {
	if math.IsNaN(duty) || duty < 0 || duty > 1 {
		return 0, 0, fmt.Errorf("%w: duty cycle=%v (must be in [0, 1])", ErrInvalidValue, duty)
	}
	dur = int64(math.Round(float64(period) * duty))
	delay = period - dur
	if duty > 0 && dur < 1 {
		return 0, 0, fmt.Errorf("%w: duty cycle=%v over %dus leaves high phase below 1us", ErrInvalidValue, duty, period)
	}
	if duty < 1 && delay < 1 {
		return 0, 0, fmt.Errorf("%w: duty cycle=%v over %dus leaves low phase below 1us", ErrInvalidValue, duty, period)
	}
	return delay, dur, nil
}

func pulsesForDuration(period int64, secs float64) (int, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("%w: train duration=%vs (must be > 0 and finite)", ErrInvalidValue, secs)
	}
	if period <= 0 {
		return 0, fmt.Errorf("%w: train duration needs a non-zero period", ErrInvalidValue)
	}
	n := math.Round(secs * usecsPerSec / float64(period))
	if n < 1 {
		return 0, fmt.Errorf("%w: train duration=%vs is shorter than one pulse (%dus)", ErrInvalidValue, secs, period)
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: train duration=%vs needs too many pulses", ErrInvalidValue, secs)
	}
	return int(n), nil
}
