package pulse

import (
	"context"
	"fmt"
)

// Queue slots. Fields use their Field value; at most one locking request per slot.
const (
	slotCustom = int(numFields) + iota
	slotArray

	numSlots
)

type modRequest struct {
	target string
	mode   ModMode
	apply  func() error // called with e.mu held
	done   chan error   // buffered(1); receives exactly one result
}

// ModDelay sets the low phase length in seconds, using the engine's default mode.
func (e *Engine) ModDelay(secs float64) error {
	return e.Modify(context.Background(), FieldDelay, secs, e.cfg.modMode)
}

// ModDur sets the high phase length in seconds, using the engine's default mode.
func (e *Engine) ModDur(secs float64) error {
	return e.Modify(context.Background(), FieldDuration, secs, e.cfg.modMode)
}

// ModTrainLength sets the number of pulses per train (0 = indefinite).
func (e *Engine) ModTrainLength(n int) error {
	return e.Modify(context.Background(), FieldPulseCount, float64(n), e.cfg.modMode)
}

// ModTrainDur sets the pulse count so the train lasts about secs at the current frequency.
func (e *Engine) ModTrainDur(secs float64) error {
	return e.Modify(context.Background(), FieldTrainDuration, secs, e.cfg.modMode)
}

// ModFreq sets the train frequency in Hz, keeping the duty cycle.
func (e *Engine) ModFreq(hz float64) error {
	return e.Modify(context.Background(), FieldFrequency, hz, e.cfg.modMode)
}

// ModDutyCycle sets the duty cycle, keeping the period.
func (e *Engine) ModDutyCycle(duty float64) error {
	return e.Modify(context.Background(), FieldDutyCycle, duty, e.cfg.modMode)
}

// Modify sets field f to v with an explicit mode.
//
// The value is validated against the current descriptor before anything is queued; an invalid
// value returns ErrInvalidValue and changes nothing. While a finite run is in progress a change
// that would make the train indefinite (pulse count 0) returns ErrUnbounded. A Locking request on a busy engine is
// validated again when it is applied, since other changes may have landed in between.
//
// If ctx ends while a Locking request is still queued, the request is withdrawn and ctx.Err()
// is returned.
func (e *Engine) Modify(ctx context.Context, f Field, v float64, mode ModMode) error {
	if f < 0 || f >= numFields {
		return fmt.Errorf("%w: unknown field %v", ErrInvalidValue, f)
	}
	precheck := func() error {
		nd, err := e.desc.with(f, v)
		if err != nil {
			return err
		}
		return e.boundedLocked(nd)
	}
	apply := func() error {
		nd, err := e.desc.with(f, v)
		if err != nil {
			return err
		}
		if err := e.boundedLocked(nd); err != nil {
			return err
		}
		e.desc = nd
		return nil
	}
	return e.submit(ctx, int(f), f.String(), mode, precheck, apply)
}

// ModCustom applies fn(payload, &descriptor) with the same locking rules as Modify. It is the
// way to rebind TaskData and EndFuncData while the engine runs.
//
// fn runs on a copy; the copy replaces the descriptor only if fn returns nil and the result is
// valid. A panic in fn is recovered and returned as an error.
func (e *Engine) ModCustom(ctx context.Context, fn CustomFunc, payload any, mode ModMode) error {
	if fn == nil {
		return fmt.Errorf("%w: nil CustomFunc", ErrInvalidValue)
	}
	apply := func() error {
		cp := e.desc
		if err := e.customGuard.Err(func() error { return fn(payload, &cp) }); err != nil {
			return err
		}
		if err := cp.Validate(); err != nil {
			return err
		}
		if err := e.boundedLocked(cp); err != nil {
			return err
		}
		e.desc = cp
		return nil
	}
	return e.submit(ctx, slotCustom, "custom", mode, nil, apply)
}

// SetTaskData rebinds the reference passed to the high and low callbacks.
func (e *Engine) SetTaskData(data any, mode ModMode) error {
	return e.ModCustom(context.Background(), func(p any, d *Descriptor) error {
		d.TaskData = p
		return nil
	}, data, mode)
}

// SetEndFuncData rebinds the reference passed to the end-of-task callback.
func (e *Engine) SetEndFuncData(data any, mode ModMode) error {
	return e.ModCustom(context.Background(), func(p any, d *Descriptor) error {
		d.EndFuncData = p
		return nil
	}, data, mode)
}

// ModCustomStatus reports whether a locking modification (field, custom or array) waits for
// the next safe point.
func (e *Engine) ModCustomStatus() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasPendingLocked()
}

func (e *Engine) submit(ctx context.Context, slot int, target string, mode ModMode, precheck, apply func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	// Idle engines are a safe point, and so is the worker itself (a callback): apply now.
	if mode == NonLocking || e.State() == StateIdle || e.onWorker() {
		err := apply()
		e.mu.Unlock()
		e.inst.modified(e.ctx, target, mode, err)
		return err
	}
	if precheck != nil {
		if err := precheck(); err != nil {
			e.mu.Unlock()
			e.inst.modified(e.ctx, target, mode, err)
			return err
		}
	}
	req := &modRequest{target: target, mode: mode, apply: apply, done: make(chan error, 1)}
	if old := e.slots[slot]; old != nil {
		old.done <- ErrSuperseded
	}
	e.slots[slot] = req
	e.mu.Unlock()

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		e.mu.Lock()
		if e.slots[slot] == req {
			e.slots[slot] = nil
			e.mu.Unlock()
			return ctx.Err()
		}
		e.mu.Unlock()
		// Already applied or superseded; the result is in the buffer.
		return <-req.done
	}
}

// applyQueuedLocked applies every queued locking request in slot order. e.mu must be held.
func (e *Engine) applyQueuedLocked() {
	for i, req := range e.slots {
		if req == nil {
			continue
		}
		e.slots[i] = nil
		err := req.apply()
		if err != nil {
			e.log.Warn("pulse: queued modification rejected", "target", req.target, "err", err)
		}
		e.inst.modified(e.ctx, req.target, req.mode, err)
		req.done <- err
	}
}

// boundedLocked rejects an indefinite descriptor while a finite run is in progress.
// e.mu must be held.
func (e *Engine) boundedLocked(d Descriptor) error {
	if d.Unbounded() && e.State() == StateRunningFiniteTask {
		return fmt.Errorf("%w: pulse count 0 during a finite run", ErrUnbounded)
	}
	return nil
}

func (e *Engine) hasPendingLocked() bool {
	for _, req := range e.slots {
		if req != nil {
			return true
		}
	}
	return false
}
