package pulse

import (
	"runtime"
	"time"

	"github.com/evan-idocoding/pulsed/rt/safecall"
)

// loop owns the OS thread for the engine's lifetime and runs one command at a time.
func (e *Engine) loop(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.done)

	e.workerGID.Store(curGoroutineID())

	close(ready)
	for {
		select {
		case <-e.quit:
			return
		case kind := <-e.cmds:
			e.run(kind)
		}
	}
}

// cursor tracks the chained phase deadlines of one run.
type cursor struct {
	next     time.Time // start deadline of the next phase
	lastHigh bool      // last edge fired was high
	phases   int64     // phases fired in the current train
}

func (e *Engine) run(kind runKind) {
	c := &cursor{next: time.Now()}
	e.log.Debug("pulse: run started", "infinite", kind == runInfinite)

	for {
		if stopped := e.runTrain(kind, c); stopped {
			break
		}
		if !e.trainBoundary(kind, c) {
			break
		}
	}
	e.finishRun(c)
}

// runTrain emits one train. It returns true if an infinite train was stopped before finishing.
func (e *Engine) runTrain(kind runKind, c *cursor) bool {
	c.phases = 0
	highFirst := e.cfg.order == HighFirst

	for pulse := 0; ; {
		for i := 0; i < 2; i++ {
			if kind == runInfinite && e.State() == StateStopping {
				return true
			}

			e.mu.Lock()
			d := e.desc
			high, low := e.high, e.low
			e.mu.Unlock()

			var stopped bool
			if (i == 0) == highFirst {
				stopped = e.phase(kind, true, d.DurationUsecs, high, d.TaskData, c)
			} else {
				stopped = e.phase(kind, false, d.DelayUsecs, low, d.TaskData, c)
			}
			if stopped {
				return true
			}
		}

		pulse++
		e.mu.Lock()
		n := max(e.desc.Pulses, 1)
		e.mu.Unlock()
		if pulse >= n {
			return false
		}
	}
}

// phase fires the edge for one phase at its deadline and reports whether an infinite train was
// stopped while waiting for it. Zero-length phases are skipped.
//
// Deadlines stay on the absolute grid. If the whole window already passed, the edge fires now,
// the phase is counted as an overrun, and the next phase keeps its original deadline.
func (e *Engine) phase(kind runKind, high bool, usecs int64, fn EdgeFunc, data any, c *cursor) bool {
	if usecs <= 0 {
		return false
	}
	start := c.next
	end := start.Add(time.Duration(usecs) * time.Microsecond)

	overrun := !time.Now().Before(end)
	if !overrun {
		e.sleepUntil(start)
	}
	// The previous phase is complete here; a stop must not start this one.
	if kind == runInfinite && e.State() == StateStopping {
		return true
	}
	if overrun {
		e.overruns.Add(1)
		e.inst.overrun(e.ctx)
	} else {
		e.inst.late(e.ctx, time.Since(start).Seconds())
	}

	g := e.lowGuard
	if high {
		g = e.highGuard
	}
	safecall.Do1(g, fn, data)

	c.next = end
	c.lastHigh = high
	c.phases++
	e.phasesCompleted.Add(1)
	return false
}

// trainBoundary runs the end-of-train sequence and reports whether another train follows.
//
// Order: waveform sample, end func, queued locking modifications.
func (e *Engine) trainBoundary(kind runKind, c *cursor) bool {
	e.sleepUntil(c.next)

	e.mu.Lock()
	e.applyArraySampleLocked()
	d := e.desc
	end := e.end
	queued := e.remaining > 0
	if kind == runInfinite {
		queued = e.State() != StateStopping
	}
	e.lastTrain = time.Now()
	e.mu.Unlock()

	e.trainsCompleted.Add(1)
	if kind == runFinite {
		e.tasksCompleted.Add(1)
	}
	e.inst.trainDone(e.ctx, c.phases)

	if !end.IsZero() {
		e.callEnd(end, d, queued)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyQueuedLocked()
	if kind == runInfinite {
		return e.State() != StateStopping
	}
	if e.remaining > 0 {
		e.remaining--
		return true
	}
	return false
}

// finishRun lets the last phase elapse, leaves the output low and returns to Idle.
func (e *Engine) finishRun(c *cursor) {
	e.sleepUntil(c.next)

	if c.lastHigh {
		e.mu.Lock()
		low, data := e.low, e.desc.TaskData
		e.mu.Unlock()
		safecall.Do1(e.lowGuard, low, data)
	}

	e.mu.Lock()
	e.applyQueuedLocked()
	e.remaining = 0
	e.state.Store(int32(StateIdle))
	close(e.idleCh)
	e.idleCh = make(chan struct{})
	e.mu.Unlock()

	e.log.Debug("pulse: run finished",
		"trains", e.trainsCompleted.Load(),
		"overruns", e.overruns.Load(),
	)
}

// sleepUntil sleeps until spin before t, then spins on the monotonic clock.
func (e *Engine) sleepUntil(t time.Time) {
	if d := time.Until(t) - e.cfg.spin; d > 0 {
		time.Sleep(d)
	}
	for time.Now().Before(t) {
	}
}
