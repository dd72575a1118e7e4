// Package pulsetest records engine callbacks for tests.
package pulsetest

import (
	"sync"
	"time"

	"github.com/evan-idocoding/pulsed/rt/pulse"
)

// Edge is one recorded phase start.
type Edge struct {
	High bool
	At   time.Time
	Data any
}

// End is one recorded end-of-task call. Pulse or Train is set according to Shape.
type End struct {
	Shape pulse.EndShape
	At    time.Time
	Data  any
	Pulse pulse.PulseInfo
	Train pulse.TrainInfo
}

// Recorder collects edges and end calls. It is safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	edges []Edge
	ends  []End
}

// New returns an empty Recorder.
func New() *Recorder { return &Recorder{} }

// High records a high edge.
func (r *Recorder) High(data any) { r.edge(true, data) }

// Low records a low edge.
func (r *Recorder) Low(data any) { r.edge(false, data) }

// PulseEnd records a pulse-shaped end call.
func (r *Recorder) PulseEnd(data any, info pulse.PulseInfo) {
	r.mu.Lock()
	r.ends = append(r.ends, End{Shape: pulse.ShapePulse, At: time.Now(), Data: data, Pulse: info})
	r.mu.Unlock()
}

// TrainEnd records a train-shaped end call.
func (r *Recorder) TrainEnd(data any, info pulse.TrainInfo) {
	r.mu.Lock()
	r.ends = append(r.ends, End{Shape: pulse.ShapeTrain, At: time.Now(), Data: data, Train: info})
	r.mu.Unlock()
}

// Options returns engine options installing r as the high, low and end callbacks.
// shape selects the end payload; ShapeNone installs no end func.
func (r *Recorder) Options(shape pulse.EndShape) []pulse.Option {
	return []pulse.Option{
		pulse.WithHighFunc(r.High),
		pulse.WithLowFunc(r.Low),
		pulse.WithEndFunc(r.endFunc(shape)),
	}
}

// Attach installs r on a running engine.
func (r *Recorder) Attach(e *pulse.Engine, shape pulse.EndShape) {
	e.SetHighFunc(r.High)
	e.SetLowFunc(r.Low)
	if fn := r.endFunc(shape); !fn.IsZero() {
		e.SetEndFunc(fn)
	}
}

func (r *Recorder) endFunc(shape pulse.EndShape) pulse.EndFunc {
	switch shape {
	case pulse.ShapePulse:
		return pulse.PulseEnd(r.PulseEnd)
	case pulse.ShapeTrain:
		return pulse.TrainEnd(r.TrainEnd)
	default:
		return pulse.EndFunc{}
	}
}

// Edges returns a copy of the recorded edges in order.
func (r *Recorder) Edges() []Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Edge(nil), r.edges...)
}

// Ends returns a copy of the recorded end calls in order.
func (r *Recorder) Ends() []End {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]End(nil), r.ends...)
}

// Count returns the number of high (high == true) or low edges.
func (r *Recorder) Count(high bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.edges {
		if e.High == high {
			n++
		}
	}
	return n
}

// HighDurations returns the time from each high edge to the following low edge.
func (r *Recorder) HighDurations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []time.Duration
	for i := 0; i+1 < len(r.edges); i++ {
		if r.edges[i].High && !r.edges[i+1].High {
			out = append(out, r.edges[i+1].At.Sub(r.edges[i].At))
		}
	}
	return out
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.edges = nil
	r.ends = nil
	r.mu.Unlock()
}

func (r *Recorder) edge(high bool, data any) {
	r.mu.Lock()
	r.edges = append(r.edges, Edge{High: high, At: time.Now(), Data: data})
	r.mu.Unlock()
}
