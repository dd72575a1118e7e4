package waveform

import (
	"fmt"
	"math"
	"sync"
)

// Array is an ordered sequence of samples with a cyclic read cursor.
//
// It is safe for concurrent use.
type Array struct {
	samples []float64

	mu     sync.Mutex
	cursor int
}

// New copies samples into a new Array with its cursor at 0.
func New(samples []float64) (*Array, error) {
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sample %d is %v", ErrOutOfRange, i, v)
		}
	}
	out := make([]float64, len(samples))
	copy(out, samples)
	return &Array{samples: out}, nil
}

// Len returns the number of samples.
func (a *Array) Len() int { return len(a.samples) }

// At returns the sample at index i.
func (a *Array) At(i int) float64 { return a.samples[i] }

// Cursor returns the index Next will read from.
func (a *Array) Cursor() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Next returns the sample under the cursor and its index, then advances the cursor by one.
func (a *Array) Next() (float64, int) {
	a.mu.Lock()
	i := a.cursor
	a.cursor++
	if a.cursor >= len(a.samples) {
		a.cursor = 0
	}
	a.mu.Unlock()
	return a.samples[i], i
}

// Reset moves the cursor back to index 0.
func (a *Array) Reset() {
	a.mu.Lock()
	a.cursor = 0
	a.mu.Unlock()
}

// Samples returns a copy of the samples.
func (a *Array) Samples() []float64 {
	out := make([]float64, len(a.samples))
	copy(out, a.samples)
	return out
}

// Bounds returns the smallest and largest sample.
func (a *Array) Bounds() (min, max float64) {
	min, max = a.samples[0], a.samples[0]
	for _, v := range a.samples[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
