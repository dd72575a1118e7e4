package waveform

import (
	"fmt"
	"math"
)

// Cosine returns length samples of offset + scaling*cos(2*pi*i/period).
//
// Every sample must lie in [0, 1]; otherwise ErrOutOfRange is returned and no samples.
func Cosine(length, period int, offset, scaling float64) ([]float64, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: length=%d (must be > 0)", ErrInvalidArgument, length)
	}
	if period <= 0 {
		return nil, fmt.Errorf("%w: period=%d (must be > 0)", ErrInvalidArgument, period)
	}
	if math.IsNaN(offset) || math.IsInf(offset, 0) || math.IsNaN(scaling) || math.IsInf(scaling, 0) {
		return nil, fmt.Errorf("%w: offset=%v scaling=%v (must be finite)", ErrInvalidArgument, offset, scaling)
	}

	out := make([]float64, length)
	for i := range out {
		v := offset + scaling*math.Cos(2*math.Pi*float64(i)/float64(period))
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: sample %d = %v (offset=%v scaling=%v)", ErrOutOfRange, i, v, offset, scaling)
		}
		out[i] = v
	}
	return out, nil
}
