package waveform

import "errors"

var (
	// ErrEmpty is returned by New when no samples are given.
	ErrEmpty = errors.New("waveform: empty array")
	// ErrInvalidArgument indicates a non-positive length or period.
	ErrInvalidArgument = errors.New("waveform: invalid argument")
	// ErrOutOfRange indicates a generated sample falls outside [0, 1].
	ErrOutOfRange = errors.New("waveform: sample out of range")
)
