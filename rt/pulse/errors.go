package pulse

import "errors"

var (
	// ErrInvalidValue indicates a timing value or argument fails validation.
	// The descriptor is left unchanged.
	ErrInvalidValue = errors.New("pulse: invalid value")
	// ErrBusy is returned when an operation requires an idle engine.
	ErrBusy = errors.New("pulse: engine busy")
	// ErrInvalidState is returned when an operation is not valid in the current state
	// (for example StopInfiniteTrain while running a finite task).
	ErrInvalidState = errors.New("pulse: invalid state")
	// ErrUnbounded is returned by DoTask/DoTasks when the descriptor has no pulse count, and by
	// modifications that would remove the pulse count while a finite run is in progress.
	// Indefinite trains are run with StartInfiniteTrain.
	ErrUnbounded = errors.New("pulse: task has no pulse count")
	// ErrSuperseded is returned to a blocked locking modification that was replaced by a newer
	// request for the same field before it was applied.
	ErrSuperseded = errors.New("pulse: modification superseded")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pulse: engine closed")
)
