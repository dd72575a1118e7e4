package pulse

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// curGoroutineID parses the current goroutine's ID from its stack header
// ("goroutine 18 [running]:"). It returns 0 if the header cannot be parsed.
func curGoroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	i := bytes.IndexByte(b, ' ')
	if i <= 0 {
		return 0
	}
	n, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// onWorker reports whether the caller runs on the engine's worker, i.e. inside a callback.
func (e *Engine) onWorker() bool {
	id := e.workerGID.Load()
	return id != 0 && id == curGoroutineID()
}
