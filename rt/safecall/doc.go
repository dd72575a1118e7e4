// Package safecall invokes caller-supplied callbacks synchronously with panic recovery.
//
// It is the hot-path sibling of a goroutine launcher: a Guard is configured once (name, tags,
// panic policy, handler or logger) and then used for every invocation, so a call allocates
// nothing on the success path.
//
//	g := safecall.New(
//		safecall.WithName("pin-17"),
//		safecall.WithTag("edge", "high"),
//		safecall.WithLogger(logger),
//	)
//	ok := safecall.Do1(g, highFunc, taskData)
//
// # Reporting
//
// A recovered panic is passed to the PanicHandler if one is configured. Otherwise it is
// logged at error level to the configured *slog.Logger (slog.Default() when unset), with
// the name, tags, value and stack as attributes.
//
// A PanicHandler that panics itself is recovered and logged; it never takes down the caller.
//
// # Policies
//
//   - RecoverAndReport (default): recover, report, return false.
//   - RecoverOnly: recover silently, return false.
//   - RepanicAfterReport: recover, report, then panic again with the same value.
package safecall
