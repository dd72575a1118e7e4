package safecall

import "fmt"

// Tag is a key/value pair attached to panic reports. Order is preserved.
type Tag struct {
	Key   string
	Value string
}

// PanicInfo describes a recovered panic.
type PanicInfo struct {
	Name  string
	Tags  []Tag
	Value any
	Stack []byte
}

// PanicHandler receives recovered panics.
type PanicHandler func(info PanicInfo)

// PanicPolicy controls how panics are handled.
type PanicPolicy int

const (
	// RecoverAndReport recovers the panic and reports it.
	RecoverAndReport PanicPolicy = iota
	// RecoverOnly recovers the panic without reporting it.
	RecoverOnly
	// RepanicAfterReport reports the panic, then panics again with the same value.
	RepanicAfterReport
)

func (p PanicPolicy) String() string {
	switch p {
	case RecoverAndReport:
		return "recover-and-report"
	case RecoverOnly:
		return "recover-only"
	case RepanicAfterReport:
		return "repanic-after-report"
	default:
		return fmt.Sprintf("PanicPolicy(%d)", int(p))
	}
}
