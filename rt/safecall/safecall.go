package safecall

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Guard runs callbacks with a fixed reporting configuration.
//
// A Guard is immutable after New and safe for concurrent use.
type Guard struct {
	name   string
	tags   []Tag
	attrs  []any
	policy PanicPolicy

	onPanic PanicHandler
	logger  *slog.Logger
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	c := config{panicPolicy: RecoverAndReport}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	g := &Guard{
		name:    c.name,
		tags:    cloneTags(c.tags),
		policy:  c.panicPolicy,
		onPanic: c.onPanic,
		logger:  c.logger,
	}
	if len(g.tags) > 0 {
		attrs := make([]any, 0, len(g.tags))
		for _, t := range g.tags {
			attrs = append(attrs, slog.String(t.Key, t.Value))
		}
		g.attrs = []any{slog.Group("tags", attrs...)}
	}
	return g
}

// With returns a copy of g carrying additional tags.
func (g *Guard) With(tags ...Tag) *Guard {
	all := append(cloneTags(g.tags), tags...)
	return New(
		WithName(g.name),
		WithTags(all...),
		WithPanicPolicy(g.policy),
		WithPanicHandler(g.onPanic),
		WithLogger(g.logger),
	)
}

// Do calls fn and reports whether it returned without panicking.
// A nil fn is a no-op that returns true.
func (g *Guard) Do(fn func()) (ok bool) {
	if fn == nil {
		return true
	}
	defer g.recover(&ok)
	fn()
	return true
}

// Do1 calls fn(v) under g.
func Do1[T any](g *Guard, fn func(T), v T) (ok bool) {
	if fn == nil {
		return true
	}
	defer g.recover(&ok)
	fn(v)
	return true
}

// Do2 calls fn(a, b) under g.
func Do2[A, B any](g *Guard, fn func(A, B), a A, b B) (ok bool) {
	if fn == nil {
		return true
	}
	defer g.recover(&ok)
	fn(a, b)
	return true
}

// Err calls fn and returns its error. A panic is reported and turned into an error.
func (g *Guard) Err(fn func() error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		g.handle(p)
		err = fmt.Errorf("safecall: %s panicked: %v", g.displayName(), p)
	}()
	return fn()
}

func (g *Guard) recover(ok *bool) {
	p := recover()
	if p == nil {
		return
	}
	*ok = false
	g.handle(p)
}

func (g *Guard) handle(p any) {
	switch g.policy {
	case RecoverOnly:
		return
	case RepanicAfterReport:
		g.report(p)
		panic(p)
	default:
		g.report(p)
	}
}

func (g *Guard) report(p any) {
	info := PanicInfo{
		Name:  g.name,
		Tags:  cloneTags(g.tags),
		Value: p,
		Stack: debug.Stack(),
	}
	if g.onPanic != nil {
		g.callHandlerNoPanic(info)
		return
	}
	g.log(info)
}

func (g *Guard) callHandlerNoPanic(info PanicInfo) {
	defer func() {
		if p := recover(); p != nil {
			g.log(PanicInfo{
				Name:  info.Name,
				Tags:  info.Tags,
				Value: fmt.Sprintf("safecall: panic handler panicked: %v", p),
				Stack: debug.Stack(),
			})
		}
	}()
	g.onPanic(info)
}

func (g *Guard) log(info PanicInfo) {
	l := g.logger
	if l == nil {
		l = slog.Default()
	}
	args := make([]any, 0, 3+len(g.attrs))
	if info.Name != "" {
		args = append(args, slog.String("name", info.Name))
	}
	args = append(args, g.attrs...)
	args = append(args,
		slog.String("value", fmt.Sprint(info.Value)),
		slog.String("stack", string(info.Stack)),
	)
	l.Error("safecall: panic", args...)
}

func (g *Guard) displayName() string {
	if g.name == "" {
		return "callback"
	}
	return fmt.Sprintf("%q", g.name)
}

func cloneTags(tags []Tag) []Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]Tag, len(tags))
	copy(out, tags)
	return out
}
