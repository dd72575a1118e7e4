package safecall

import "log/slog"

type config struct {
	name string
	tags []Tag

	onPanic     PanicHandler
	panicPolicy PanicPolicy
	logger      *slog.Logger
}

// Option configures a Guard.
type Option func(*config)

// WithName sets the name carried by reports.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithTag appends a single tag to reports.
func WithTag(key, value string) Option {
	return func(c *config) {
		c.tags = append(c.tags, Tag{Key: key, Value: value})
	}
}

// WithTags appends tags to reports (preserving order).
func WithTags(tags ...Tag) Option {
	return func(c *config) {
		if len(tags) == 0 {
			return
		}
		c.tags = append(c.tags, tags...)
	}
}

// WithPanicHandler routes recovered panics to h instead of the logger.
func WithPanicHandler(h PanicHandler) Option {
	return func(c *config) { c.onPanic = h }
}

// WithPanicPolicy sets the panic policy. Default is RecoverAndReport.
func WithPanicPolicy(p PanicPolicy) Option {
	return func(c *config) { c.panicPolicy = p }
}

// WithLogger sets the logger used when no PanicHandler is configured.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
