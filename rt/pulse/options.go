package pulse

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/evan-idocoding/pulsed/rt/safecall"
)

const defaultSpinThreshold = 200 * time.Microsecond

type config struct {
	id     string
	logger *slog.Logger
	meter  metric.MeterProvider

	order   PhaseOrder
	spin    time.Duration
	modMode ModMode
	panics  safecall.PanicPolicy

	high EdgeFunc
	low  EdgeFunc
	end  EndFunc
}

// Option configures an Engine at construction.
type Option func(*config)

// WithID sets the engine ID used in logs, metrics and Status. Default is a random UUID.
func WithID(id string) Option {
	return func(c *config) { c.id = id }
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider. Default is otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meter = mp }
}

// WithPhaseOrder sets which phase of a pulse comes first. Default is LowFirst.
func WithPhaseOrder(o PhaseOrder) Option {
	return func(c *config) { c.order = o }
}

// WithSpinThreshold sets how long before a deadline the worker stops sleeping and spins on the
// monotonic clock. Zero disables spinning. Default is 200µs.
//
// If d < 0, WithSpinThreshold panics (configuration error).
func WithSpinThreshold(d time.Duration) Option {
	if d < 0 {
		panic(fmt.Sprintf("pulse: WithSpinThreshold(%s) is invalid (must be >= 0)", d))
	}
	return func(c *config) { c.spin = d }
}

// WithDefaultModMode sets the mode used by ModDelay, ModDur, ModTrainLength, ModTrainDur,
// ModFreq and ModDutyCycle. Default is Locking.
func WithDefaultModMode(m ModMode) Option {
	return func(c *config) { c.modMode = m }
}

// WithCallbackPanicPolicy sets how a panicking callback is handled. Default is
// safecall.RecoverAndReport: the panic is logged, counted in Status.CallbackPanics and the
// worker carries on. safecall.RecoverOnly drops the panic without logging or counting it;
// safecall.RepanicAfterReport reports it and then crashes the process from the worker.
func WithCallbackPanicPolicy(p safecall.PanicPolicy) Option {
	return func(c *config) { c.panics = p }
}

// WithHighFunc installs the high phase callback at construction.
func WithHighFunc(fn EdgeFunc) Option {
	return func(c *config) { c.high = fn }
}

// WithLowFunc installs the low phase callback at construction.
func WithLowFunc(fn EdgeFunc) Option {
	return func(c *config) { c.low = fn }
}

// WithEndFunc installs the end-of-task callback at construction.
func WithEndFunc(fn EndFunc) Option {
	return func(c *config) { c.end = fn }
}
