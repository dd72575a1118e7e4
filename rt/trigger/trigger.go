// Package trigger fires engine tasks on cron schedules.
//
// A schedule that comes due while the engine is busy is skipped, never queued:
//
//	tr := trigger.New(engine)
//	_, _ = tr.Add("*/5 * * * * *", 3) // three tasks every 5 seconds
//	tr.Start()
//	defer tr.Stop(context.Background())
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/evan-idocoding/pulsed/rt/pulse"
)

const meterName = "github.com/evan-idocoding/pulsed/rt/trigger"

var (
	// ErrInvalidSchedule is returned by Add for an unparsable spec or a non-positive task count.
	ErrInvalidSchedule = errors.New("trigger: invalid schedule")
	// ErrSkipped is returned by Fire when the engine was busy.
	ErrSkipped = errors.New("trigger: engine busy, skipped")
)

// Result is the outcome of one firing.
type Result int

const (
	Fired Result = iota
	Skipped
	Failed
)

func (r Result) String() string {
	switch r {
	case Fired:
		return "fired"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// parser accepts standard five-field specs, an optional leading seconds field, and descriptors
// such as @every 10s or @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Option configures a Trigger.
type Option func(*config)

type config struct {
	logger *slog.Logger
	meter  metric.MeterProvider
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMeterProvider sets the meter provider. Default is otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) { c.meter = mp }
}

// Trigger runs Tasker.DoTasks on cron schedules.
type Trigger struct {
	tasker Tasker
	cron   *cron.Cron
	log    *slog.Logger
	fires  metric.Int64Counter

	fired   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// New creates a stopped Trigger for t.
func New(t Tasker, opts ...Option) *Trigger {
	c := config{}
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.meter == nil {
		c.meter = otel.GetMeterProvider()
	}

	log := c.logger.With(slog.String("component", "trigger"))
	tr := &Trigger{
		tasker: t,
		log:    log,
	}
	fires, err := c.meter.Meter(meterName).Int64Counter(
		"pulse.trigger.fires",
		metric.WithDescription("Scheduled firings by result"),
	)
	if err != nil {
		log.Warn("trigger: counter unavailable", "err", err)
	} else {
		tr.fires = fires
	}

	cl := cronLogger{l: log}
	tr.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return tr
}

// Add schedules n tasks per firing of spec.
func (t *Trigger) Add(spec string, n int) (cron.EntryID, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: tasks=%d (must be > 0)", ErrInvalidSchedule, n)
	}
	id, err := t.cron.AddFunc(spec, func() { _, _ = t.Fire(n) })
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidSchedule, spec, err)
	}
	t.log.Info("trigger: schedule added", "spec", spec, "tasks", n, "entry", int(id))
	return id, nil
}

// Remove drops a schedule.
func (t *Trigger) Remove(id cron.EntryID) { t.cron.Remove(id) }

// Entries returns the number of schedules.
func (t *Trigger) Entries() int { return len(t.cron.Entries()) }

// Fire starts n tasks now unless the engine is busy.
func (t *Trigger) Fire(n int) (Result, error) {
	if t.tasker.IsBusy() {
		return t.record(Skipped, n, ErrSkipped)
	}
	if err := t.tasker.DoTasks(n); err != nil {
		if errors.Is(err, pulse.ErrBusy) {
			return t.record(Skipped, n, ErrSkipped)
		}
		return t.record(Failed, n, err)
	}
	return t.record(Fired, n, nil)
}

// Start runs the scheduler in its own goroutine. It is a no-op if already running.
func (t *Trigger) Start() { t.cron.Start() }

// Stop stops the scheduler and waits for a running job to return, or for ctx to end.
func (t *Trigger) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-t.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the firing counts by result.
func (t *Trigger) Stats() (fired, skipped, failed uint64) {
	return t.fired.Load(), t.skipped.Load(), t.failed.Load()
}

func (t *Trigger) record(r Result, n int, err error) (Result, error) {
	switch r {
	case Fired:
		t.fired.Add(1)
		t.log.Debug("trigger: fired", "tasks", n)
	case Skipped:
		t.skipped.Add(1)
		t.log.Debug("trigger: skipped, engine busy", "tasks", n)
	case Failed:
		t.failed.Add(1)
		t.log.Error("trigger: DoTasks failed", "tasks", n, "err", err)
	}
	if t.fires != nil {
		t.fires.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", r.String())))
	}
	return r, err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"err", err}, keysAndValues...)...)
}
