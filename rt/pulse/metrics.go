package pulse

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/evan-idocoding/pulsed/rt/pulse"

type instruments struct {
	trains   metric.Int64Counter
	phases   metric.Int64Counter
	overruns metric.Int64Counter
	lateness metric.Float64Histogram
	mods     metric.Int64Counter
	rejected metric.Int64Counter
	panics   metric.Int64Counter

	engine metric.MeasurementOption
}

func newInstruments(mp metric.MeterProvider, engineID string) (*instruments, error) {
	meter := mp.Meter(meterName)
	in := &instruments{
		engine: metric.WithAttributeSet(attribute.NewSet(attribute.String("engine_id", engineID))),
	}

	var err error
	if in.trains, err = meter.Int64Counter(
		"pulse.trains.completed",
		metric.WithDescription("Trains (finite tasks or infinite-train cycles) completed"),
	); err != nil {
		return nil, fmt.Errorf("pulse: trains counter: %w", err)
	}
	if in.phases, err = meter.Int64Counter(
		"pulse.phases.completed",
		metric.WithDescription("Low and high phases completed"),
	); err != nil {
		return nil, fmt.Errorf("pulse: phases counter: %w", err)
	}
	if in.overruns, err = meter.Int64Counter(
		"pulse.phase.overruns",
		metric.WithDescription("Phases whose whole window had passed before they could start"),
	); err != nil {
		return nil, fmt.Errorf("pulse: overruns counter: %w", err)
	}
	if in.lateness, err = meter.Float64Histogram(
		"pulse.phase.lateness",
		metric.WithDescription("Time between a phase deadline and the worker observing it"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2),
	); err != nil {
		return nil, fmt.Errorf("pulse: lateness histogram: %w", err)
	}
	if in.mods, err = meter.Int64Counter(
		"pulse.modifications",
		metric.WithDescription("Timing modifications by field, mode and result"),
	); err != nil {
		return nil, fmt.Errorf("pulse: modifications counter: %w", err)
	}
	if in.rejected, err = meter.Int64Counter(
		"pulse.array.rejected_samples",
		metric.WithDescription("Waveform samples that could not be applied"),
	); err != nil {
		return nil, fmt.Errorf("pulse: rejected samples counter: %w", err)
	}
	if in.panics, err = meter.Int64Counter(
		"pulse.callback.panics",
		metric.WithDescription("Callback panics recovered on the worker, by callback"),
	); err != nil {
		return nil, fmt.Errorf("pulse: callback panics counter: %w", err)
	}
	return in, nil
}

func (in *instruments) trainDone(ctx context.Context, phases int64) {
	in.trains.Add(ctx, 1, in.engine)
	if phases > 0 {
		in.phases.Add(ctx, phases, in.engine)
	}
}

func (in *instruments) late(ctx context.Context, seconds float64) {
	in.lateness.Record(ctx, seconds, in.engine)
}

func (in *instruments) overrun(ctx context.Context) {
	in.overruns.Add(ctx, 1, in.engine)
}

func (in *instruments) modified(ctx context.Context, target string, mode ModMode, err error) {
	result := "applied"
	if err != nil {
		result = "rejected"
	}
	in.mods.Add(ctx, 1, in.engine, metric.WithAttributes(
		attribute.String("field", target),
		attribute.String("mode", mode.String()),
		attribute.String("result", result),
	))
}

func (in *instruments) rejectedSample(ctx context.Context, target ArrayTarget) {
	in.rejected.Add(ctx, 1, in.engine, metric.WithAttributes(attribute.String("target", target.String())))
}

func (in *instruments) callbackPanic(ctx context.Context, callback string) {
	in.panics.Add(ctx, 1, in.engine, metric.WithAttributes(attribute.String("callback", callback)))
}
