package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/evan-idocoding/pulsed"
	"github.com/evan-idocoding/pulsed/cmd/pulsegen/config"
	"github.com/evan-idocoding/pulsed/rt/pulse"
)

var (
	logLevelMapping = map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
)

const (
	_collectTimeout  = 35 * time.Second
	_minimumInterval = time.Minute
)

func main() {
	config.BindFlags(pflag.CommandLine)
	pflag.Parse()
	cfg := config.LoadConfig()

	level := logLevelMapping[cfg.General.LogLevel]
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: level, ReplaceAttr: slogReplaceAttr})
	slog.SetDefault(slog.New(handler))
	slog.Debug("config loaded", "data", cfg)

	mp, err := startMetricsProvider(context.Background(), cfg.Metrics)
	if err != nil {
		slog.Error("failed to start metrics provider", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := mp.Shutdown(context.Background()); err != nil {
			slog.Warn("metrics provider shutdown", slog.Any("error", err))
		}
	}()

	spec, err := engineSpec(cfg, mp)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(2)
	}

	r := pulsed.NewDefaultEngine(spec)
	slog.Info("pulsegen starting",
		"engine_id", r.Engine.ID(),
		"descriptor", r.Engine.Descriptor().String(),
		"tasks", spec.Run.Tasks,
		"infinite", spec.Run.Infinite,
		"schedules", len(spec.Schedules),
	)

	if err := r.Run(context.Background()); err != nil {
		slog.Error("pulsegen stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("good bye!!!")
}

func engineSpec(cfg config.AppConfig, mp *metric.MeterProvider) (pulsed.EngineSpec, error) {
	if err := cfg.Engine.Validate(); err != nil {
		return pulsed.EngineSpec{}, err
	}
	d, err := cfg.Engine.Descriptor()
	if err != nil {
		return pulsed.EngineSpec{}, err
	}
	order, err := cfg.Engine.Order()
	if err != nil {
		return pulsed.EngineSpec{}, err
	}

	pin := newLogPin(slog.Default())
	opts := []pulse.Option{
		pulse.WithMeterProvider(mp),
		pulse.WithPhaseOrder(order),
		pulse.WithSpinThreshold(cfg.Engine.SpinThreshold),
		pulse.WithHighFunc(pin.High),
		pulse.WithLowFunc(pin.Low),
		pulse.WithEndFunc(pulse.TrainEnd(pin.TrainEnd)),
	}
	if cfg.Engine.ID != "" {
		opts = append(opts, pulse.WithID(cfg.Engine.ID))
	}

	spec := pulsed.EngineSpec{
		Descriptor: d,
		Options:    opts,
		Metrics:    &pulsed.MetricsSpec{TextfilePath: cfg.Metrics.Textfile},
	}

	switch {
	case cfg.Run.Infinite:
		spec.Run = pulsed.RunSpec{Infinite: true}
	case len(cfg.Schedule.Specs) == 0:
		spec.Run = pulsed.RunSpec{Tasks: cfg.Run.Tasks}
	}
	for _, s := range cfg.Schedule.Specs {
		spec.Schedules = append(spec.Schedules, pulsed.ScheduleSpec{Spec: s, Tasks: cfg.Schedule.Tasks})
	}

	if cfg.Waveform.Enabled() {
		target, err := cfg.Waveform.ArrayTarget()
		if err != nil {
			return pulsed.EngineSpec{}, err
		}
		spec.Waveform = &pulsed.WaveformSpec{
			Target: target,
			Cosine: &pulsed.CosineSpec{
				Length:  cfg.Waveform.Length,
				Period:  cfg.Waveform.Period,
				Offset:  cfg.Waveform.Offset,
				Scaling: cfg.Waveform.Scaling,
			},
		}
	}
	return spec, nil
}

func slogReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		source := a.Value.Any().(*slog.Source)
		source.File = filepath.Base(source.File)
		return slog.Any(a.Key, source)
	}
	return a
}

// startMetricsProvider installs the global meter provider. Without an OTLP endpoint the
// instruments are recorded but never exported.
func startMetricsProvider(ctx context.Context, cfg config.MetricsConfig) (*metric.MeterProvider, error) {
	var opts []metric.Option
	if cfg.OTLPEndpoint != "" {
		exp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metric.WithReader(
			metric.NewPeriodicReader(
				exp,
				metric.WithTimeout(_collectTimeout),
				metric.WithInterval(cfg.Interval))))
	}

	mp := metric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMinimumReadMemStatsInterval(_minimumInterval)); err != nil {
		return nil, err
	}
	return mp, nil
}
