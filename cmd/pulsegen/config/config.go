package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/evan-idocoding/pulsed/rt/pulse"
)

var loadConfigOnce sync.Once
var configInstance AppConfig

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"log-level":      "general.log_level",
	"id":             "engine.id",
	"mode":           "engine.mode",
	"delay":          "engine.delay",
	"duration":       "engine.duration",
	"pulses":         "engine.pulses",
	"frequency":      "engine.frequency",
	"duty-cycle":     "engine.duty_cycle",
	"train-duration": "engine.train_duration",
	"phase-order":    "engine.phase_order",
	"spin":           "engine.spin_threshold",
	"tasks":          "run.tasks",
	"infinite":       "run.infinite",
	"schedule":       "schedule.specs",
	"schedule-tasks": "schedule.tasks",
	"waveform":       "waveform.target",
	"metrics-file":   "metrics.textfile",
	"otlp-endpoint":  "metrics.otlp_endpoint",
}

// BindFlags registers the pulsegen flags on fs and binds them to the global viper instance.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("id", "", "engine id (default: random uuid)")
	fs.String("mode", "pulse", "descriptor mode: pulse or train")
	fs.Float64("delay", 0.001, "low phase length in seconds (pulse mode)")
	fs.Float64("duration", 0.001, "high phase length in seconds (pulse mode)")
	fs.Int("pulses", 10, "pulses per train, 0 for indefinite (pulse mode)")
	fs.Float64("frequency", 1000, "pulse frequency in Hz (train mode)")
	fs.Float64("duty-cycle", 0.5, "duty cycle in [0, 1] (train mode)")
	fs.Float64("train-duration", 0.01, "train length in seconds, 0 for indefinite (train mode)")
	fs.String("phase-order", "low_first", "low_first or high_first")
	fs.Duration("spin", 200*time.Microsecond, "spin threshold before each deadline")
	fs.Int("tasks", 1, "tasks to run at start")
	fs.Bool("infinite", false, "run an infinite train until interrupted")
	fs.StringSlice("schedule", nil, "cron specs that each fire --schedule-tasks tasks")
	fs.Int("schedule-tasks", 1, "tasks per scheduled firing")
	fs.String("waveform", "", "drive duty_cycle or frequency from a cosine waveform")
	fs.String("metrics-file", "", "write a Prometheus textfile snapshot here at exit")
	fs.String("otlp-endpoint", "", "export OpenTelemetry metrics over OTLP/gRPC to this endpoint")

	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			panic(fmt.Errorf("bind flag %q: %w", flag, err))
		}
	}
}

// LoadConfig reads pulsegen.yaml (optional), the PULSEGEN_* environment and the bound flags, once.
func LoadConfig() AppConfig {
	loadConfigOnce.Do(func() {
		viper.SetEnvPrefix("pulsegen")
		viper.AutomaticEnv()
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.SetConfigName("pulsegen")
		viper.AddConfigPath("config")
		viper.AddConfigPath("/etc/pulsegen")

		cfg, err := load(viper.GetViper())
		if err != nil {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
		configInstance = cfg
	})

	return configInstance
}

func load(v *viper.Viper) (AppConfig, error) {
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, err
		}
	}

	return AppConfig{
		General: GeneralConfig{
			LogLevel: v.GetString("general.log_level"),
		},
		Engine: EngineConfig{
			ID:            v.GetString("engine.id"),
			Mode:          v.GetString("engine.mode"),
			Delay:         v.GetFloat64("engine.delay"),
			Duration:      v.GetFloat64("engine.duration"),
			Pulses:        v.GetInt("engine.pulses"),
			Frequency:     v.GetFloat64("engine.frequency"),
			DutyCycle:     v.GetFloat64("engine.duty_cycle"),
			TrainDuration: v.GetFloat64("engine.train_duration"),
			PhaseOrder:    v.GetString("engine.phase_order"),
			SpinThreshold: v.GetDuration("engine.spin_threshold"),
		},
		Run: RunConfig{
			Tasks:    v.GetInt("run.tasks"),
			Infinite: v.GetBool("run.infinite"),
		},
		Schedule: ScheduleConfig{
			Specs: v.GetStringSlice("schedule.specs"),
			Tasks: v.GetInt("schedule.tasks"),
		},
		Waveform: WaveformConfig{
			Target:  v.GetString("waveform.target"),
			Length:  v.GetInt("waveform.cosine.length"),
			Period:  v.GetInt("waveform.cosine.period"),
			Offset:  v.GetFloat64("waveform.cosine.offset"),
			Scaling: v.GetFloat64("waveform.cosine.scaling"),
		},
		Metrics: MetricsConfig{
			Textfile:     v.GetString("metrics.textfile"),
			OTLPEndpoint: v.GetString("metrics.otlp_endpoint"),
			Interval:     v.GetDuration("metrics.interval"),
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("engine.mode", "pulse")
	v.SetDefault("engine.delay", 0.001)
	v.SetDefault("engine.duration", 0.001)
	v.SetDefault("engine.pulses", 10)
	v.SetDefault("engine.frequency", 1000.0)
	v.SetDefault("engine.duty_cycle", 0.5)
	v.SetDefault("engine.train_duration", 0.01)
	v.SetDefault("engine.phase_order", "low_first")
	v.SetDefault("engine.spin_threshold", 200*time.Microsecond)
	v.SetDefault("run.tasks", 1)
	v.SetDefault("schedule.tasks", 1)
	v.SetDefault("waveform.cosine.length", 100)
	v.SetDefault("waveform.cosine.period", 100)
	v.SetDefault("waveform.cosine.offset", 0.5)
	v.SetDefault("waveform.cosine.scaling", 0.4)
	v.SetDefault("metrics.interval", 30*time.Second)
}

type AppConfig struct {
	General  GeneralConfig
	Engine   EngineConfig
	Run      RunConfig
	Schedule ScheduleConfig
	Waveform WaveformConfig
	Metrics  MetricsConfig
}

type GeneralConfig struct {
	LogLevel string
}

type EngineConfig struct {
	ID   string
	Mode string

	// pulse mode
	Delay    float64
	Duration float64
	Pulses   int

	// train mode
	Frequency     float64
	DutyCycle     float64
	TrainDuration float64

	PhaseOrder    string
	SpinThreshold time.Duration
}

// Descriptor builds the initial descriptor for the configured mode.
func (c EngineConfig) Descriptor() (pulse.Descriptor, error) {
	switch c.Mode {
	case "pulse":
		return pulse.NewPulse(c.Delay, c.Duration, c.Pulses)
	case "train":
		return pulse.NewTrain(c.Frequency, c.DutyCycle, c.TrainDuration)
	default:
		return pulse.Descriptor{}, fmt.Errorf("engine.mode=%q (must be pulse or train)", c.Mode)
	}
}

// Validate checks the settings that the descriptor constructors do not see.
func (c EngineConfig) Validate() error {
	if c.SpinThreshold < 0 {
		return fmt.Errorf("engine.spin_threshold=%s (must not be negative)", c.SpinThreshold)
	}
	_, err := c.Order()
	return err
}

func (c EngineConfig) Order() (pulse.PhaseOrder, error) {
	switch c.PhaseOrder {
	case "", "low_first":
		return pulse.LowFirst, nil
	case "high_first":
		return pulse.HighFirst, nil
	default:
		return 0, fmt.Errorf("engine.phase_order=%q (must be low_first or high_first)", c.PhaseOrder)
	}
}

type RunConfig struct {
	Tasks    int
	Infinite bool
}

type ScheduleConfig struct {
	Specs []string
	Tasks int
}

type WaveformConfig struct {
	// Target is empty (no waveform), duty_cycle or frequency.
	Target  string
	Length  int
	Period  int
	Offset  float64
	Scaling float64
}

func (w WaveformConfig) Enabled() bool { return w.Target != "" }

func (w WaveformConfig) ArrayTarget() (pulse.ArrayTarget, error) {
	switch w.Target {
	case "duty_cycle":
		return pulse.DutyCycleFromArray, nil
	case "frequency":
		return pulse.FreqFromArray, nil
	default:
		return 0, fmt.Errorf("waveform.target=%q (must be duty_cycle or frequency)", w.Target)
	}
}

type MetricsConfig struct {
	Textfile     string
	OTLPEndpoint string
	Interval     time.Duration
}
