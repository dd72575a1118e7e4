// Package pulseprom exposes engine status as Prometheus metrics.
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(pulseprom.NewCollector(engine))
//
// Values are read from Status at scrape time.
package pulseprom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/evan-idocoding/pulsed/rt/pulse"
)

// StatusSource is implemented by *pulse.Engine.
type StatusSource interface {
	Status() pulse.Status
}

var states = []pulse.State{
	pulse.StateIdle,
	pulse.StateRunningFiniteTask,
	pulse.StateRunningInfiniteTrain,
	pulse.StateStopping,
}

// Collector is a prometheus.Collector for one engine.
type Collector struct {
	src StatusSource

	tasks     *prometheus.Desc
	trains    *prometheus.Desc
	phases    *prometheus.Desc
	overruns  *prometheus.Desc
	rejected  *prometheus.Desc
	panics    *prometheus.Desc
	state     *prometheus.Desc
	pending   *prometheus.Desc
	frequency *prometheus.Desc
	duty      *prometheus.Desc
	pulses    *prometheus.Desc
	lastTrain *prometheus.Desc
}

// NewCollector builds a collector labelled with the engine's ID.
func NewCollector(src StatusSource) *Collector {
	labels := prometheus.Labels{"engine_id": src.Status().ID}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("pulse", "", name), help, variable, labels)
	}
	return &Collector{
		src:       src,
		tasks:     desc("tasks_completed_total", "Finite tasks completed."),
		trains:    desc("trains_completed_total", "Trains completed, including infinite-train cycles."),
		phases:    desc("phases_completed_total", "Low and high phases completed."),
		overruns:  desc("phase_overruns_total", "Phases whose whole window had passed before they started."),
		rejected:  desc("array_rejected_samples_total", "Waveform samples that could not be applied."),
		panics:    desc("callback_panics_total", "Callback panics recovered on the worker."),
		state:     desc("state", "Current engine state (1 for the active state).", "state"),
		pending:   desc("pending_modifications", "1 when a locking modification waits for the next train boundary."),
		frequency: desc("frequency_hertz", "Configured pulse frequency."),
		duty:      desc("duty_cycle_ratio", "Configured duty cycle."),
		pulses:    desc("train_pulses", "Pulses per train (0 = indefinite)."),
		lastTrain: desc("last_train_timestamp_seconds", "Unix time of the last completed train."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.tasks, c.trains, c.phases, c.overruns, c.rejected, c.panics,
		c.state, c.pending, c.frequency, c.duty, c.pulses, c.lastTrain,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()

	ch <- prometheus.MustNewConstMetric(c.tasks, prometheus.CounterValue, float64(st.TasksCompleted))
	ch <- prometheus.MustNewConstMetric(c.trains, prometheus.CounterValue, float64(st.TrainsCompleted))
	ch <- prometheus.MustNewConstMetric(c.phases, prometheus.CounterValue, float64(st.PhasesCompleted))
	ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.CounterValue, float64(st.Overruns))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(st.RejectedSamples))
	ch <- prometheus.MustNewConstMetric(c.panics, prometheus.CounterValue, float64(st.CallbackPanics))

	for _, s := range states {
		v := 0.0
		if s == st.State {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, s.String())
	}

	pending := 0.0
	if st.PendingMods {
		pending = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.frequency, prometheus.GaugeValue, st.Descriptor.Frequency())
	ch <- prometheus.MustNewConstMetric(c.duty, prometheus.GaugeValue, st.Descriptor.DutyCycle())
	ch <- prometheus.MustNewConstMetric(c.pulses, prometheus.GaugeValue, float64(st.Descriptor.Pulses))

	last := 0.0
	if !st.LastTrainAt.IsZero() {
		last = float64(st.LastTrainAt.UnixNano()) / 1e9
	}
	ch <- prometheus.MustNewConstMetric(c.lastTrain, prometheus.GaugeValue, last)
}
