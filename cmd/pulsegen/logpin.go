package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/evan-idocoding/pulsed/rt/pulse"
)

// logPin stands in for an output line: it tracks the level and logs every edge at debug.
type logPin struct {
	log   *slog.Logger
	level atomic.Bool
	edges atomic.Uint64
}

func newLogPin(log *slog.Logger) *logPin {
	return &logPin{log: log.With("component", "pin")}
}

func (p *logPin) High(any) {
	p.level.Store(true)
	p.edges.Add(1)
	p.log.Debug("pin high")
}

func (p *logPin) Low(any) {
	p.level.Store(false)
	p.edges.Add(1)
	p.log.Debug("pin low")
}

func (p *logPin) TrainEnd(_ any, info pulse.TrainInfo) {
	p.log.Debug("train end",
		"frequency", info.Frequency,
		"duty_cycle", info.DutyCycle,
		"train_duration", info.TrainDuration,
		"queued", info.Queued,
		"edges", p.edges.Load(),
	)
}
