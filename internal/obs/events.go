// Package obs defines the Step Engine's observability surface: a
// per-step event record and a Prometheus-backed sink a host may plug in,
// with a no-op default so the core never requires one.
package obs

import "github.com/nexuscore/reactor/pkg/core"

// StepEvent is the record emitted once per engine iteration.
type StepEvent struct {
	StepNo         int
	Phase          string // "think" or "act"
	ContentSummary string
	ToolCalls      []string
	ToolResults    []string
	StateAfter     core.EngineState
}

// EventSink receives step events. Implementations must not block the
// engine for long; a host wanting async fan-out should buffer internally.
type EventSink interface {
	Emit(event StepEvent)
}

// NoopSink discards every event. It is the default when a host supplies
// none.
type NoopSink struct{}

func (NoopSink) Emit(StepEvent) {}

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(event StepEvent) {
	for _, s := range m {
		s.Emit(event)
	}
}
