// Package eventbus fans agent events out to observers.
package eventbus

import (
	"github.com/rs/zerolog/log"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/model"
)

// Fanout returns a listener that calls every non-nil listener in order. A
// panicking listener is logged and does not stop the others.
func Fanout(listeners ...agent.Listener) agent.Listener {
	active := make([]agent.Listener, 0, len(listeners))
	for _, l := range listeners {
		if l != nil {
			active = append(active, l)
		}
	}
	return func(ev model.AgentEvent) {
		for _, l := range active {
			deliver(l, ev)
		}
	}
}

func deliver(l agent.Listener, ev model.AgentEvent) {
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Str("agent", ev.Agent).Str("event", string(ev.Type)).Interface("panic", p).Msg("event listener panicked")
		}
	}()
	l(ev)
}

// LogListener writes every event to the debug log.
func LogListener(ev model.AgentEvent) {
	e := log.Debug().Str("agent", ev.Agent).Str("cycle_id", ev.CycleID).Str("event", string(ev.Type))
	switch ev.Type {
	case model.EventAction:
		e = e.Str("action", ev.Action)
	case model.EventCompleted:
		e = e.Bool("ok", ev.OK)
		if ev.Usage != nil {
			e = e.Int64("latency_ms", ev.Usage.LatencyMS)
		}
	}
	e.Msg("agent event")
}
