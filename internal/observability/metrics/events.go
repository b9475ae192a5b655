package metrics

import (
	"context"

	"joingate/internal/eventbus"
)

// Consume counts bus events until ctx ends. Broadcast runs are recorded by
// the engine directly and are skipped here.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.JoinRecorded:
		m.JoinRequests.Inc()
	case eventbus.RecipientBlocked:
		m.ObserveBlock(true)
	case eventbus.RecipientUnblocked:
		m.ObserveBlock(false)
	}
}
