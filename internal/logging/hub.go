package logging

import (
	"context"

	"optsync/internal/event"
	"optsync/internal/metrics"
)

const (
	defaultSubscriberBuffer = 100
	hubBusName              = "log_hub"
)

// LogHub streams entries to live subscribers. Slow subscribers lose entries.
type LogHub struct {
	bus *event.Bus[LogEntry]
}

// NewLogHub counts published and dropped entries in registry, or in
// metrics.Default when registry is nil.
func NewLogHub(registry *metrics.Registry) *LogHub {
	return &LogHub{
		bus: event.NewBus[LogEntry](context.Background(), event.BusOptions{
			Name:                 hubBusName,
			SubscriberBufferSize: defaultSubscriberBuffer,
			Registry:             registry,
		}),
	}
}

// Subscribe delivers entries at minLevel or above until cancel is called.
func (h *LogHub) Subscribe(minLevel Level) (<-chan LogEntry, func()) {
	if h == nil {
		ch := make(chan LogEntry)
		close(ch)
		return ch, func() {}
	}
	rank := levelRank(normalizeLevel(minLevel))
	return h.bus.SubscribeFiltered(func(entry LogEntry) bool {
		return levelRank(entry.Level) >= rank
	})
}

func (h *LogHub) Broadcast(entry LogEntry) {
	if h == nil || h.bus.SubscriberCount() == 0 {
		return
	}
	h.bus.Publish(entry)
}

// Dropped reports how many entries slow subscribers missed.
func (h *LogHub) Dropped() int64 {
	if h == nil {
		return 0
	}
	return h.bus.Dropped()
}

func (h *LogHub) Close() {
	if h == nil {
		return
	}
	h.bus.Close()
}
