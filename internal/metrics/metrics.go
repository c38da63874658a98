package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry collects counters for stores and event buses.
type Registry struct {
	stores sync.Map
	buses  sync.Map
}

// StoreStats holds the counters of one store, keyed by its canonical path.
type StoreStats struct {
	Flushes          atomic.Int64
	FlushFailures    atomic.Int64
	Saves            atomic.Int64
	Loads            atomic.Int64
	LoadFailures     atomic.Int64
	BroadcastsSent   atomic.Int64
	BroadcastsRecv   atomic.Int64
	SelfEchoes       atomic.Int64
	Notifications    atomic.Int64
	ListenerPanics   atomic.Int64
	LockWaitNanos    atomic.Int64
	lastFlushUnixNan atomic.Int64
}

type busStats struct {
	published  sync.Map
	dropped    sync.Map
	filtered   atomic.Int64
	unfiltered atomic.Int64
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{}
}

// Store returns the counters for path, creating them on first use.
func (r *Registry) Store(path string) *StoreStats {
	if r == nil {
		return &StoreStats{}
	}
	if strings.TrimSpace(path) == "" {
		path = "unknown"
	}
	value, _ := r.stores.LoadOrStore(path, &StoreStats{})
	return value.(*StoreStats)
}

func (s *StoreStats) RecordFlush(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.FlushFailures.Add(1)
		return
	}
	s.Flushes.Add(1)
	s.lastFlushUnixNan.Store(time.Now().UnixNano())
}

func (s *StoreStats) RecordLockWait(duration time.Duration) {
	if s == nil {
		return
	}
	s.LockWaitNanos.Add(duration.Nanoseconds())
}

// LastFlush reports when the last successful flush finished.
func (s *StoreStats) LastFlush() time.Time {
	if s == nil {
		return time.Time{}
	}
	nanos := s.lastFlushUnixNan.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (r *Registry) IncEventPublished(bus, eventType string) {
	if r == nil {
		return
	}
	incLabel(&r.bus(bus).published, eventType)
}

func (r *Registry) IncEventDropped(bus, eventType string) {
	if r == nil {
		return
	}
	incLabel(&r.bus(bus).dropped, eventType)
}

func (r *Registry) SetEventSubscriberCounts(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	stats := r.bus(bus)
	stats.filtered.Store(int64(filtered))
	stats.unfiltered.Store(int64(unfiltered))
}

// EventCount returns published or dropped totals for a bus and event type.
func (r *Registry) EventCount(bus, eventType string, dropped bool) int64 {
	if r == nil {
		return 0
	}
	stats := r.bus(bus)
	source := &stats.published
	if dropped {
		source = &stats.dropped
	}
	value, ok := source.Load(eventType)
	if !ok {
		return 0
	}
	return value.(*atomic.Int64).Load()
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	storeCounters := []struct {
		name  string
		help  string
		value func(*StoreStats) int64
	}{
		{"optsync_flushes_total", "Debounced flushes completed", func(s *StoreStats) int64 { return s.Flushes.Load() }},
		{"optsync_flush_failures_total", "Flushes that failed to save", func(s *StoreStats) int64 { return s.FlushFailures.Load() }},
		{"optsync_saves_total", "Snapshots written to disk", func(s *StoreStats) int64 { return s.Saves.Load() }},
		{"optsync_loads_total", "Snapshots read from disk", func(s *StoreStats) int64 { return s.Loads.Load() }},
		{"optsync_load_failures_total", "Loads that failed", func(s *StoreStats) int64 { return s.LoadFailures.Load() }},
		{"optsync_broadcasts_sent_total", "Change broadcasts published", func(s *StoreStats) int64 { return s.BroadcastsSent.Load() }},
		{"optsync_broadcasts_received_total", "Change broadcasts received", func(s *StoreStats) int64 { return s.BroadcastsRecv.Load() }},
		{"optsync_self_echoes_total", "Received broadcasts matched to an own save", func(s *StoreStats) int64 { return s.SelfEchoes.Load() }},
		{"optsync_notifications_total", "Listener callbacks invoked", func(s *StoreStats) int64 { return s.Notifications.Load() }},
		{"optsync_listener_panics_total", "Listener callbacks that panicked", func(s *StoreStats) int64 { return s.ListenerPanics.Load() }},
	}

	paths := sortedKeys(&r.stores)
	for _, counter := range storeCounters {
		writeHelp(writer, counter.name, counter.help)
		fmt.Fprintf(writer, "# TYPE %s counter\n", counter.name)
		for _, path := range paths {
			fmt.Fprintf(writer, "%s{store=%s} %d\n", counter.name, formatLabel(path), counter.value(r.Store(path)))
		}
	}

	writeHelp(writer, "optsync_lock_wait_seconds_total", "Time spent waiting for file locks")
	fmt.Fprintln(writer, "# TYPE optsync_lock_wait_seconds_total counter")
	for _, path := range paths {
		seconds := float64(r.Store(path).LockWaitNanos.Load()) / float64(time.Second)
		fmt.Fprintf(writer, "optsync_lock_wait_seconds_total{store=%s} %.6f\n", formatLabel(path), seconds)
	}

	busNames := sortedKeys(&r.buses)
	writeHelp(writer, "optsync_events_published_total", "Events published on in-process buses")
	fmt.Fprintln(writer, "# TYPE optsync_events_published_total counter")
	writeHelp(writer, "optsync_events_dropped_total", "Events dropped by in-process buses")
	fmt.Fprintln(writer, "# TYPE optsync_events_dropped_total counter")
	for _, name := range busNames {
		stats := r.bus(name)
		for _, eventType := range sortedKeys(&stats.published) {
			fmt.Fprintf(writer, "optsync_events_published_total{bus=%s,type=%s} %d\n", formatLabel(name), formatLabel(eventType), r.EventCount(name, eventType, false))
		}
		for _, eventType := range sortedKeys(&stats.dropped) {
			fmt.Fprintf(writer, "optsync_events_dropped_total{bus=%s,type=%s} %d\n", formatLabel(name), formatLabel(eventType), r.EventCount(name, eventType, true))
		}
	}
	writeHelp(writer, "optsync_event_subscribers", "Current bus subscribers")
	fmt.Fprintln(writer, "# TYPE optsync_event_subscribers gauge")
	for _, name := range busNames {
		stats := r.bus(name)
		fmt.Fprintf(writer, "optsync_event_subscribers{bus=%s,filtered=\"true\"} %d\n", formatLabel(name), stats.filtered.Load())
		fmt.Fprintf(writer, "optsync_event_subscribers{bus=%s,filtered=\"false\"} %d\n", formatLabel(name), stats.unfiltered.Load())
	}

	return nil
}

func (r *Registry) bus(name string) *busStats {
	if strings.TrimSpace(name) == "" {
		name = "event_bus"
	}
	value, _ := r.buses.LoadOrStore(name, &busStats{})
	return value.(*busStats)
}

func incLabel(counters *sync.Map, label string) {
	if label == "" {
		label = "unknown"
	}
	value, _ := counters.LoadOrStore(label, &atomic.Int64{})
	value.(*atomic.Int64).Add(1)
}

func sortedKeys(values *sync.Map) []string {
	var keys []string
	values.Range(func(key, _ any) bool {
		if name, ok := key.(string); ok {
			keys = append(keys, name)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
