// Package watcher provides the fsnotify-backed file watching used to carry
// change broadcasts between processes.
//
// The Watcher API is safe for concurrent use and delivers best-effort events:
// events on one path are coalesced within the debounce window, so callers
// should treat a callback as "look again" rather than rely on exact ordering.
package watcher
