package store

import (
	"time"

	"github.com/benbjohnson/clock"

	"optsync/internal/broadcast"
	"optsync/internal/codec"
	"optsync/internal/filelock"
	"optsync/internal/logging"
	"optsync/internal/metrics"
)

// DefaultDebounce is how long a store waits after the last mutation
// before it writes the file.
const DefaultDebounce = time.Second

// Option configures Open.
type Option func(*options)

type options struct {
	debounce     time.Duration
	codec        codec.Codec
	locker       filelock.Locker
	channel      broadcast.Channel
	logger       *logging.Logger
	clock        clock.Clock
	metrics      *metrics.Registry
	errorHandler func(error)
	saveOnClose  bool
}

func defaultOptions() options {
	return options{
		debounce:    DefaultDebounce,
		clock:       clock.New(),
		metrics:     metrics.Default,
		logger:      logging.Discard(),
		saveOnClose: true,
	}
}

// WithDebounce sets the quiet period between the last mutation and the flush.
func WithDebounce(delay time.Duration) Option {
	return func(o *options) {
		if delay > 0 {
			o.debounce = delay
		}
	}
}

// WithCodec overrides the format picked from the file extension.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

func WithLocker(locker filelock.Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

// WithChannel injects the broadcast transport. The store does not close an
// injected channel.
func WithChannel(channel broadcast.Channel) Option {
	return func(o *options) {
		o.channel = channel
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithMetrics(registry *metrics.Registry) Option {
	return func(o *options) {
		if registry != nil {
			o.metrics = registry
		}
	}
}

// WithErrorHandler receives failures of timer-driven flushes and
// broadcast-driven reloads, which have no caller to return to.
func WithErrorHandler(handler func(error)) Option {
	return func(o *options) {
		o.errorHandler = handler
	}
}

// WithSaveOnClose controls whether Close writes the file when nothing is
// pending. Pending mutations are always written.
func WithSaveOnClose(enabled bool) Option {
	return func(o *options) {
		o.saveOnClose = enabled
	}
}
