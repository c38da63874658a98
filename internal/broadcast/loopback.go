package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"optsync/internal/event"
	"optsync/internal/metrics"
)

// LoopbackOptions configures an in-process channel.
type LoopbackOptions struct {
	Name string
	// Synchronous delivers every message on the publisher's goroutine
	// before Publish returns.
	Synchronous bool
	Registry    *metrics.Registry
}

// Loopback delivers messages between subscribers in the same process.
// Stores opened on one Loopback behave like sibling processes.
type Loopback struct {
	origin      string
	synchronous bool
	bus         *event.Bus[Message]

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]loopbackHandler
	closed   bool
	wg       sync.WaitGroup
}

type loopbackHandler struct {
	topic   string
	handler Handler
}

func NewLoopback(options LoopbackOptions) *Loopback {
	name := options.Name
	if name == "" {
		name = "loopback"
	}
	return &Loopback{
		origin:      uuid.NewString(),
		synchronous: options.Synchronous,
		bus: event.NewBus[Message](context.Background(), event.BusOptions{
			Name:        name,
			BlockOnFull: true,
			Registry:    options.Registry,
		}),
		handlers: make(map[uint64]loopbackHandler),
	}
}

func (loopback *Loopback) Publish(ctx context.Context, topic, payload string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	loopback.mu.Lock()
	if loopback.closed {
		loopback.mu.Unlock()
		return ErrClosed
	}
	var targets []Handler
	if loopback.synchronous {
		for _, entry := range loopback.handlers {
			if entry.topic == topic {
				targets = append(targets, entry.handler)
			}
		}
	}
	loopback.mu.Unlock()

	if !loopback.synchronous {
		loopback.bus.Publish(Message{
			Topic:   topic,
			Payload: payload,
			Origin:  loopback.origin,
			SentAt:  time.Now().UTC(),
		})
		return nil
	}
	for _, handler := range targets {
		handler(payload)
	}
	return nil
}

func (loopback *Loopback) Subscribe(topic string, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	loopback.mu.Lock()
	defer loopback.mu.Unlock()
	if loopback.closed {
		return nil, ErrClosed
	}

	if loopback.synchronous {
		loopback.nextID++
		id := loopback.nextID
		loopback.handlers[id] = loopbackHandler{topic: topic, handler: handler}
		return func() {
			loopback.mu.Lock()
			delete(loopback.handlers, id)
			loopback.mu.Unlock()
		}, nil
	}

	messages, cancel := loopback.bus.SubscribeFiltered(func(message Message) bool {
		return message.Topic == topic
	})
	loopback.wg.Add(1)
	go func() {
		defer loopback.wg.Done()
		for message := range messages {
			handler(message.Payload)
		}
	}()
	return cancel, nil
}

// Close stops delivery and waits for in-flight asynchronous handlers.
func (loopback *Loopback) Close() error {
	loopback.mu.Lock()
	if loopback.closed {
		loopback.mu.Unlock()
		return nil
	}
	loopback.closed = true
	loopback.handlers = make(map[uint64]loopbackHandler)
	loopback.mu.Unlock()

	loopback.bus.Close()
	loopback.wg.Wait()
	return nil
}
