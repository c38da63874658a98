// Package broadcast carries "reload" signals between every store that
// shares an options file. A message published on a topic reaches every
// subscriber of that topic, including subscribers in the publishing process.
package broadcast

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("broadcast channel is closed")

// Handler receives the payload of a delivered message.
type Handler func(payload string)

// Channel publishes string payloads under a topic.
type Channel interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(topic string, handler Handler) (cancel func(), err error)
	Close() error
}

// Message is the unit carried by every Channel implementation.
type Message struct {
	Topic   string    `json:"topic"`
	Payload string    `json:"payload"`
	Origin  string    `json:"origin"`
	SentAt  time.Time `json:"sent_at"`
}

func (Message) Type() string {
	return "broadcast"
}
