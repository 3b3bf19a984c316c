// Package relay abstracts the external pub/sub broker that decouples
// mutation processing from connection serving. Keeping the interface narrow
// makes the broker technology swappable without touching the command
// handlers.
package relay

import "context"

// Message is one (topic, payload) pair received from the broker.
type Message struct {
	Topic   string
	Payload []byte
}

// Relay is the broker contract. Publish is fire-and-forget from the
// caller's perspective; delivery is at-least-once to currently-subscribed
// consumers with per-topic FIFO from a single publisher.
type Relay interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Publish(ctx context.Context, topic string, payload []byte) error

	// Stream yields messages for all currently-subscribed topics. It is
	// consumed by exactly one broadcast loop per process and closes when
	// the relay shuts down.
	Stream() <-chan Message

	Close() error
}
