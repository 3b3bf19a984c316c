package relay

import (
	"context"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const streamBuffer = 256

// Redis implements Relay over a Redis pub/sub connection. One instance per
// process, created at startup and closed at shutdown.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	out    chan Message
}

// NewRedis creates a relay over the given client. The client is owned by
// the caller and is not closed by Close.
func NewRedis(ctx context.Context, client *redis.Client) *Redis {
	r := &Redis{
		client: client,
		pubsub: client.Subscribe(ctx),
		out:    make(chan Message, streamBuffer),
	}
	go r.pump()
	return r
}

func (r *Redis) Subscribe(ctx context.Context, topic string) error {
	return r.pubsub.Subscribe(ctx, topic)
}

func (r *Redis) Unsubscribe(ctx context.Context, topic string) error {
	return r.pubsub.Unsubscribe(ctx, topic)
}

func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

func (r *Redis) Stream() <-chan Message {
	return r.out
}

// Close tears down the pub/sub connection; the stream channel closes once
// in-flight messages drain.
func (r *Redis) Close() error {
	return r.pubsub.Close()
}

func (r *Redis) pump() {
	defer close(r.out)
	for msg := range r.pubsub.Channel() {
		r.out <- Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}
	}
	log.Debug("relay: pubsub channel closed")
}
