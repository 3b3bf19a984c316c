// Package registry holds the process-wide table of topic → live sessions
// and the broadcast loop that fans relay messages out to them.
package registry

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"boardsync/relay"
)

// ErrClosed is returned by Join after the registry has shut down.
var ErrClosed = errors.New("registry closed")

// Sender is the write side of a session. A failed write prunes the session
// from the registry.
type Sender interface {
	Send(payload []byte) error
}

// Registry maps topics to their live sessions. It owns the subscribe and
// unsubscribe lifecycle against the relay: the first session on a topic
// subscribes it, the last one out unsubscribes it.
type Registry struct {
	relay  relay.Relay
	logger *log.Logger

	mu     sync.Mutex
	topics map[string]map[Sender]struct{}
	closed bool
}

// New creates an empty registry over the given relay.
func New(r relay.Relay, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Registry{
		relay:  r,
		logger: logger,
		topics: make(map[string]map[Sender]struct{}),
	}
}

// Join registers the session under the topic, subscribing the topic to the
// relay on the 0→1 transition. The relay call happens under the registry
// lock so concurrent joins cannot double-subscribe.
func (g *Registry) Join(ctx context.Context, topic string, s Sender) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	set, ok := g.topics[topic]
	if !ok {
		if err := g.relay.Subscribe(ctx, topic); err != nil {
			return err
		}
		set = make(map[Sender]struct{})
		g.topics[topic] = set
	}
	set[s] = struct{}{}
	return nil
}

// Leave removes the session from the topic, unsubscribing from the relay
// when the topic empties. Leaving a topic twice is harmless.
func (g *Registry) Leave(ctx context.Context, topic string, s Sender) {
	g.mu.Lock()
	defer g.mu.Unlock()

	set, ok := g.topics[topic]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) > 0 {
		return
	}
	delete(g.topics, topic)
	if g.closed {
		return
	}
	if err := g.relay.Unsubscribe(ctx, topic); err != nil {
		g.logger.WithFields(log.Fields{"topic": topic, "error": err}).Error("registry: unsubscribe failed")
	}
}

// Fanout delivers the payload to every session currently registered for the
// topic, best-effort. Sessions whose write fails are pruned in the same
// pass. The member set is copied under the lock and written outside it.
func (g *Registry) Fanout(ctx context.Context, topic string, payload []byte) {
	g.mu.Lock()
	set := g.topics[topic]
	members := make([]Sender, 0, len(set))
	for s := range set {
		members = append(members, s)
	}
	g.mu.Unlock()

	if len(members) == 0 {
		return
	}

	m := newFanoutMetrics(g.logger, topic)
	for _, s := range members {
		if err := s.Send(payload); err != nil {
			m.ObservePrune()
			g.Leave(ctx, topic, s)
			continue
		}
		m.ObserveDelivery()
	}
	m.Log()
}

// SessionCount reports the number of live sessions for the topic.
func (g *Registry) SessionCount(topic string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.topics[topic])
}

// Run is the broadcast loop: it drains the relay stream and fans each
// message out to the matching topic. Exactly one Run per process.
func (g *Registry) Run(ctx context.Context) {
	stream := g.relay.Stream()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-stream:
			if !ok {
				g.logger.Debug("registry: relay stream closed")
				return
			}
			g.Fanout(ctx, msg.Topic, msg.Payload)
		}
	}
}

// Close stops accepting new joins and drops all topic entries. In-flight
// fanouts finish against their copied member sets.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.topics = make(map[string]map[Sender]struct{})
}
