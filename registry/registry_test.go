package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boardsync/relay"
)

// fakeRelay records subscribe/unsubscribe transitions and feeds Stream from
// a test-owned channel.
type fakeRelay struct {
	mu         sync.Mutex
	subscribed map[string]int
	subCalls   int
	unsubCalls int
	stream     chan relay.Message
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		subscribed: make(map[string]int),
		stream:     make(chan relay.Message, 16),
	}
}

func (f *fakeRelay) Subscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic]++
	f.subCalls++
	return nil
}

func (f *fakeRelay) Unsubscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic]--
	f.unsubCalls++
	return nil
}

func (f *fakeRelay) Publish(ctx context.Context, topic string, payload []byte) error {
	f.stream <- relay.Message{Topic: topic, Payload: payload}
	return nil
}

func (f *fakeRelay) Stream() <-chan relay.Message { return f.stream }
func (f *fakeRelay) Close() error                 { close(f.stream); return nil }

func (f *fakeRelay) subscriptionCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[topic]
}

type fakeSender struct {
	mu       sync.Mutex
	received [][]byte
	fail     bool
}

func (s *fakeSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("write failed")
	}
	s.received = append(s.received, payload)
	return nil
}

func (s *fakeSender) messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.received))
	copy(out, s.received)
	return out
}

func TestJoinSubscribesOnFirstSession(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx := context.Background()

	s1, s2 := &fakeSender{}, &fakeSender{}
	if err := g.Join(ctx, "board:b1", s1); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := g.Join(ctx, "board:b1", s2); err != nil {
		t.Fatalf("join: %v", err)
	}

	if fr.subCalls != 1 {
		t.Fatalf("expected 1 subscribe, got %d", fr.subCalls)
	}
	if g.SessionCount("board:b1") != 2 {
		t.Fatalf("expected 2 sessions, got %d", g.SessionCount("board:b1"))
	}
}

func TestLeaveUnsubscribesOnLastSession(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx := context.Background()

	s1, s2 := &fakeSender{}, &fakeSender{}
	g.Join(ctx, "board:b1", s1)
	g.Join(ctx, "board:b1", s2)

	g.Leave(ctx, "board:b1", s1)
	if fr.unsubCalls != 0 {
		t.Fatalf("unsubscribed with sessions remaining")
	}
	g.Leave(ctx, "board:b1", s2)
	if fr.unsubCalls != 1 {
		t.Fatalf("expected 1 unsubscribe, got %d", fr.unsubCalls)
	}
	// leaving again is a no-op
	g.Leave(ctx, "board:b1", s2)
	if fr.unsubCalls != 1 {
		t.Fatalf("double unsubscribe")
	}
}

func TestConcurrentJoinsSubscribeOnce(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	senders := make([]*fakeSender, n)
	for i := 0; i < n; i++ {
		senders[i] = &fakeSender{}
		wg.Add(1)
		go func(s *fakeSender) {
			defer wg.Done()
			g.Join(ctx, "board:b1", s)
		}(senders[i])
	}
	wg.Wait()

	if fr.subCalls != 1 {
		t.Fatalf("expected 1 subscribe under %d concurrent joins, got %d", n, fr.subCalls)
	}

	for i := range senders {
		wg.Add(1)
		go func(s *fakeSender) {
			defer wg.Done()
			g.Leave(ctx, "board:b1", s)
		}(senders[i])
	}
	wg.Wait()

	if fr.unsubCalls != 1 {
		t.Fatalf("expected 1 unsubscribe under %d concurrent leaves, got %d", n, fr.unsubCalls)
	}
	if got := fr.subscriptionCount("board:b1"); got != 0 {
		t.Fatalf("expected balanced subscriptions, got %d", got)
	}
}

func TestFanoutDeliversToAllSessions(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx := context.Background()

	s1, s2 := &fakeSender{}, &fakeSender{}
	other := &fakeSender{}
	g.Join(ctx, "board:b1", s1)
	g.Join(ctx, "board:b1", s2)
	g.Join(ctx, "board:b2", other)

	g.Fanout(ctx, "board:b1", []byte("hello"))

	for _, s := range []*fakeSender{s1, s2} {
		msgs := s.messages()
		if len(msgs) != 1 || string(msgs[0]) != "hello" {
			t.Fatalf("unexpected messages %v", msgs)
		}
	}
	if len(other.messages()) != 0 {
		t.Fatal("message leaked to another topic")
	}
}

func TestFanoutPrunesFailedSenders(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx := context.Background()

	bad := &fakeSender{fail: true}
	g.Join(ctx, "board:b1", bad)

	g.Fanout(ctx, "board:b1", []byte("hello"))

	if g.SessionCount("board:b1") != 0 {
		t.Fatal("failed sender was not pruned")
	}
	// pruning the last session releases the relay subscription
	if fr.unsubCalls != 1 {
		t.Fatalf("expected unsubscribe after prune, got %d", fr.unsubCalls)
	}
}

func TestRunFansOutRelayMessages(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &fakeSender{}
	g.Join(ctx, "board:b1", s)

	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()

	fr.Publish(ctx, "board:b1", []byte("one"))
	fr.Publish(ctx, "board:b1", []byte("two"))

	deadline := time.After(time.Second)
	for len(s.messages()) < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 messages, got %d", len(s.messages()))
		case <-time.After(5 * time.Millisecond):
		}
	}
	msgs := s.messages()
	if string(msgs[0]) != "one" || string(msgs[1]) != "two" {
		t.Fatalf("messages out of order: %q %q", msgs[0], msgs[1])
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
}

func TestJoinAfterCloseFails(t *testing.T) {
	fr := newFakeRelay()
	g := New(fr, nil)
	g.Close()
	if err := g.Join(context.Background(), "board:b1", &fakeSender{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
