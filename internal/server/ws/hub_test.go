package ws

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlaunch/saled/internal/domain"
)

type stubBus struct {
	mu      sync.Mutex
	streams map[string][]domain.StreamMessage
	reads   []string
	msgCh   chan []byte
}

func newStubBus() *stubBus {
	return &stubBus{
		streams: make(map[string][]domain.StreamMessage),
		msgCh:   make(chan []byte, 1),
	}
}

func (b *stubBus) Publish(context.Context, string, []byte) error { return nil }

func (b *stubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.msgCh, nil
}

func (b *stubBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *stubBus) StreamRead(_ context.Context, stream string, _ string, _ int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, stream)
	return b.streams[stream], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHubReplayBackfillsClient(t *testing.T) {
	bus := newStubBus()
	bus.streams[domain.ChannelPurchases] = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"event":"purchase"}`)},
		{ID: "2-0", Payload: []byte(`{"event":"purchase"}`)},
	}
	bus.streams[domain.ChannelPhases] = []domain.StreamMessage{
		{ID: "3-0", Payload: []byte(`{"event":"phase_change"}`)},
	}

	hub := NewHub(bus, testLogger(), Config{Mode: "serve"})
	c := &client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}

	hub.replayRecent(context.Background(), c)

	assert.Len(t, c.send, 3)
	// Every sale channel's stream is consulted, not just the ones with
	// backlog.
	assert.ElementsMatch(t, defaultChannels, bus.reads)
}

func TestHubReplayDropsOverflowInsteadOfBlocking(t *testing.T) {
	bus := newStubBus()
	var msgs []domain.StreamMessage
	for range 4 {
		msgs = append(msgs, domain.StreamMessage{ID: "1-0", Payload: []byte("{}")})
	}
	bus.streams[domain.ChannelPurchases] = msgs

	hub := NewHub(bus, testLogger(), Config{Mode: "serve"})
	c := &client{
		hub:  hub,
		send: make(chan []byte, 2),
		subs: make(map[string]bool),
	}

	done := make(chan struct{})
	go func() {
		hub.replayRecent(context.Background(), c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replay blocked on a full client buffer")
	}
	assert.Len(t, c.send, 2)
}

func TestHubSubscribeStopsAfterShutdown(t *testing.T) {
	bus := newStubBus()
	hub := NewHub(bus, testLogger(), Config{Mode: "serve"})

	// Simulate a stopped Run loop: nothing drains broadcast, and it is full.
	for range cap(hub.broadcast) {
		hub.broadcast <- broadcastMsg{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.subscribeToChannel(ctx, domain.ChannelPurchases)
		close(done)
	}()

	bus.msgCh <- []byte("{}")
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber goroutine did not exit after cancellation")
	}
}

func TestHubClientSubscriptionFiltering(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPurchases: true}}

	require.True(t, c.isSubscribed(domain.ChannelPurchases))
	require.False(t, c.isSubscribed(domain.ChannelClaims))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"sale:*"}})
	require.True(t, c.isSubscribed(domain.ChannelClaims))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"sale:*", domain.ChannelPurchases}})
	require.False(t, c.isSubscribed(domain.ChannelPurchases))
}
