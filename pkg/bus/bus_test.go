package bus

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
)

func event(id string, s order.State) order.StatusEvent {
	return order.StatusEvent{OrderID: id, State: s, Timestamp: time.Now().UnixMilli()}
}

func receive(t *testing.T, sub *Subscription) order.StatusEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return order.StatusEvent{}
	}
}

func TestLocalBusFanOut(t *testing.T) {
	b := NewLocalBus(8, nil, nil)
	defer b.Close()
	ctx := context.Background()

	s1, err := b.Subscribe(ctx, order.TopicUpdates)
	require.NoError(t, err)
	s2, err := b.Subscribe(ctx, order.TopicUpdates)
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, order.TopicUpdates, event("o1", order.StateRouting)))

	require.Equal(t, "o1", receive(t, s1).OrderID)
	require.Equal(t, order.StateRouting, receive(t, s2).State)
	require.Empty(t, other.Events())
}

func TestLocalBusDropsWhenSubscriberIsFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	b := NewLocalBus(1, nil, m)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, order.TopicUpdates)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			_ = b.Publish(ctx, order.TopicUpdates, event("o1", order.StateRouting))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, sub.Events(), 1)
	require.Equal(t, 4.0, testutil.ToFloat64(m.EventsDropped.WithLabelValues("bus")))
}

func TestLocalBusSubscriptionLifecycle(t *testing.T) {
	b := NewLocalBus(4, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := b.Subscribe(ctx, order.TopicUpdates)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed with its context")
	}
	require.NoError(t, b.Publish(context.Background(), order.TopicUpdates, event("o1", order.StatePending)))

	closeMe, err := b.Subscribe(context.Background(), order.TopicUpdates)
	require.NoError(t, err)
	closeMe.Close()
	closeMe.Close()
	_, ok := <-closeMe.Events()
	require.False(t, ok)

	live, err := b.Subscribe(context.Background(), order.TopicUpdates)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, ok = <-live.Events()
	require.False(t, ok)
	live.Close()

	require.ErrorIs(t, b.Publish(context.Background(), order.TopicUpdates, event("o1", order.StatePending)), ErrClosed)
	_, err = b.Subscribe(context.Background(), order.TopicUpdates)
	require.ErrorIs(t, err, ErrClosed)
}

func TestP2PBusLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a libp2p host")
	}
	ctx := context.Background()
	b, err := NewP2PBus(ctx, P2PConfig{ListenAddr: "/ip4/127.0.0.1/tcp/0"})
	require.NoError(t, err)
	defer b.Close()

	sub, err := b.Subscribe(ctx, order.TopicUpdates)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, order.TopicUpdates, event("o7", order.StateSubmitted)))
	ev := receive(t, sub)
	require.Equal(t, "o7", ev.OrderID)
	require.Equal(t, order.StateSubmitted, ev.State)

	sub.Close()
	for range sub.Events() {
	}
}
