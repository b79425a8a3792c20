package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperflash/pkg/bus"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/queue"
	"github.com/uhyunpark/hyperflash/pkg/storage"
)

type failingEnqueuer struct{ err error }

func (f failingEnqueuer) Enqueue(context.Context, queue.Job, queue.RetryPolicy) (string, error) {
	return "", f.err
}

func setup(t *testing.T, jobs Enqueuer) (*App, *storage.InMemoryStore, *bus.Subscription) {
	t.Helper()
	store := storage.NewInMemoryStore()
	b := bus.NewLocalBus(16, nil, nil)
	t.Cleanup(func() { b.Close() })
	sub, err := b.Subscribe(context.Background(), order.TopicUpdates)
	require.NoError(t, err)
	return New(Config{Store: store, Jobs: jobs, Events: b}), store, sub
}

func TestSubmitOrder(t *testing.T) {
	q, err := queue.New(nil)
	require.NoError(t, err)
	defer q.Close()
	a, store, sub := setup(t, q)

	o, err := a.SubmitOrder(context.Background(), order.Request{
		AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	require.NotEmpty(t, o.ID)
	require.Equal(t, order.StatePending, o.State)
	require.Equal(t, order.SideBuy, o.Side)
	require.Equal(t, order.TypeMarket, o.Type)

	stored, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatePending, stored.State)

	select {
	case ev := <-sub.Events():
		require.Equal(t, o.ID, ev.OrderID)
		require.Equal(t, order.StatePending, ev.State)
	case <-time.After(time.Second):
		t.Fatal("PENDING not published")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, o.ID, d.Job.OrderID)
	require.True(t, d.Job.Quantity.Equal(decimal.NewFromInt(100)))

	got, err := a.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, o.ID, got.ID)
}

func TestSubmitOrderValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   order.Request
		field string
	}{
		{"missing asset in", order.Request{AssetOut: "USDC", Quantity: decimal.NewFromInt(1)}, "assetIn"},
		{"missing asset out", order.Request{AssetIn: "SOL", Quantity: decimal.NewFromInt(1)}, "assetOut"},
		{"zero quantity", order.Request{AssetIn: "SOL", AssetOut: "USDC"}, "quantity"},
		{"negative quantity", order.Request{AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(-3)}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, sub := setup(t, failingEnqueuer{err: errors.New("must not be called")})
			_, err := a.SubmitOrder(context.Background(), tt.req)

			var verr *order.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Equal(t, tt.field, verr.Field)
			require.Empty(t, sub.Events())
		})
	}
}

func TestSubmitOrderEnqueueFailure(t *testing.T) {
	boom := errors.New("queue unavailable")
	a, store, _ := setup(t, failingEnqueuer{err: boom})

	o, err := a.SubmitOrder(context.Background(), order.Request{
		AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(1),
	})
	require.ErrorIs(t, err, boom)

	stored, err := store.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatePending, stored.State)
}

func TestGetOrderNotFound(t *testing.T) {
	a, _, _ := setup(t, failingEnqueuer{})
	_, err := a.GetOrder(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
