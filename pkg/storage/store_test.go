package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

func stores(t *testing.T) map[string]OrderStore {
	t.Helper()
	ps, err := NewPebbleStore("orders", vfs.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { ps.Close() })

	return map[string]OrderStore{
		"memory": NewInMemoryStore(),
		"pebble": ps,
	}
}

func pending() order.Order {
	return order.New(order.Request{AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(5)}, time.Now().UTC())
}

func TestCreateGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			o := pending()
			created, err := s.Create(ctx, o)
			require.NoError(t, err)
			require.Equal(t, o.ID, created.ID)

			got, err := s.Get(ctx, o.ID)
			require.NoError(t, err)
			require.Equal(t, order.StatePending, got.State)
			require.True(t, got.Quantity.Equal(o.Quantity))

			_, err = s.Create(ctx, o)
			require.ErrorIs(t, err, ErrExists)

			_, err = s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			o := pending()
			_, err := s.Create(ctx, o)
			require.NoError(t, err)

			updated, err := s.Update(ctx, o.ID, func(o *order.Order) error {
				return o.StartAttempt(time.Now())
			})
			require.NoError(t, err)
			require.Equal(t, order.StateRouting, updated.State)

			got, err := s.Get(ctx, o.ID)
			require.NoError(t, err)
			require.Equal(t, order.StateRouting, got.State)
			require.Equal(t, 1, got.Attempts)

			boom := errors.New("boom")
			_, err = s.Update(ctx, o.ID, func(o *order.Order) error {
				o.State = order.StateConfirmed
				return boom
			})
			require.ErrorIs(t, err, boom)

			got, err = s.Get(ctx, o.ID)
			require.NoError(t, err)
			require.Equal(t, order.StateRouting, got.State, "a failed mutator must not be persisted")

			_, err = s.Update(ctx, "missing", func(*order.Order) error { return nil })
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			o := pending()
			_, err := s.Create(ctx, o)
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Update(ctx, o.ID, func(o *order.Order) error {
						o.Attempts++
						return nil
					})
					require.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := s.Get(ctx, o.ID)
			require.NoError(t, err)
			require.Equal(t, 50, got.Attempts)
		})
	}
}

func TestConfirmedRoundTrip(t *testing.T) {
	ctx := context.Background()
	ps, err := NewPebbleStore("orders", vfs.NewMem())
	require.NoError(t, err)
	defer ps.Close()

	o := pending()
	require.NoError(t, o.StartAttempt(time.Now()))
	require.NoError(t, o.Advance(order.StateBuilding, time.Now()))
	require.NoError(t, o.Advance(order.StateSubmitted, time.Now()))
	require.NoError(t, o.Confirm(decimal.RequireFromString("99.8"), "0xref", "Meteora", time.Now()))
	_, err = ps.Create(ctx, o)
	require.NoError(t, err)

	got, err := ps.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ExecutionPrice)
	require.True(t, got.ExecutionPrice.Equal(decimal.RequireFromString("99.8")))
	require.Equal(t, "0xref", got.SettlementRef)
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("ord;"), KeyUpperBound([]byte("ord:")))
	require.Equal(t, []byte{0x02}, KeyUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, KeyUpperBound([]byte{0xff}))
}
