package order

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newPending(t *testing.T) Order {
	t.Helper()
	o := New(Request{AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(100)}, now)
	require.Equal(t, StatePending, o.State)
	require.NotEmpty(t, o.ID)
	return o
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"valid", Request{AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(5)}, ""},
		{"missing asset in", Request{AssetOut: "USDC", Quantity: decimal.NewFromInt(5)}, "assetIn"},
		{"missing asset out", Request{AssetIn: "SOL", Quantity: decimal.NewFromInt(5)}, "assetOut"},
		{"same asset", Request{AssetIn: "SOL", AssetOut: "sol", Quantity: decimal.NewFromInt(5)}, "assetOut"},
		{"zero quantity", Request{AssetIn: "SOL", AssetOut: "USDC"}, "quantity"},
		{"negative quantity", Request{AssetIn: "SOL", AssetOut: "USDC", Quantity: decimal.NewFromInt(-5)}, "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSuccessPath(t *testing.T) {
	o := newPending(t)

	require.NoError(t, o.StartAttempt(now))
	require.NoError(t, o.Advance(StateBuilding, now))
	require.NoError(t, o.Advance(StateSubmitted, now))
	require.NoError(t, o.Confirm(decimal.RequireFromString("99.8"), "0xabc", "Meteora", now))

	require.Equal(t, StateConfirmed, o.State)
	require.Equal(t, 1, o.Attempts)
	require.True(t, o.ExecutionPrice.Equal(decimal.RequireFromString("99.8")))
	require.Equal(t, "0xabc", o.SettlementRef)
	require.Empty(t, o.FailureReason)

	ev := o.Event(now)
	require.Equal(t, StateConfirmed, ev.State)
	require.Equal(t, "0xabc", ev.SettlementRef)
	require.Empty(t, ev.Reason)
}

func TestNoSkipsOrRegressions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateRouting, true},
		{StatePending, StateBuilding, false},
		{StatePending, StateFailed, false},
		{StateRouting, StateBuilding, true},
		{StateRouting, StateSubmitted, false},
		{StateRouting, StateFailed, true},
		{StateBuilding, StateRouting, false},
		{StateBuilding, StateFailed, true},
		{StateSubmitted, StateConfirmed, true},
		{StateSubmitted, StateBuilding, false},
		{StateConfirmed, StateFailed, false},
		{StateFailed, StateConfirmed, false},
		{StateFailed, StateRouting, false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestFailureKeepsInvariants(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.StartAttempt(now))
	require.NoError(t, o.Fail("all providers failed", now))

	require.Equal(t, StateFailed, o.State)
	require.Equal(t, "all providers failed", o.FailureReason)
	require.Nil(t, o.ExecutionPrice)

	ev := o.Event(now)
	require.Equal(t, "all providers failed", ev.Reason)
	require.Nil(t, ev.Price)
}

func TestRetryLeavesFailed(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.StartAttempt(now))
	require.NoError(t, o.Fail("boom", now))

	require.NoError(t, o.StartAttempt(now))
	require.Equal(t, StateRouting, o.State)
	require.Equal(t, 2, o.Attempts)
	require.Empty(t, o.FailureReason, "reason must be cleared once the order leaves FAILED")
}

func TestConfirmedIsFinal(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.StartAttempt(now))
	require.NoError(t, o.Advance(StateBuilding, now))
	require.NoError(t, o.Advance(StateSubmitted, now))
	require.NoError(t, o.Confirm(decimal.NewFromInt(1), "ref", "src", now))

	require.ErrorIs(t, o.StartAttempt(now), ErrAlreadyConfirmed)
	require.ErrorIs(t, o.Fail("late", now), ErrInvalidTransition)
	require.Equal(t, StateConfirmed, o.State)
}

func TestAdvanceRejectsPayloadStates(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.StartAttempt(now))
	require.ErrorIs(t, o.Advance(StateFailed, now), ErrInvalidTransition)
	require.NoError(t, o.Advance(StateBuilding, now))
	require.NoError(t, o.Advance(StateSubmitted, now))
	require.ErrorIs(t, o.Advance(StateConfirmed, now), ErrInvalidTransition)
}

func TestAbandon(t *testing.T) {
	o := newPending(t)
	require.NoError(t, o.StartAttempt(now))
	require.NoError(t, o.Advance(StateBuilding, now))

	require.True(t, o.Abandon("interrupted", now))
	require.Equal(t, StateFailed, o.State)
	require.Equal(t, "interrupted", o.FailureReason)

	require.False(t, o.Abandon("again", now))
	require.Equal(t, "interrupted", o.FailureReason)

	c := newPending(t)
	require.NoError(t, c.StartAttempt(now))
	require.NoError(t, c.Advance(StateBuilding, now))
	require.NoError(t, c.Advance(StateSubmitted, now))
	require.NoError(t, c.Confirm(decimal.NewFromInt(1), "ref", "src", now))
	require.False(t, c.Abandon("late", now))
	require.Equal(t, StateConfirmed, c.State)
}
