package order

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const SideBuy Side = "BUY"

type Type string

const TypeMarket Type = "MARKET"

// Order is the durable record of one trade request and its lifecycle.
//
// ExecutionPrice, SettlementRef and QuoteSource are set only while the order
// is CONFIRMED; FailureReason only while it is FAILED. The transition methods
// below are the only mutators and keep those fields consistent with State.
type Order struct {
	ID             string           `json:"id"`
	AssetIn        string           `json:"assetIn"`
	AssetOut       string           `json:"assetOut"`
	Quantity       decimal.Decimal  `json:"quantity"`
	Side           Side             `json:"side"`
	Type           Type             `json:"type"`
	State          State            `json:"state"`
	ExecutionPrice *decimal.Decimal `json:"executionPrice,omitempty"`
	SettlementRef  string           `json:"settlementReference,omitempty"`
	QuoteSource    string           `json:"quoteSource,omitempty"`
	FailureReason  string           `json:"failureReason,omitempty"`
	Attempts       int              `json:"attempts"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Request is what intake accepts from callers.
type Request struct {
	AssetIn  string          `json:"assetIn"`
	AssetOut string          `json:"assetOut"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Validate checks the request before any state is created.
func (r Request) Validate() error {
	if strings.TrimSpace(r.AssetIn) == "" {
		return &ValidationError{Field: "assetIn", Reason: "must not be empty"}
	}
	if strings.TrimSpace(r.AssetOut) == "" {
		return &ValidationError{Field: "assetOut", Reason: "must not be empty"}
	}
	if strings.EqualFold(r.AssetIn, r.AssetOut) {
		return &ValidationError{Field: "assetOut", Reason: "must differ from assetIn"}
	}
	if !r.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	return nil
}

// New builds a PENDING market buy order from a validated request.
func New(req Request, now time.Time) Order {
	return Order{
		ID:        uuid.New().String(),
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		Quantity:  req.Quantity,
		Side:      SideBuy,
		Type:      TypeMarket,
		State:     StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StartAttempt moves the order into ROUTING at the beginning of an
// execution attempt. It is the only transition allowed to leave FAILED.
func (o *Order) StartAttempt(now time.Time) error {
	if o.State == StateConfirmed {
		return ErrAlreadyConfirmed
	}
	if !CanRestart(o.State) {
		return invalidTransition(o.State, StateRouting)
	}
	o.Attempts++
	o.set(StateRouting, now)
	return nil
}

// Advance performs an in-attempt step that carries no payload
// (ROUTING -> BUILDING, BUILDING -> SUBMITTED).
func (o *Order) Advance(to State, now time.Time) error {
	if to == StateConfirmed || to == StateFailed || !CanTransition(o.State, to) {
		return invalidTransition(o.State, to)
	}
	o.set(to, now)
	return nil
}

// Confirm records a successful execution.
func (o *Order) Confirm(price decimal.Decimal, settlementRef, source string, now time.Time) error {
	if !CanTransition(o.State, StateConfirmed) {
		return invalidTransition(o.State, StateConfirmed)
	}
	o.set(StateConfirmed, now)
	o.ExecutionPrice = &price
	o.SettlementRef = settlementRef
	o.QuoteSource = source
	return nil
}

// Fail records a failed execution attempt.
func (o *Order) Fail(reason string, now time.Time) error {
	if !CanTransition(o.State, StateFailed) {
		return invalidTransition(o.State, StateFailed)
	}
	o.set(StateFailed, now)
	o.FailureReason = reason
	return nil
}

// Abandon fails an order left mid-attempt with no attempts remaining.
// Terminal orders are left untouched and reported false.
func (o *Order) Abandon(reason string, now time.Time) bool {
	if o.State.IsTerminal() {
		return false
	}
	o.set(StateFailed, now)
	o.FailureReason = reason
	return true
}

func (o *Order) set(s State, now time.Time) {
	o.State = s
	o.UpdatedAt = now
	o.ExecutionPrice = nil
	o.SettlementRef = ""
	o.QuoteSource = ""
	o.FailureReason = ""
}

// Event returns the status event announcing the order's current state.
func (o Order) Event(now time.Time) StatusEvent {
	ev := StatusEvent{
		OrderID:   o.ID,
		State:     o.State,
		Attempt:   o.Attempts,
		Timestamp: now.UnixMilli(),
	}
	switch o.State {
	case StateConfirmed:
		ev.Price = o.ExecutionPrice
		ev.SettlementRef = o.SettlementRef
		ev.Source = o.QuoteSource
	case StateFailed:
		ev.Reason = o.FailureReason
	}
	return ev
}
