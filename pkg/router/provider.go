package router

import (
	"context"

	"github.com/shopspring/decimal"
)

// Quote is a priced offer from one liquidity source.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Fee    decimal.Decimal `json:"fee"`
	Source string          `json:"source"`
}

// QuoteProvider is a single liquidity source. Implementations share no state
// with each other and must be safe for concurrent use.
type QuoteProvider interface {
	Name() string
	GetQuote(ctx context.Context, assetIn, assetOut string, quantity decimal.Decimal) (Quote, error)
}
