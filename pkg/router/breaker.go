package router

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/util"
)

var (
	// MaxNumOfFailingRequests is the request count a provider must exceed
	// before its breaker may open.
	MaxNumOfFailingRequests = 10
	// FailingRatio is the failure ratio that opens the breaker.
	FailingRatio = 0.6
)

type breakerProvider struct {
	QuoteProvider
	cb *gobreaker.CircuitBreaker
}

// WithBreaker wraps p so that once it keeps failing, calls fail fast with
// gobreaker.ErrOpenState until the breaker half-opens again.
func WithBreaker(p QuoteProvider, logger *zap.SugaredLogger) QuoteProvider {
	log := util.OrNop(logger)
	return &breakerProvider{
		QuoteProvider: p,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: p.Name(),
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnw("quote_breaker_state", "provider", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (b *breakerProvider) GetQuote(ctx context.Context, assetIn, assetOut string, quantity decimal.Decimal) (Quote, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.QuoteProvider.GetQuote(ctx, assetIn, assetOut, quantity)
	})
	if err != nil {
		return Quote{}, err
	}
	return res.(Quote), nil
}
