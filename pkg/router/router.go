package router

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

// Router asks every registered provider for a quote and keeps the best one.
// The provider set is fixed at construction.
type Router struct {
	providers []QuoteProvider
	timeout   time.Duration
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithQuoteTimeout bounds each provider call. Zero means no bound beyond
// the caller's context.
func WithQuoteTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Router) { r.log = util.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func New(providers []QuoteProvider, opts ...Option) *Router {
	r := &Router{
		providers: append([]QuoteProvider(nil), providers...),
		log:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

type outcome struct {
	quote Quote
	err   error
}

// BestQuote queries all providers concurrently, waits for every one of
// them, and returns the lowest-priced quote. Equal prices resolve to the
// provider registered first.
func (r *Router) BestQuote(ctx context.Context, assetIn, assetOut string, quantity decimal.Decimal) (Quote, error) {
	if len(r.providers) == 0 {
		return Quote{}, ErrNoProvidersAvailable
	}

	r.log.Debugw("routing", "asset_in", assetIn, "asset_out", assetOut, "quantity", quantity.String())

	// Each goroutine owns its slot and returns nil, so one failure never
	// cancels or hides the others.
	outcomes := make([]outcome, len(r.providers))
	var eg errgroup.Group
	for i, p := range r.providers {
		eg.Go(func() error {
			outcomes[i] = r.ask(ctx, p, assetIn, assetOut, quantity)
			return nil
		})
	}
	_ = eg.Wait()

	var (
		best  Quote
		found bool
		errs  []error
	)
	for i, o := range outcomes {
		if o.err != nil {
			errs = append(errs, &ProviderError{Provider: r.providers[i].Name(), Err: o.err})
			continue
		}
		r.log.Debugw("quote_received", "source", o.quote.Source, "price", o.quote.Price.String())
		if !found || o.quote.Price.LessThan(best.Price) {
			best, found = o.quote, true
		}
	}

	if !found {
		return Quote{}, &AllProvidersFailedError{Errs: errs}
	}
	if len(errs) > 0 {
		r.log.Warnw("partial_quote_failure", "failed", len(errs), "providers", len(r.providers))
	}
	r.log.Infow("best_route", "source", best.Source, "price", best.Price.String(), "fee", best.Fee.String())
	return best, nil
}

func (r *Router) ask(ctx context.Context, p QuoteProvider, assetIn, assetOut string, quantity decimal.Decimal) outcome {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	q, err := p.GetQuote(ctx, assetIn, assetOut, quantity)
	r.metrics.Quote(p.Name(), time.Since(start), err)
	if err != nil {
		return outcome{err: err}
	}
	if q.Source == "" {
		q.Source = p.Name()
	}
	return outcome{quote: q}
}
