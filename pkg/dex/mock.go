package dex

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperflash/pkg/router"
)

// MockProvider simulates a venue: it waits a random latency and quotes
// around a base price with a symmetric random variance.
type MockProvider struct {
	name      string
	basePrice decimal.Decimal
	variance  float64
	minDelay  time.Duration
	maxDelay  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

type MockConfig struct {
	Name      string
	BasePrice float64
	// Variance is the maximum relative deviation, e.g. 0.05 for +/-5%.
	Variance float64
	MinDelay time.Duration
	MaxDelay time.Duration
	Seed     uint64
}

func NewMockProvider(cfg MockConfig) *MockProvider {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &MockProvider{
		name:      cfg.Name,
		basePrice: decimal.NewFromFloat(cfg.BasePrice),
		variance:  cfg.Variance,
		minDelay:  cfg.MinDelay,
		maxDelay:  cfg.MaxDelay,
		rng:       rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// DefaultMocks returns the two simulated venues: Raydium quotes around 100
// with +/-5%, Meteora around 100.5 with +/-2%.
func DefaultMocks(minDelay, maxDelay time.Duration) []router.QuoteProvider {
	return []router.QuoteProvider{
		NewMockProvider(MockConfig{Name: "Raydium", BasePrice: 100, Variance: 0.05, MinDelay: minDelay, MaxDelay: maxDelay}),
		NewMockProvider(MockConfig{Name: "Meteora", BasePrice: 100.5, Variance: 0.02, MinDelay: minDelay, MaxDelay: maxDelay}),
	}
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) GetQuote(ctx context.Context, _, _ string, quantity decimal.Decimal) (router.Quote, error) {
	m.mu.Lock()
	delay := m.minDelay
	if span := m.maxDelay - m.minDelay; span > 0 {
		delay += time.Duration(m.rng.Int64N(int64(span)))
	}
	factor := 1 + (m.rng.Float64()*m.variance*2 - m.variance)
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return router.Quote{}, ctx.Err()
		}
	}

	return router.Quote{
		Price:  m.basePrice.Mul(decimal.NewFromFloat(factor)),
		Fee:    Fee(quantity),
		Source: m.name,
	}, nil
}
