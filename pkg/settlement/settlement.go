package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperflash/pkg/router"
)

var (
	ErrBuildFailed  = errors.New("transaction build failed")
	ErrSubmitFailed = errors.New("transaction submission failed")
)

// Transaction is the unsigned payload produced by the build step.
type Transaction struct {
	OrderID string
	Payload []byte
	Hash    common.Hash
}

// Trade is the swap a transaction is built for, taken from the job snapshot.
type Trade struct {
	OrderID  string
	AssetIn  string
	AssetOut string
	Quantity decimal.Decimal
	Attempt  int
}

// Executor is the external build and submit step of an execution attempt.
type Executor interface {
	Build(ctx context.Context, t Trade, q router.Quote) (Transaction, error)
	// Submit returns the settlement reference once the transaction is
	// confirmed.
	Submit(ctx context.Context, tx Transaction) (string, error)
}

type Config struct {
	BuildDelay   time.Duration
	ConfirmDelay time.Duration
	// FailureRate is the probability in [0, 1] that either step fails.
	FailureRate float64
}

// Simulator builds a deterministic payload, waits the configured latencies
// and reports the payload's Keccak-256 hash as the settlement reference.
type Simulator struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(cfg Config) *Simulator {
	seed := uint64(time.Now().UnixNano())
	return &Simulator{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

type payload struct {
	OrderID  string          `json:"orderId"`
	AssetIn  string          `json:"assetIn"`
	AssetOut string          `json:"assetOut"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fee      decimal.Decimal `json:"fee"`
	Venue    string          `json:"venue"`
	Attempt  int             `json:"attempt"`
}

func (s *Simulator) Build(ctx context.Context, t Trade, q router.Quote) (Transaction, error) {
	if err := s.wait(ctx, s.cfg.BuildDelay); err != nil {
		return Transaction{}, err
	}
	if s.fails() {
		return Transaction{}, fmt.Errorf("%w: simulated venue rejection", ErrBuildFailed)
	}

	raw, err := json.Marshal(payload{
		OrderID:  t.OrderID,
		AssetIn:  t.AssetIn,
		AssetOut: t.AssetOut,
		Quantity: t.Quantity,
		Price:    q.Price,
		Fee:      q.Fee,
		Venue:    q.Source,
		Attempt:  t.Attempt,
	})
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: %s", ErrBuildFailed, err)
	}
	return Transaction{OrderID: t.OrderID, Payload: raw, Hash: crypto.Keccak256Hash(raw)}, nil
}

func (s *Simulator) Submit(ctx context.Context, tx Transaction) (string, error) {
	if err := s.wait(ctx, s.cfg.ConfirmDelay); err != nil {
		return "", err
	}
	if s.fails() {
		return "", fmt.Errorf("%w: confirmation timed out", ErrSubmitFailed)
	}
	return tx.Hash.Hex(), nil
}

func (s *Simulator) fails() bool {
	if s.cfg.FailureRate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < s.cfg.FailureRate
}

func (s *Simulator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
