package storage

import (
	"context"
	"sync"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

type InMemoryStore struct {
	mu     sync.Mutex
	orders map[string]order.Order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{orders: make(map[string]order.Order)}
}

func (s *InMemoryStore) Create(ctx context.Context, o order.Order) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return order.Order{}, ErrExists
	}
	s.orders[o.ID] = o
	return o, nil
}

func (s *InMemoryStore) Update(ctx context.Context, id string, fn func(*order.Order) error) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, ErrNotFound
	}
	if err := fn(&o); err != nil {
		return s.orders[id], err
	}
	s.orders[id] = o
	return o, nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, ErrNotFound
	}
	return o, nil
}

var _ OrderStore = (*InMemoryStore)(nil)
