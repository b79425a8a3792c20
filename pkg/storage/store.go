package storage

import (
	"context"
	"errors"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrExists   = errors.New("order already exists")
)

// OrderStore is the durable record of orders. Update applies fn to the
// current record and persists the result atomically with respect to other
// Update calls on the same store; when fn returns an error nothing is
// written and the error is returned unchanged.
type OrderStore interface {
	Create(ctx context.Context, o order.Order) (order.Order, error)
	Update(ctx context.Context, id string, fn func(*order.Order) error) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
}
