package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

// PebbleStore keeps orders in a pebble database. The database handle is
// shared with the queue backlog, see DB.
type PebbleStore struct {
	db *pebble.DB
	// serializes read-modify-write cycles
	mu sync.Mutex
}

// NewPebbleStore opens (or creates) the database at path. A nil fs uses the
// OS filesystem; tests pass vfs.NewMem().
func NewPebbleStore(path string, fs vfs.FS) (*PebbleStore, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) DB() *pebble.DB { return s.db }

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Create(ctx context.Context, o order.Order) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(o.ID); err == nil {
		return order.Order{}, ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return order.Order{}, err
	}
	if err := s.save(o); err != nil {
		return order.Order{}, err
	}
	return o, nil
}

func (s *PebbleStore) Update(ctx context.Context, id string, fn func(*order.Order) error) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(id)
	if err != nil {
		return order.Order{}, err
	}
	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	if err := s.save(next); err != nil {
		return current, err
	}
	return next, nil
}

func (s *PebbleStore) Get(ctx context.Context, id string) (order.Order, error) {
	if err := ctx.Err(); err != nil {
		return order.Order{}, err
	}
	return s.load(id)
}

func (s *PebbleStore) load(id string) (order.Order, error) {
	val, closer, err := s.db.Get(orderKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return order.Order{}, ErrNotFound
		}
		return order.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	defer closer.Close()
	return decodeOrder(val)
}

func (s *PebbleStore) save(o order.Order) error {
	val, err := encodeOrder(o)
	if err != nil {
		return err
	}
	if err := s.db.Set(orderKey(o.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

var _ OrderStore = (*PebbleStore)(nil)
