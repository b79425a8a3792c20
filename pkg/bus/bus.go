package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

var ErrClosed = errors.New("event bus closed")

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 256

// EventBus fans status events out to every subscriber of a topic. Publish
// never waits on a subscriber: events that do not fit a subscriber's buffer
// are dropped for that subscriber.
type EventBus interface {
	Publish(ctx context.Context, topic string, ev order.StatusEvent) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription delivers the events of one topic until it is closed, its
// context ends or the bus shuts down. Events is closed afterwards.
type Subscription struct {
	Topic string

	ch   chan order.StatusEvent
	stop func()
	once sync.Once
}

func newSubscription(topic string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Subscription{Topic: topic, ch: make(chan order.StatusEvent, buffer)}
}

func (s *Subscription) Events() <-chan order.StatusEvent { return s.ch }

func (s *Subscription) Close() {
	s.once.Do(s.stop)
}

// offer hands ev to the subscriber without blocking.
func (s *Subscription) offer(ev order.StatusEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}
