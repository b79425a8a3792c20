package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

// LocalBus is an in-process EventBus.
type LocalBus struct {
	buffer  int
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewLocalBus(buffer int, logger *zap.SugaredLogger, m *metrics.Metrics) *LocalBus {
	return &LocalBus{
		buffer:  buffer,
		log:     util.OrNop(logger),
		metrics: m,
		subs:    make(map[string]map[*Subscription]struct{}),
	}
}

func (b *LocalBus) Publish(_ context.Context, topic string, ev order.StatusEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[topic] {
		if !sub.offer(ev) {
			b.metrics.EventDropped("bus")
			b.log.Debugw("event_dropped", "topic", topic, "order_id", ev.OrderID, "state", ev.State)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := newSubscription(topic, b.buffer)
	sub.stop = func() { b.remove(sub) }
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	context.AfterFunc(ctx, sub.Close)
	return sub, nil
}

func (b *LocalBus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.Topic][sub]; !ok {
		return
	}
	delete(b.subs[sub.Topic], sub)
	close(sub.ch)
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	return nil
}

var _ EventBus = (*LocalBus)(nil)
