package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

// P2PBus carries events over libp2p gossipsub so gateways on other nodes
// receive the transitions driven by this node's workers. Local subscribers
// see local publishes as well.
type P2PBus struct {
	h       host.Host
	ps      *pubsub.PubSub
	buffer  int
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

type P2PConfig struct {
	ListenAddr string
	Bootstrap  []string
	Buffer     int
	Logger     *zap.SugaredLogger
	Metrics    *metrics.Metrics
}

func NewP2PBus(ctx context.Context, cfg P2PConfig) (*P2PBus, error) {
	log := util.OrNop(cfg.Logger)

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen addr %q: %w", cfg.ListenAddr, err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	busCtx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(busCtx, h)
	if err != nil {
		cancel()
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			log.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	log.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return &P2PBus{
		h:       h,
		ps:      ps,
		buffer:  cfg.Buffer,
		log:     log,
		metrics: cfg.Metrics,
		ctx:     busCtx,
		cancel:  cancel,
		topics:  make(map[string]*pubsub.Topic),
	}, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (b *P2PBus) Host() host.Host { return b.h }

// topic joins name once and caches the handle.
func (b *P2PBus) topic(name string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ctx.Err(); err != nil {
		return nil, ErrClosed
	}
	if t, ok := b.topics[name]; ok {
		return t, nil
	}
	t, err := b.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	b.topics[name] = t
	return t, nil
}

func (b *P2PBus) Publish(ctx context.Context, topic string, ev order.StatusEvent) error {
	t, err := b.topic(topic)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return t.Publish(ctx, data)
}

func (b *P2PBus) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	t, err := b.topic(topic)
	if err != nil {
		return nil, err
	}
	psub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(b.ctx)
	stopWatch := context.AfterFunc(ctx, cancel)

	sub := newSubscription(topic, b.buffer)
	sub.stop = func() {
		stopWatch()
		cancel()
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(sub.ch)
		defer psub.Cancel()
		b.forward(subCtx, psub, sub)
	}()
	return sub, nil
}

func (b *P2PBus) forward(ctx context.Context, psub *pubsub.Subscription, sub *Subscription) {
	for {
		msg, err := psub.Next(ctx)
		if err != nil {
			return
		}
		var ev order.StatusEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.Warnw("event_decode_failed", "topic", sub.Topic, "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}
		if !sub.offer(ev) {
			b.metrics.EventDropped("bus")
			b.log.Debugw("event_dropped", "topic", sub.Topic, "order_id", ev.OrderID, "state", ev.State)
		}
	}
}

func (b *P2PBus) Close() error {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	for name, t := range b.topics {
		if err := t.Close(); err != nil {
			b.log.Debugw("topic_close_failed", "topic", name, "err", err)
		}
	}
	b.topics = map[string]*pubsub.Topic{}
	b.mu.Unlock()

	return b.h.Close()
}

var _ EventBus = (*P2PBus)(nil)
