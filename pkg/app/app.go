package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/bus"
	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/queue"
	"github.com/uhyunpark/hyperflash/pkg/storage"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

// Enqueuer is the producer side of the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job, policy queue.RetryPolicy) (string, error)
}

// App is the intake of the execution engine: it records new orders,
// announces them and hands them to the worker pool.
type App struct {
	store   storage.OrderStore
	jobs    Enqueuer
	events  bus.EventBus
	policy  queue.RetryPolicy
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

type Config struct {
	Store   storage.OrderStore
	Jobs    Enqueuer
	Events  bus.EventBus
	Policy  queue.RetryPolicy
	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func New(cfg Config) *App {
	a := &App{
		store:   cfg.Store,
		jobs:    cfg.Jobs,
		events:  cfg.Events,
		policy:  cfg.Policy,
		clock:   cfg.Clock,
		log:     util.OrNop(cfg.Logger),
		metrics: cfg.Metrics,
	}
	if a.policy.Attempts == 0 {
		a.policy = queue.DefaultRetryPolicy()
	}
	if a.clock == nil {
		a.clock = util.RealClock{}
	}
	return a
}

// SubmitOrder validates req, stores a PENDING order, publishes it and
// enqueues its execution job. A validation failure returns a
// *order.ValidationError and leaves no trace. When the enqueue fails the
// order stays PENDING and the error is returned.
func (a *App) SubmitOrder(ctx context.Context, req order.Request) (order.Order, error) {
	if err := req.Validate(); err != nil {
		return order.Order{}, err
	}

	o, err := a.store.Create(ctx, order.New(req, a.clock.Now()))
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	a.metrics.Transition(o.State.String())
	if a.events != nil {
		if err := a.events.Publish(ctx, order.TopicUpdates, o.Event(a.clock.Now())); err != nil {
			a.metrics.EventDropped("publish")
			a.log.Warnw("publish_failed", "order_id", o.ID, "state", o.State, "err", err)
		}
	}

	jobID, err := a.jobs.Enqueue(ctx, queue.Job{
		OrderID:  o.ID,
		AssetIn:  o.AssetIn,
		AssetOut: o.AssetOut,
		Quantity: o.Quantity,
	}, a.policy)
	if err != nil {
		a.log.Errorw("enqueue_failed", "order_id", o.ID, "err", err)
		return o, fmt.Errorf("enqueue order %s: %w", o.ID, err)
	}

	a.log.Infow("order_submitted", "order_id", o.ID, "job_id", jobID,
		"asset_in", o.AssetIn, "asset_out", o.AssetOut, "quantity", o.Quantity.String())
	return o, nil
}

func (a *App) GetOrder(ctx context.Context, id string) (order.Order, error) {
	return a.store.Get(ctx, id)
}
