package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/bus"
	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/order"
	"github.com/uhyunpark/hyperflash/pkg/queue"
	"github.com/uhyunpark/hyperflash/pkg/router"
	"github.com/uhyunpark/hyperflash/pkg/settlement"
	"github.com/uhyunpark/hyperflash/pkg/storage"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

// ErrInterrupted is the failure reason of an order whose last allowed
// attempt never finished.
var ErrInterrupted = errors.New("execution interrupted with no attempts left")

var errUnchanged = errors.New("order unchanged")

// StepError reports a failed settlement step ("build" or "submit").
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("%s failed: %s", e.Step, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Quoter is the routing dependency of an execution attempt.
type Quoter interface {
	BestQuote(ctx context.Context, assetIn, assetOut string, quantity decimal.Decimal) (router.Quote, error)
}

// Execution drives one order through
// ROUTING -> BUILDING -> SUBMITTED -> CONFIRMED per delivery, writing the
// store and publishing an event at every transition.
type Execution struct {
	store    storage.OrderStore
	quotes   Quoter
	executor settlement.Executor
	events   bus.EventBus
	topic    string
	clock    util.Clock
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

// ExecutionConfig wires an Execution. Events, Clock, Logger and Metrics are
// optional.
type ExecutionConfig struct {
	Store    storage.OrderStore
	Quotes   Quoter
	Executor settlement.Executor
	Events   bus.EventBus
	// Topic defaults to order.TopicUpdates.
	Topic   string
	Clock   util.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Metrics
}

func NewExecution(cfg ExecutionConfig) *Execution {
	e := &Execution{
		store:    cfg.Store,
		quotes:   cfg.Quotes,
		executor: cfg.Executor,
		events:   cfg.Events,
		topic:    cfg.Topic,
		clock:    cfg.Clock,
		log:      util.OrNop(cfg.Logger),
		metrics:  cfg.Metrics,
	}
	if e.topic == "" {
		e.topic = order.TopicUpdates
	}
	if e.clock == nil {
		e.clock = util.RealClock{}
	}
	return e
}

// Handle runs one execution attempt. A nil return means the job is done
// (confirmed, already confirmed, or unknown order); any error asks the queue
// for a retry.
//
// Routing and building use the job's enqueue-time snapshot, not the stored
// order.
func (e *Execution) Handle(ctx context.Context, d queue.Delivery) error {
	id := d.Job.OrderID
	if d.Exhausted {
		return e.abandon(ctx, d)
	}

	o, err := e.store.Update(ctx, id, func(o *order.Order) error {
		return o.StartAttempt(e.clock.Now())
	})
	switch {
	case errors.Is(err, order.ErrAlreadyConfirmed):
		e.log.Infow("order_already_confirmed", "order_id", id, "job_id", d.ID)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		e.log.Warnw("order_missing", "order_id", id, "job_id", d.ID)
		return nil
	case err != nil:
		return fmt.Errorf("start attempt: %w", err)
	}
	e.announce(ctx, o)
	e.log.Infow("order_routing", "order_id", id, "attempt", o.Attempts, "delivery", d.Attempt)

	job := d.Job
	quote, err := e.quotes.BestQuote(ctx, job.AssetIn, job.AssetOut, job.Quantity)
	if err != nil {
		return e.fail(ctx, id, err)
	}

	if _, err = e.advance(ctx, id, order.StateBuilding); err != nil {
		return err
	}
	tx, err := e.executor.Build(ctx, settlement.Trade{
		OrderID:  id,
		AssetIn:  job.AssetIn,
		AssetOut: job.AssetOut,
		Quantity: job.Quantity,
		Attempt:  o.Attempts,
	}, quote)
	if err != nil {
		return e.fail(ctx, id, &StepError{Step: "build", Err: err})
	}

	if _, err = e.advance(ctx, id, order.StateSubmitted); err != nil {
		return err
	}
	ref, err := e.executor.Submit(ctx, tx)
	if err != nil {
		return e.fail(ctx, id, &StepError{Step: "submit", Err: err})
	}

	o, err = e.store.Update(ctx, id, func(o *order.Order) error {
		return o.Confirm(quote.Price, ref, quote.Source, e.clock.Now())
	})
	if err != nil {
		return fmt.Errorf("confirm: %w", err)
	}
	e.announce(ctx, o)
	e.log.Infow("order_confirmed", "order_id", id, "price", quote.Price.String(),
		"fee", quote.Fee.String(), "source", quote.Source, "settlement_ref", ref)
	return nil
}

// abandon fails an order whose final attempt was interrupted, without
// running it again.
func (e *Execution) abandon(ctx context.Context, d queue.Delivery) error {
	id := d.Job.OrderID
	o, err := e.store.Update(ctx, id, func(o *order.Order) error {
		if !o.Abandon(ErrInterrupted.Error(), e.clock.Now()) {
			return errUnchanged
		}
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged), errors.Is(err, storage.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("abandon: %w", err)
	}
	e.announce(ctx, o)
	e.log.Warnw("order_abandoned", "order_id", id, "job_id", d.ID, "attempts", d.Attempt)
	return nil
}

func (e *Execution) advance(ctx context.Context, id string, to order.State) (order.Order, error) {
	o, err := e.store.Update(ctx, id, func(o *order.Order) error {
		return o.Advance(to, e.clock.Now())
	})
	if err != nil {
		return o, fmt.Errorf("advance to %s: %w", to, err)
	}
	e.announce(ctx, o)
	return o, nil
}

// fail records cause on the order and returns it for the queue.
func (e *Execution) fail(ctx context.Context, id string, cause error) error {
	o, err := e.store.Update(ctx, id, func(o *order.Order) error {
		return o.Fail(cause.Error(), e.clock.Now())
	})
	if err != nil {
		e.log.Errorw("record_failure_failed", "order_id", id, "cause", cause, "err", err)
		return errors.Join(cause, err)
	}
	e.announce(ctx, o)
	e.log.Warnw("order_failed", "order_id", id, "attempt", o.Attempts, "reason", o.FailureReason)
	return cause
}

// announce publishes the order's current state. Delivery problems never
// fail the attempt.
func (e *Execution) announce(ctx context.Context, o order.Order) {
	e.metrics.Transition(o.State.String())
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, e.topic, o.Event(e.clock.Now())); err != nil {
		e.metrics.EventDropped("publish")
		e.log.Warnw("publish_failed", "order_id", o.ID, "state", o.State, "err", err)
	}
}
