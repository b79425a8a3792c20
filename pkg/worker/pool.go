package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/queue"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

const DefaultConcurrency = 10

// dequeueRetryDelay paces the dispatcher after an unexpected dequeue error.
var dequeueRetryDelay = 200 * time.Millisecond

// Handler executes one delivery. A nil error acks the job.
type Handler interface {
	Handle(ctx context.Context, d queue.Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d queue.Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, d queue.Delivery) error { return f(ctx, d) }

// Source is the queue side the pool consumes.
type Source interface {
	Dequeue(ctx context.Context) (queue.Delivery, error)
	Ack(ctx context.Context, id string) error
	Nack(ctx context.Context, id string, cause error) (bool, error)
}

// Pool runs at most Concurrency handlers at once. A slot is taken before a
// job is dequeued, so jobs beyond the limit stay in the queue.
type Pool struct {
	src         Source
	handler     Handler
	concurrency int
	sem         *semaphore.Weighted
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics

	wg sync.WaitGroup
}

// NewPool returns a pool over src. A non-positive concurrency means
// DefaultConcurrency.
func NewPool(src Source, h Handler, concurrency int, logger *zap.SugaredLogger, m *metrics.Metrics) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{
		src:         src,
		handler:     h,
		concurrency: concurrency,
		sem:         semaphore.NewWeighted(int64(concurrency)),
		log:         util.OrNop(logger),
		metrics:     m,
	}
}

func (p *Pool) Concurrency() int { return p.concurrency }

// Run dispatches jobs until ctx is done or the source is closed, then waits
// for the jobs already dequeued. Those run on a context that is not
// cancelled with ctx.
func (p *Pool) Run(ctx context.Context) error {
	defer p.wg.Wait()
	jobCtx := context.WithoutCancel(ctx)

	p.log.Infow("worker_pool_started", "concurrency", p.concurrency)
	for {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		d, err := p.src.Dequeue(ctx)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				p.log.Infow("worker_pool_stopping", "reason", err)
				return nil
			}
			p.log.Errorw("dequeue_failed", "err", err)
			select {
			case <-time.After(dequeueRetryDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		p.wg.Add(1)
		go p.process(jobCtx, d)
	}
}

func (p *Pool) process(ctx context.Context, d queue.Delivery) {
	defer p.wg.Done()
	defer p.sem.Release(1)

	p.metrics.JobStarted()
	err := p.handler.Handle(ctx, d)
	if err == nil {
		if err := p.src.Ack(ctx, d.ID); err != nil {
			p.log.Errorw("ack_failed", "job_id", d.ID, "order_id", d.Job.OrderID, "err", err)
		}
		p.metrics.JobFinished("ok")
		return
	}

	retrying, nerr := p.src.Nack(ctx, d.ID, err)
	if nerr != nil {
		p.log.Errorw("nack_failed", "job_id", d.ID, "order_id", d.Job.OrderID, "err", nerr)
	}
	if retrying {
		p.metrics.JobFinished("retry")
		return
	}
	p.metrics.JobFinished("failed")
	p.log.Warnw("job_failed", "job_id", d.ID, "order_id", d.Job.OrderID, "attempt", d.Attempt, "err", err)
}
