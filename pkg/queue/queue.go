package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperflash/pkg/metrics"
	"github.com/uhyunpark/hyperflash/pkg/util"
)

var (
	ErrClosed     = errors.New("queue closed")
	ErrUnknownJob = errors.New("unknown job")
)

// Queue is a FIFO of execution jobs with per-job retry and exponential
// backoff. Every record is written to the backlog before the call that
// changed it returns; delivery is at least once.
type Queue struct {
	backlog Backlog
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	ready   []string
	records map[string]*Record
	seq     uint64

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	timers    sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

func WithClock(c util.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(q *Queue) { q.log = util.OrNop(l) }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// New creates a queue over backlog and redelivers whatever the backlog
// already holds. Records still inside a backoff window wait out the rest of
// it.
func New(backlog Backlog, opts ...Option) (*Queue, error) {
	if backlog == nil {
		backlog = NewMemoryBacklog()
	}
	q := &Queue{
		backlog: backlog,
		clock:   util.RealClock{},
		log:     zap.NewNop().Sugar(),
		records: make(map[string]*Record),
		notify:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	recs, err := backlog.Load()
	if err != nil {
		return nil, fmt.Errorf("load backlog: %w", err)
	}
	now := q.clock.Now()
	for i := range recs {
		rec := recs[i]
		q.records[rec.ID] = &rec
		if rec.Seq >= q.seq {
			q.seq = rec.Seq + 1
		}
		if wait := rec.NotBefore.Sub(now); !rec.NotBefore.IsZero() && wait > 0 {
			q.schedule(rec.ID, wait)
			continue
		}
		q.ready = append(q.ready, rec.ID)
	}
	if len(recs) > 0 {
		q.log.Infow("backlog_recovered", "jobs", len(recs), "ready", len(q.ready))
		q.signal()
	}
	q.metrics.SetQueueDepth(len(q.records))
	return q, nil
}

// Enqueue adds job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, job Job, policy RetryPolicy) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isClosed() {
		return "", ErrClosed
	}

	rec := &Record{ID: uuid.New().String(), Seq: q.seq, Job: job, Policy: policy}
	if err := q.backlog.Save(*rec); err != nil {
		return "", err
	}
	q.seq++
	q.records[rec.ID] = rec
	q.ready = append(q.ready, rec.ID)
	q.metrics.SetQueueDepth(len(q.records))
	q.signal()
	return rec.ID, nil
}

// Dequeue blocks until a job is ready, ctx is done or the queue is closed.
// The attempt is counted and persisted before the delivery is returned. A
// recovered job with no attempts left comes back Exhausted and uncounted.
func (q *Queue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		q.mu.Lock()
		if q.isClosed() {
			q.mu.Unlock()
			return Delivery{}, ErrClosed
		}
		if len(q.ready) > 0 {
			d, err := q.popLocked()
			q.mu.Unlock()
			return d, err
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Delivery{}, ctx.Err()
		case <-q.closed:
			return Delivery{}, ErrClosed
		}
	}
}

func (q *Queue) popLocked() (Delivery, error) {
	id := q.ready[0]
	q.ready = q.ready[1:]
	if len(q.ready) > 0 {
		q.signal()
	}

	rec := q.records[id]
	if rec.Attempts >= rec.Policy.Attempts {
		return Delivery{ID: id, Job: rec.Job, Attempt: rec.Attempts, Exhausted: true}, nil
	}
	next := *rec
	next.Attempts++
	next.NotBefore = time.Time{}
	if err := q.backlog.Save(next); err != nil {
		q.ready = append([]string{id}, q.ready...)
		return Delivery{}, err
	}
	*rec = next
	return Delivery{ID: id, Job: rec.Job, Attempt: rec.Attempts}, nil
}

// Ack removes a finished job.
func (q *Queue) Ack(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.records[id]; !ok {
		return ErrUnknownJob
	}
	if err := q.backlog.Delete(id); err != nil {
		return err
	}
	delete(q.records, id)
	q.metrics.SetQueueDepth(len(q.records))
	return nil
}

// Nack reports a failed attempt. When attempts remain the job is redelivered
// after the policy's backoff and retrying is true; otherwise it is dropped.
func (q *Queue) Nack(ctx context.Context, id string, cause error) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return false, ErrUnknownJob
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	if rec.Attempts >= rec.Policy.Attempts {
		if err := q.backlog.Delete(id); err != nil {
			return false, err
		}
		delete(q.records, id)
		q.metrics.SetQueueDepth(len(q.records))
		q.log.Warnw("job_exhausted", "job_id", id, "order_id", rec.Job.OrderID,
			"attempts", rec.Attempts, "last_error", reason)
		return false, nil
	}

	delay := rec.Policy.Delay(rec.Attempts)
	next := *rec
	next.NotBefore = q.clock.Now().Add(delay)
	next.LastError = reason
	if err := q.backlog.Save(next); err != nil {
		return false, err
	}
	*rec = next
	if q.isClosed() {
		// picked up again from the backlog on restart
		return true, nil
	}
	q.schedule(id, delay)
	q.log.Infow("job_retry_scheduled", "job_id", id, "order_id", rec.Job.OrderID,
		"attempt", rec.Attempts, "delay_ms", delay.Milliseconds())
	return true, nil
}

// Len returns the number of jobs held by the queue, including jobs in
// flight and jobs waiting out a backoff.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Close wakes every blocked Dequeue and stops backoff timers. Records stay
// in the backlog.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closeOnce.Do(func() { close(q.closed) })
	q.mu.Unlock()
	q.timers.Wait()
}

func (q *Queue) schedule(id string, delay time.Duration) {
	q.timers.Add(1)
	after := q.clock.After(delay)
	go func() {
		defer q.timers.Done()
		select {
		case <-after:
		case <-q.closed:
			return
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.records[id]; !ok {
			return
		}
		q.ready = append(q.ready, id)
		q.signal()
	}()
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}
