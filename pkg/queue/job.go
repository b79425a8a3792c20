package queue

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job is the unit of work handed to the execution pool: the order id plus a
// snapshot of the request taken at enqueue time.
type Job struct {
	OrderID  string          `json:"orderId"`
	AssetIn  string          `json:"assetIn"`
	AssetOut string          `json:"assetOut"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RetryPolicy bounds how often a job is attempted and how long the queue
// waits between attempts.
type RetryPolicy struct {
	Attempts int           `json:"attempts"`
	Backoff  time.Duration `json:"backoff"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: time.Second}
}

// Delay returns the wait before retry n (n >= 1): Backoff * 2^(n-1).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 1 || p.Backoff <= 0 {
		return 0
	}
	return p.Backoff << (n - 1)
}

// Delivery is a dequeued job. Attempt counts from 1.
//
// Exhausted marks a job whose last allowed attempt was in flight when the
// process stopped. It is handed out once more so the handler can record the
// outcome, but must not be executed again.
type Delivery struct {
	ID        string
	Job       Job
	Attempt   int
	Exhausted bool
}

// Record is the persisted state of one queued job.
type Record struct {
	ID        string      `json:"id"`
	Seq       uint64      `json:"seq"`
	Job       Job         `json:"job"`
	Policy    RetryPolicy `json:"policy"`
	Attempts  int         `json:"attempts"`
	NotBefore time.Time   `json:"notBefore"`
	LastError string      `json:"lastError,omitempty"`
}
