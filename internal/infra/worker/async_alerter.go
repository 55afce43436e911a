package worker

import (
	"context"
	"time"

	"aicode-billing/internal/domain/ports/adapter"
)

var _ adapter.Alerter = (*AsyncAlerter)(nil)

// AsyncAlerter hands alerts to the pool so a slow chat API never holds up a
// webhook response.
type AsyncAlerter struct {
	next    adapter.Alerter
	pool    *Pool
	timeout time.Duration
}

func NewAsyncAlerter(next adapter.Alerter, pool *Pool, timeout time.Duration) *AsyncAlerter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AsyncAlerter{next: next, pool: pool, timeout: timeout}
}

// Alert only reports a submission failure; delivery errors are logged by the pool.
func (a *AsyncAlerter) Alert(_ context.Context, text string) error {
	return a.pool.Submit(func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		return a.next.Alert(ctx, text)
	})
}
