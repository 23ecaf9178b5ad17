package api

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultProcessingTimeout bounds asynchronous webhook processing.
const DefaultProcessingTimeout = 2 * time.Minute

// dispatcher runs webhook work after the response is written. The work context
// keeps request values but not the request's cancellation.
type dispatcher struct {
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
}

func newDispatcher(timeout time.Duration, logger *slog.Logger) *dispatcher {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	return &dispatcher{timeout: timeout, logger: logger}
}

func (d *dispatcher) dispatch(parent context.Context, name string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("webhook processing panicked", "job", name, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.logger.Error("webhook processing failed", "job", name, "error", err)
		}
	}()
}

// Wait blocks until every dispatched job has finished.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}
