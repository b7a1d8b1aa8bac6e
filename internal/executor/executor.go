// Package executor bounds how many blocking vendor calls run at once.
package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/daemonp/visonic2mqtt/internal/metrics"
)

type Pool struct {
	sem *semaphore.Weighted
}

func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Do runs fn once a slot is free. ctx only bounds the wait for a slot;
// once fn has started it runs to completion.
func (p *Pool) Do(ctx context.Context, op string, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for worker: %w", op, err)
	}
	defer p.sem.Release(1)

	metrics.VendorRequests.WithLabelValues(op).Inc()
	if err := fn(); err != nil {
		metrics.VendorErrors.WithLabelValues(op).Inc()
		return err
	}
	return nil
}

// Call is Do for functions that produce a value.
func Call[T any](ctx context.Context, p *Pool, op string, fn func() (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, op, func() error {
		var err error
		result, err = fn()
		return err
	})
	return result, err
}
