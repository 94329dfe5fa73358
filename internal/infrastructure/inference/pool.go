package inference

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool bounds concurrent CPU-heavy model calls. A call abandoned by its caller keeps its slot
// until the model returns; the late result is dropped.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

func (p *Pool) Size() int {
	return int(p.size)
}

// Run executes fn on a pool slot and returns early if ctx is done.
func Run[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("acquire inference slot: %w", err)
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}
