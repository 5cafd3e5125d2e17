package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of concurrently opening sub-queries. It is shared by
// every query evaluated by an Engine.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool with size slots; size <= 0 means one slot.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// Go runs task once a slot is free. Tasks always run, even for canceled
// queries, so that futures waiting on them complete; a task observes
// cancellation through its own context.
func (p *Pool) Go(task func()) {
	go func() {
		_ = p.sem.Acquire(context.Background(), 1)
		defer p.sem.Release(1)
		task()
	}()
}
