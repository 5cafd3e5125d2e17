package iter

import (
	"context"
	"errors"

	"github.com/lychee-technology/fedsparql"
)

// Scheduler runs tasks, possibly bounded. Go must eventually run every
// submitted task even when the caller's context is already canceled, since
// futures wait on task completion.
type Scheduler interface {
	Go(task func())
}

type goScheduler struct{}

func (goScheduler) Go(task func()) { go task() }

// future is an iterator over the result of an Opener running on a
// scheduler. The first Next blocks until the opener returns.
type future struct {
	cancel context.CancelFunc
	done   chan struct{}
	it     Iterator
	err    error
	closed bool
}

// Async submits open to sched and returns an iterator over its stream.
// Closing the iterator cancels the opener's context, which aborts an
// in-flight request. A nil sched runs the opener on its own goroutine.
func Async(ctx context.Context, sched Scheduler, open Opener) Iterator {
	if sched == nil {
		sched = goScheduler{}
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &future{cancel: cancel, done: make(chan struct{})}
	sched.Go(func() {
		defer close(f.done)
		if err := ctx.Err(); err != nil {
			f.err = err
			return
		}
		f.it, f.err = open(ctx)
	})
	return f
}

func (f *future) Next() bool {
	if f.closed {
		return false
	}
	<-f.done
	if f.err != nil || f.it == nil {
		return false
	}
	return f.it.Next()
}

func (f *future) Binding() fedsparql.BindingSet {
	if f.it == nil {
		return nil
	}
	return f.it.Binding()
}

func (f *future) Err() error {
	select {
	case <-f.done:
	default:
		return nil
	}
	err := f.err
	if err == nil && f.it != nil {
		err = f.it.Err()
	}
	if f.closed && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (f *future) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.cancel()
	<-f.done
	if f.it != nil {
		return f.it.Close()
	}
	return nil
}
