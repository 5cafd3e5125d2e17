package iter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lychee-technology/fedsparql"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Producer pushes rows through emit until done. emit returns false once the
// consumer has gone away; the producer must then return promptly.
type Producer func(ctx context.Context, emit func(fedsparql.BindingSet) bool) error

// Stream is a channel backed iterator fed by a producer goroutine.
type Stream struct {
	ch     chan fedsparql.BindingSet
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	cur    fedsparql.BindingSet
	closed atomic.Bool
	once   sync.Once
}

// NewStream starts produce in a new goroutine. buffer is the channel
// capacity between producer and consumer.
func NewStream(ctx context.Context, buffer int, produce Producer) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan fedsparql.BindingSet, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		emit := func(row fedsparql.BindingSet) bool {
			select {
			case s.ch <- row:
				return true
			case <-ctx.Done():
				return false
			}
		}
		s.err = produce(ctx, emit)
	}()
	return s
}

func (s *Stream) Next() bool {
	if s.closed.Load() {
		return false
	}
	row, ok := <-s.ch
	if !ok {
		<-s.done
		s.cur = nil
		return false
	}
	s.cur = row
	return true
}

func (s *Stream) Binding() fedsparql.BindingSet { return s.cur }

func (s *Stream) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	if s.closed.Load() && errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}

// Close cancels the producer and waits for it to exit.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		for range s.ch {
		}
		<-s.done
	})
	return nil
}

// Merge unions the streams of opens, pulling them in parallel. Each opener
// runs through sched; the streams themselves are then drained outside the
// scheduler. The first error cancels and closes every other branch.
func Merge(ctx context.Context, buffer int, sched Scheduler, opens ...Opener) Iterator {
	switch len(opens) {
	case 0:
		return Empty()
	case 1:
		return Async(ctx, sched, opens[0])
	}
	return NewStream(ctx, buffer, func(ctx context.Context, emit func(fedsparql.BindingSet) bool) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, open := range opens {
			g.Go(func() (err error) {
				it := Async(gctx, sched, open)
				defer multierr.AppendInvoke(&err, multierr.Close(it))
				for it.Next() {
					if !emit(it.Binding()) {
						return nil
					}
				}
				return it.Err()
			})
		}
		return g.Wait()
	})
}
