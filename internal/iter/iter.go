// Package iter provides lazy, closable binding streams used by the
// evaluation engine and the remote client.
package iter

import (
	"context"
	"sync"

	"github.com/lychee-technology/fedsparql"
	"go.uber.org/zap"
)

// Iterator is the stream contract shared by every producer.
type Iterator = fedsparql.BindingIterator

// Opener lazily opens a stream; it runs on a scheduler for async dispatch.
type Opener func(ctx context.Context) (Iterator, error)

// sliceIterator iterates an in-memory slice.
type sliceIterator struct {
	rows []fedsparql.BindingSet
	pos  int
	cur  fedsparql.BindingSet
}

// FromSlice returns an iterator over rows.
func FromSlice(rows []fedsparql.BindingSet) Iterator {
	return &sliceIterator{rows: rows}
}

// Empty returns an iterator without rows.
func Empty() Iterator {
	return &sliceIterator{}
}

func (s *sliceIterator) Next() bool {
	if s.pos >= len(s.rows) {
		s.cur = nil
		return false
	}
	s.cur = s.rows[s.pos]
	s.pos++
	return true
}

func (s *sliceIterator) Binding() fedsparql.BindingSet { return s.cur }
func (s *sliceIterator) Err() error                    { return nil }

func (s *sliceIterator) Close() error {
	s.pos = len(s.rows)
	return nil
}

type errIterator struct{ err error }

// Error returns an iterator that yields no rows and reports err.
func Error(err error) Iterator { return &errIterator{err: err} }

func (e *errIterator) Next() bool                    { return false }
func (e *errIterator) Binding() fedsparql.BindingSet { return nil }
func (e *errIterator) Err() error                    { return e.err }
func (e *errIterator) Close() error                  { return nil }

// Collect drains and closes it.
func Collect(it Iterator) ([]fedsparql.BindingSet, error) {
	var rows []fedsparql.BindingSet
	for it.Next() {
		rows = append(rows, it.Binding())
	}
	err := it.Err()
	if cerr := it.Close(); err == nil {
		err = cerr
	}
	return rows, err
}

type filterIterator struct {
	src  Iterator
	pred func(fedsparql.BindingSet) (bool, error)
	cur  fedsparql.BindingSet
	err  error
}

// Filter keeps the rows for which pred returns true. An error from pred stops
// the stream.
func Filter(src Iterator, pred func(fedsparql.BindingSet) (bool, error)) Iterator {
	return &filterIterator{src: src, pred: pred}
}

func (f *filterIterator) Next() bool {
	if f.err != nil {
		return false
	}
	for f.src.Next() {
		row := f.src.Binding()
		ok, err := f.pred(row)
		if err != nil {
			f.err = err
			return false
		}
		if ok {
			f.cur = row
			return true
		}
	}
	return false
}

func (f *filterIterator) Binding() fedsparql.BindingSet { return f.cur }

func (f *filterIterator) Err() error {
	if f.err != nil {
		return f.err
	}
	return f.src.Err()
}

func (f *filterIterator) Close() error { return f.src.Close() }

type distinctIterator struct {
	src    Iterator
	seen   map[string]struct{}
	limit  int
	warned bool
	cur    fedsparql.BindingSet
}

// Distinct drops duplicate rows. Once limit keys are remembered new keys are
// no longer tracked, so the filter degrades to pass-through; limit <= 0 means
// unbounded.
func Distinct(src Iterator, limit int) Iterator {
	return &distinctIterator{src: src, seen: make(map[string]struct{}), limit: limit}
}

func (d *distinctIterator) Next() bool {
	for d.src.Next() {
		row := d.src.Binding()
		key := row.Key()
		if _, dup := d.seen[key]; dup {
			continue
		}
		if d.limit <= 0 || len(d.seen) < d.limit {
			d.seen[key] = struct{}{}
		} else if !d.warned {
			d.warned = true
			zap.S().Warnw("distinct memory limit reached; duplicates may pass", "limit", d.limit)
		}
		d.cur = row
		return true
	}
	return false
}

func (d *distinctIterator) Binding() fedsparql.BindingSet { return d.cur }
func (d *distinctIterator) Err() error                    { return d.src.Err() }

func (d *distinctIterator) Close() error {
	d.seen = nil
	return d.src.Close()
}

type observeIterator struct {
	src  Iterator
	fn   func(rows int64, err error)
	rows int64
	once sync.Once
}

// Observe calls fn exactly once, when src is exhausted or closed, with the
// number of rows seen and the stream error.
func Observe(src Iterator, fn func(rows int64, err error)) Iterator {
	return &observeIterator{src: src, fn: fn}
}

func (o *observeIterator) Next() bool {
	if o.src.Next() {
		o.rows++
		return true
	}
	o.once.Do(func() { o.fn(o.rows, o.src.Err()) })
	return false
}

func (o *observeIterator) Binding() fedsparql.BindingSet { return o.src.Binding() }
func (o *observeIterator) Err() error                    { return o.src.Err() }

func (o *observeIterator) Close() error {
	err := o.src.Close()
	o.once.Do(func() { o.fn(o.rows, err) })
	return err
}
