package engine

import (
	"context"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"go.uber.org/multierr"
)

// hashJoinIterator builds a table over the left argument and probes it with
// the rows of the right argument. Nothing is read before the first Next.
type hashJoinIterator struct {
	left, right iter.Iterator
	joinVar     string

	table   map[string][]fedsparql.BindingSet
	built   bool
	pending []fedsparql.BindingSet
	cur     fedsparql.BindingSet
	err     error
	done    bool
	closed  bool
}

func (e *Engine) hashJoin(ctx context.Context, qc *QueryContext, j *fedsparql.Join, joinVar string) iter.Iterator {
	return &hashJoinIterator{
		left:    e.argument(ctx, qc, j.Left),
		right:   e.argument(ctx, qc, j.Right),
		joinVar: joinVar,
	}
}

func (h *hashJoinIterator) build() error {
	h.table = make(map[string][]fedsparql.BindingSet)
	for h.left.Next() {
		row := h.left.Binding()
		val, ok := row[h.joinVar]
		if !ok {
			continue
		}
		if val.IsBlank() {
			return blankJoinError(h.joinVar)
		}
		k := val.String()
		h.table[k] = append(h.table[k], row)
	}
	return h.left.Err()
}

func (h *hashJoinIterator) Next() bool {
	if h.closed || h.done {
		return false
	}
	if !h.built {
		h.built = true
		if err := h.build(); err != nil {
			h.fail(err)
			return false
		}
		if len(h.table) == 0 {
			h.done = true
			return false
		}
	}
	for {
		if len(h.pending) > 0 {
			h.cur, h.pending = h.pending[0], h.pending[1:]
			return true
		}
		if !h.right.Next() {
			h.err = h.right.Err()
			h.done = true
			return false
		}
		row := h.right.Binding()
		val, ok := row[h.joinVar]
		if !ok {
			continue
		}
		if val.IsBlank() {
			h.fail(blankJoinError(h.joinVar))
			return false
		}
		for _, l := range h.table[val.String()] {
			h.pending = append(h.pending, l.Merge(row))
		}
	}
}

func (h *hashJoinIterator) fail(err error) {
	h.err = err
	h.done = true
}

func (h *hashJoinIterator) Binding() fedsparql.BindingSet { return h.cur }
func (h *hashJoinIterator) Err() error                    { return h.err }

func (h *hashJoinIterator) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	h.table, h.pending = nil, nil
	return multierr.Combine(h.left.Close(), h.right.Close())
}
