package engine

import (
	"context"
	"slices"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/sparqlgen"
	"go.uber.org/multierr"
)

// bindJoinIterator pulls the left argument in batches and sends the right
// leaf once per batch with the join values inlined as a VALUES block. A
// batch holding a single value substitutes it into the patterns instead,
// when the result is still a valid pattern and no right filter needs it.
type bindJoinIterator struct {
	ctx     context.Context
	e       *Engine
	qc      *QueryContext
	left    iter.Iterator
	right   *fedsparql.AccessPlan
	joinVar string

	batch    map[string][]fedsparql.BindingSet
	bound    string
	probe    iter.Iterator
	pending  []fedsparql.BindingSet
	cur      fedsparql.BindingSet
	err      error
	leftDone bool
	done     bool
	closed   bool
}

func (e *Engine) bindJoin(ctx context.Context, qc *QueryContext, left fedsparql.Node, right *fedsparql.AccessPlan, joinVar string) (iter.Iterator, error) {
	if right.Sources.IsEmpty() {
		return iter.Empty(), nil
	}
	return &bindJoinIterator{
		ctx:     ctx,
		e:       e,
		qc:      qc,
		left:    e.argument(ctx, qc, left),
		right:   right,
		joinVar: joinVar,
	}, nil
}

// nextBatch reads up to BindJoinBatchSize left rows and opens the probe
// sub-queries. It reports false when the left argument is exhausted.
func (b *bindJoinIterator) nextBatch() (bool, error) {
	b.batch = make(map[string][]fedsparql.BindingSet)
	values := &sparqlgen.Values{Vars: []string{b.joinVar}}
	for n := 0; n < b.e.cfg.BindJoinBatchSize; n++ {
		if !b.left.Next() {
			b.leftDone = true
			if err := b.left.Err(); err != nil {
				return false, err
			}
			break
		}
		row := b.left.Binding()
		val, ok := row[b.joinVar]
		if !ok {
			continue
		}
		if val.IsBlank() {
			return false, blankJoinError(b.joinVar)
		}
		k := val.String()
		if _, seen := b.batch[k]; !seen {
			values.Rows = append(values.Rows, fedsparql.BindingSet{b.joinVar: val})
		}
		b.batch[k] = append(b.batch[k], row)
	}
	if len(values.Rows) == 0 {
		return !b.leftDone, nil
	}
	sources := b.qc.resolve(b.right, b.right.Sources)
	if sources.IsEmpty() {
		b.batch = nil
		return !b.leftDone, nil
	}

	b.bound = ""
	var query string
	if val := values.Rows[0][b.joinVar]; len(values.Rows) == 1 && b.substitutable(val) {
		b.bound = val.String()
		patterns := sparqlgen.SubstituteAll(b.right.Patterns, values.Rows[0])
		query = sparqlgen.Select(patterns, b.right.Filters, sparqlgen.ModifierNone, nil)
	} else {
		query = sparqlgen.Select(b.right.Patterns, b.right.Filters, sparqlgen.ModifierNone, values)
	}
	b.probe = b.e.union(b.ctx, b.qc, sources, query, b.qc.rowEstimate(b.right), true)
	return true, nil
}

// substitutable reports whether val can replace the join variable in the
// right patterns. Literals are only valid in object position.
func (b *bindJoinIterator) substitutable(val fedsparql.Term) bool {
	for _, f := range b.right.Filters {
		if slices.Contains(f.Vars, b.joinVar) {
			return false
		}
	}
	if val.Kind == fedsparql.TermKindIRI {
		return true
	}
	for _, p := range b.right.Patterns {
		if p.Subject == fedsparql.Var(b.joinVar) || p.Predicate == fedsparql.Var(b.joinVar) {
			return false
		}
	}
	return true
}

func (b *bindJoinIterator) Next() bool {
	if b.closed || b.done {
		return false
	}
	for {
		if len(b.pending) > 0 {
			b.cur, b.pending = b.pending[0], b.pending[1:]
			return true
		}
		if b.probe != nil {
			if b.probe.Next() {
				row := b.probe.Binding()
				key := b.bound
				if key == "" {
					val, ok := row[b.joinVar]
					if !ok {
						continue
					}
					key = val.String()
				}
				for _, l := range b.batch[key] {
					b.pending = append(b.pending, l.Merge(row))
				}
				continue
			}
			err := multierr.Combine(b.probe.Err(), b.probe.Close())
			b.probe = nil
			if err != nil {
				b.fail(err)
				return false
			}
		}
		if b.leftDone {
			b.done = true
			return false
		}
		more, err := b.nextBatch()
		if err != nil {
			b.fail(err)
			return false
		}
		if !more && b.probe == nil {
			b.done = true
			return false
		}
	}
}

func (b *bindJoinIterator) fail(err error) {
	b.err = err
	b.done = true
}

func (b *bindJoinIterator) Binding() fedsparql.BindingSet { return b.cur }
func (b *bindJoinIterator) Err() error                    { return b.err }

func (b *bindJoinIterator) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	b.batch, b.pending = nil, nil
	err := b.left.Close()
	if b.probe != nil {
		err = multierr.Append(err, b.probe.Close())
	}
	return err
}
