// Package engine evaluates optimized plan trees against the federation
// members.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/sparqlgen"
	"github.com/lychee-technology/fedsparql/internal/telemetry"
	"go.uber.org/zap"
)

// Remote issues SELECT sub-queries against one endpoint.
type Remote interface {
	Select(ctx context.Context, src fedsparql.Source, query string) (iter.Iterator, error)
}

// Engine evaluates plan trees. It is safe for concurrent use; per-query
// state lives in a QueryContext.
type Engine struct {
	cfg    fedsparql.EvaluationConfig
	remote Remote
	pool   *Pool
}

// New creates an engine whose sub-queries share one pool of
// cfg.WorkerPoolSize slots.
func New(cfg fedsparql.EvaluationConfig, remote Remote) (*Engine, error) {
	if remote == nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "engine requires a remote client")
	}
	if cfg.BindJoinBatchSize <= 0 {
		cfg.BindJoinBatchSize = 1
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = fedsparql.FailurePolicyAbort
	}
	return &Engine{cfg: cfg, remote: remote, pool: NewPool(cfg.WorkerPoolSize)}, nil
}

// Evaluate returns the solutions of an optimized query. The query modifier
// is pushed into the sub-query when the whole tree ships to one source set.
// DISTINCT is applied locally whenever rows of several sources are merged.
func (e *Engine) Evaluate(ctx context.Context, qc *QueryContext, q *fedsparql.Query) (iter.Iterator, error) {
	if q == nil || q.Where == nil {
		return iter.Empty(), nil
	}
	for _, ap := range fedsparql.AccessPlans(q.Where) {
		qc.RecordSources(ap.Patterns, ap.Sources)
	}

	start := time.Now()
	mod := sparqlgen.ModifierFor(q.Distinct, q.Reduced)
	var (
		it  iter.Iterator
		err error
	)
	if sources, ok := fedsparql.SharedSources(q.Where); ok {
		it, err = e.remoteSubtree(ctx, qc, q.Where, sources, mod)
		if err == nil && q.Distinct && sources.Len() > 1 {
			it = iter.Distinct(it, 0)
		}
	} else {
		it, err = e.evaluate(ctx, qc, q.Where)
		if err == nil && q.Distinct {
			it = iter.Distinct(it, 0)
		}
	}
	if err != nil {
		return nil, err
	}
	return &reportIterator{
		Iterator: iter.Observe(it, func(rows int64, err error) {
			ms := time.Since(start).Milliseconds()
			qc.SetTiming("evaluate", ms)
			qc.SetTiming("total", qc.Elapsed().Milliseconds())
			telemetry.EmitLatency(ctx, "evaluate", ms)
			zap.S().Debugw("query evaluated", "queryId", qc.ID, "rows", rows, "durationMs", ms, "error", err)
		}),
		qc: qc,
	}, nil
}

func (e *Engine) evaluate(ctx context.Context, qc *QueryContext, n fedsparql.Node) (iter.Iterator, error) {
	switch v := n.(type) {
	case nil:
		return iter.Empty(), nil
	case *fedsparql.BGP:
		return nil, fedsparql.NewInternalError(fedsparql.ErrCodeUnoptimizedBGP, "BGP reached evaluation without optimization")
	case *fedsparql.LeftJoin:
		zap.S().Warnw("OPTIONAL is not supported; evaluating required part only", "queryId", qc.ID)
		qc.Note("OPTIONAL branch with %d patterns not evaluated", len(fedsparql.Patterns(v.Right)))
		return e.evaluate(ctx, qc, v.Left)
	case *fedsparql.AccessPlan:
		return e.remoteSubtree(ctx, qc, v, v.Sources, sparqlgen.ModifierNone)
	case *fedsparql.Join:
		if sources, ok := fedsparql.SharedSources(v); ok {
			return e.remoteSubtree(ctx, qc, v, sources, sparqlgen.ModifierNone)
		}
		return e.localJoin(ctx, qc, v)
	default:
		return nil, fedsparql.NewInternalError(fedsparql.ErrCodeInternalError, fmt.Sprintf("unknown node type %T", n))
	}
}

// remoteSubtree ships every pattern and filter of n as one sub-query to each
// source and unions the answers.
func (e *Engine) remoteSubtree(ctx context.Context, qc *QueryContext, n fedsparql.Node, sources fedsparql.SourceSet, mod sparqlgen.Modifier) (iter.Iterator, error) {
	sources = qc.resolve(n, sources)
	if sources.IsEmpty() {
		return iter.Empty(), nil
	}
	query := sparqlgen.Select(fedsparql.Patterns(n), fedsparql.Filters(n), mod, nil)
	return e.union(ctx, qc, sources, query, qc.rowEstimate(n), mod == sparqlgen.ModifierNone), nil
}

// union sends query to every source and merges the streams. dedup enables
// the DistinctUnion setting for this union.
func (e *Engine) union(ctx context.Context, qc *QueryContext, sources fedsparql.SourceSet, query string, estimate float64, dedup bool) iter.Iterator {
	opens := make([]iter.Opener, 0, len(sources))
	for _, src := range sources {
		opens = append(opens, e.subquery(qc, src, query, estimate))
	}
	it := iter.Merge(ctx, e.cfg.StreamBufferSize, e.pool, opens...)
	if dedup && e.cfg.DistinctUnion && len(sources) > 1 {
		it = iter.Distinct(it, e.cfg.DistinctMemoryLimit)
	}
	return it
}

// subquery opens one remote request and records its outcome.
func (e *Engine) subquery(qc *QueryContext, src fedsparql.Source, query string, estimate float64) iter.Opener {
	return func(ctx context.Context) (iter.Iterator, error) {
		start := time.Now()
		record := func(rows int64, err error) {
			ms := time.Since(start).Milliseconds()
			r := fedsparql.SubqueryReport{
				Source:      src.Endpoint,
				Query:       query,
				RowEstimate: estimate,
				ActualRows:  rows,
				DurationMs:  ms,
			}
			if err != nil {
				r.Error = err.Error()
			}
			qc.addSubquery(r)
			telemetry.EmitLatency(ctx, "subquery", ms)
		}

		it, err := e.remote.Select(ctx, src, query)
		if err != nil {
			record(0, err)
			return e.sourceFailed(ctx, qc, src, err)
		}
		it = iter.Observe(it, record)
		if e.cfg.FailurePolicy == fedsparql.FailurePolicyDropSource {
			it = &tolerantIterator{Iterator: it, onError: func(err error) error {
				_, err = e.sourceFailed(ctx, qc, src, err)
				return err
			}}
		}
		return it, nil
	}
}

// sourceFailed applies the failure policy to an error of src. Only
// connectivity failures are dropped; anything else is a bug and propagates.
func (e *Engine) sourceFailed(ctx context.Context, qc *QueryContext, src fedsparql.Source, err error) (iter.Iterator, error) {
	kind := "unknown"
	if t, ok := fedsparql.ErrorTypeOf(err); ok {
		kind = string(t)
	}
	telemetry.EmitSourceFailure(ctx, src.Endpoint, kind)
	if e.cfg.FailurePolicy != fedsparql.FailurePolicyDropSource || !fedsparql.IsSourceUnreachable(err) {
		return nil, err
	}
	zap.S().Warnw("dropping failed source", "queryId", qc.ID, "source", src.Endpoint, "error", err)
	qc.DropSource(src)
	qc.Note("source %s dropped: %v", src.Endpoint, err)
	return iter.Empty(), nil
}

func (e *Engine) localJoin(ctx context.Context, qc *QueryContext, j *fedsparql.Join) (iter.Iterator, error) {
	shared := fedsparql.SharedVars(j.Left, j.Right)
	switch len(shared) {
	case 0:
		return nil, fedsparql.NewUnsupportedQueryShapeError(fedsparql.ErrCodeCrossProduct, "join arguments share no variable")
	case 1:
	default:
		return nil, fedsparql.NewUnsupportedQueryShapeError(fedsparql.ErrCodeMultiVariableJoin, "joins on more than one variable are not supported").
			WithDetail("vars", shared)
	}
	joinVar := shared[0]

	var (
		it  iter.Iterator
		err error
	)
	switch j.Algo {
	case fedsparql.JoinAlgoBind:
		right, ok := j.Right.(*fedsparql.AccessPlan)
		if !ok {
			return nil, fedsparql.NewInternalError(fedsparql.ErrCodeBindJoinUnsupported, "bind join right argument must be a leaf")
		}
		it, err = e.bindJoin(ctx, qc, j.Left, right, joinVar)
	default:
		it = e.hashJoin(ctx, qc, j, joinVar)
	}
	if err != nil {
		return nil, err
	}
	if len(j.Filters) > 0 {
		filters := j.Filters
		it = iter.Filter(it, func(row fedsparql.BindingSet) (bool, error) {
			for _, f := range filters {
				ok, err := f.Eval(row)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		})
	}
	return it, nil
}

// opener evaluates n when called.
func (e *Engine) opener(qc *QueryContext, n fedsparql.Node) iter.Opener {
	return func(ctx context.Context) (iter.Iterator, error) {
		return e.evaluate(ctx, qc, n)
	}
}

// argument returns an iterator over n. With eager arguments it is submitted
// to the pool right away; otherwise it is opened on first use.
func (e *Engine) argument(ctx context.Context, qc *QueryContext, n fedsparql.Node) iter.Iterator {
	if e.cfg.EagerJoinArguments {
		return iter.Async(ctx, e.pool, e.opener(qc, n))
	}
	return &lazyIterator{ctx: ctx, open: e.opener(qc, n)}
}

func blankJoinError(v string) error {
	return fedsparql.NewUnsupportedQueryShapeError(fedsparql.ErrCodeBlankNodeJoin, "join variable bound to a blank node").
		WithDetail("var", v)
}

// reportIterator exposes the query's execution report.
type reportIterator struct {
	iter.Iterator
	qc *QueryContext
}

func (r *reportIterator) Report() *fedsparql.ExecutionReport { return r.qc.Report() }

// tolerantIterator hands the stream error to onError, which returns nil for
// errors of a dropped source.
type tolerantIterator struct {
	iter.Iterator
	onError func(error) error
	handled bool
	err     error
}

func (t *tolerantIterator) Next() bool {
	if t.Iterator.Next() {
		return true
	}
	if err := t.Iterator.Err(); err != nil && !t.handled {
		t.handled = true
		t.err = t.onError(err)
	}
	return false
}

func (t *tolerantIterator) Err() error { return t.err }

// lazyIterator opens its stream on the first call to Next.
type lazyIterator struct {
	ctx    context.Context
	open   iter.Opener
	it     iter.Iterator
	err    error
	opened bool
	closed bool
}

func (l *lazyIterator) Next() bool {
	if l.closed {
		return false
	}
	if !l.opened {
		l.opened = true
		l.it, l.err = l.open(l.ctx)
	}
	if l.err != nil || l.it == nil {
		return false
	}
	return l.it.Next()
}

func (l *lazyIterator) Binding() fedsparql.BindingSet {
	if l.it == nil {
		return nil
	}
	return l.it.Binding()
}

func (l *lazyIterator) Err() error {
	if l.err != nil {
		return l.err
	}
	if l.it != nil {
		return l.it.Err()
	}
	return nil
}

func (l *lazyIterator) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	if l.it != nil {
		return l.it.Close()
	}
	return nil
}
