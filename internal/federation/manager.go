// Package federation assembles source selection, optimization and
// evaluation behind the fedsparql.Federation interface.
package federation

import (
	"context"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/engine"
	"github.com/lychee-technology/fedsparql/internal/optimizer"
	"github.com/lychee-technology/fedsparql/internal/selector"
	"go.uber.org/zap"
)

// Manager implements fedsparql.Federation.
type Manager struct {
	sources   fedsparql.SourceSet
	selector  *selector.Selector
	optimizer *optimizer.Optimizer
	engine    *engine.Engine
	report    bool
}

var _ fedsparql.Federation = (*Manager)(nil)

// New creates a manager over already constructed components.
func New(sources fedsparql.SourceSet, sel *selector.Selector, opt *optimizer.Optimizer, eng *engine.Engine, withReport bool) *Manager {
	return &Manager{
		sources:   sources,
		selector:  sel,
		optimizer: opt,
		engine:    eng,
		report:    withReport,
	}
}

func (m *Manager) Sources() fedsparql.SourceSet { return m.sources }

func (m *Manager) MapSources(ctx context.Context, patterns []fedsparql.TriplePattern) ([]fedsparql.MappedPattern, error) {
	return m.selector.MapSources(ctx, patterns)
}

func (m *Manager) Optimize(ctx context.Context, q *fedsparql.Query) error {
	if q == nil {
		return nil
	}
	return m.optimizer.Optimize(ctx, q)
}

func (m *Manager) Explain(ctx context.Context, q *fedsparql.Query) (string, error) {
	if q == nil || q.Where == nil {
		return "", nil
	}
	if hasBGP(q.Where) {
		if err := m.Optimize(ctx, q); err != nil {
			return "", err
		}
	}
	pass := m.optimizer.Estimator().NewPass(ctx)
	return optimizer.Explain(pass, q.Where), nil
}

func (m *Manager) Execute(ctx context.Context, q *fedsparql.Query) (fedsparql.BindingIterator, error) {
	qc := engine.NewQueryContext(m.report)
	if q == nil {
		q = &fedsparql.Query{}
	}
	if q.Where != nil && hasBGP(q.Where) {
		start := time.Now()
		if err := m.Optimize(ctx, q); err != nil {
			if requiresBGP(q.Where) {
				zap.S().Warnw("query optimization failed", "queryId", qc.ID, "error", err)
				return nil, err
			}
			zap.S().Warnw("optimization failed in an optional branch", "queryId", qc.ID, "error", err)
			qc.Note("optional branch not optimized: %v", err)
		}
		qc.SetTiming("optimize", time.Since(start).Milliseconds())
	}

	pass := m.optimizer.Estimator().NewPass(ctx)
	qc.SetEstimate(pass.Cardinality)
	zap.S().Debugw("executing query", "queryId", qc.ID, "leaves", len(fedsparql.AccessPlans(q.Where)))
	return m.engine.Evaluate(ctx, qc, q)
}

// hasBGP reports whether the tree still contains unoptimized blocks.
func hasBGP(n fedsparql.Node) bool {
	switch v := n.(type) {
	case *fedsparql.BGP:
		return true
	case *fedsparql.Join:
		return hasBGP(v.Left) || hasBGP(v.Right)
	case *fedsparql.LeftJoin:
		return hasBGP(v.Left) || hasBGP(v.Right)
	default:
		return false
	}
}

// requiresBGP reports whether an unoptimized block is on the evaluated path.
// The optional side of a LeftJoin is never evaluated.
func requiresBGP(n fedsparql.Node) bool {
	switch v := n.(type) {
	case *fedsparql.BGP:
		return true
	case *fedsparql.Join:
		return requiresBGP(v.Left) || requiresBGP(v.Right)
	case *fedsparql.LeftJoin:
		return requiresBGP(v.Left)
	default:
		return false
	}
}
