// Package optimizer replaces basic graph patterns with physical join plans.
//
// Two strategies share the same building blocks: a dynamic programming
// enumerator that keeps the cheapest plan per pattern set and arity, and a
// greedy heuristic that always extends the current plan with its cheapest
// connected leaf.
package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/estimator"
	"github.com/lychee-technology/fedsparql/internal/telemetry"
	"go.uber.org/zap"
)

// Mapper resolves candidate sources. *selector.Selector implements it.
type Mapper interface {
	MapSources(ctx context.Context, patterns []fedsparql.TriplePattern) ([]fedsparql.MappedPattern, error)
}

// Optimizer plans BGPs with the configured strategy.
type Optimizer struct {
	cfg        fedsparql.OptimizerConfig
	mapper     Mapper
	est        *estimator.Estimator
	logChoices bool
}

// Option customizes an Optimizer.
type Option func(*Optimizer)

// WithPlanLogging logs the retained plans of every enumeration stage.
func WithPlanLogging(on bool) Option {
	return func(o *Optimizer) { o.logChoices = on }
}

// New creates an optimizer.
func New(cfg fedsparql.OptimizerConfig, mapper Mapper, est *estimator.Estimator, opts ...Option) (*Optimizer, error) {
	switch cfg.Strategy {
	case fedsparql.OptimizerDynamicProgramming, fedsparql.OptimizerPatternHeuristic:
	default:
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, fmt.Sprintf("unknown optimizer strategy %q", cfg.Strategy))
	}
	if !cfg.UseHashJoin && !cfg.UseBindJoin {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "no join algorithm enabled")
	}
	if mapper == nil || est == nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "optimizer requires a source selector and an estimator")
	}
	o := &Optimizer{cfg: cfg, mapper: mapper, est: est}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Optimize rewrites every BGP of the tree in place. A BGP that cannot be
// planned keeps its original form; the errors of all failing BGPs are joined.
func (o *Optimizer) Optimize(ctx context.Context, q *fedsparql.Query) error {
	start := time.Now()
	where, err := fedsparql.Rewrite(q.Where, func(bgp *fedsparql.BGP) (fedsparql.Node, error) {
		return o.OptimizeBGP(ctx, bgp)
	})
	q.Where = where
	telemetry.EmitLatency(ctx, "optimize", time.Since(start).Milliseconds())
	return err
}

// OptimizeBGP plans a single BGP in a fresh estimation pass.
func (o *Optimizer) OptimizeBGP(ctx context.Context, bgp *fedsparql.BGP) (fedsparql.Node, error) {
	if len(bgp.Patterns) == 0 {
		return nil, fedsparql.NewUnsupportedQueryShapeError(fedsparql.ErrCodeCrossProduct, "empty basic graph pattern")
	}
	mapped, err := o.mapper.MapSources(ctx, bgp.Patterns)
	if err != nil {
		return nil, err
	}
	if missing := uncovered(bgp.Patterns, mapped); len(missing) > 0 {
		zap.S().Warnw("patterns without sources; BGP has no solutions", "patterns", len(missing), "first", missing[0].String())
		return &fedsparql.AccessPlan{Patterns: bgp.Patterns, Sources: fedsparql.SourceSet{}, Filters: bgp.Filters}, nil
	}
	return o.Plan(o.est.NewPass(ctx), mapped, bgp.Filters)
}

// Plan builds the physical plan of already mapped patterns.
func (o *Optimizer) Plan(pass *estimator.Pass, mapped []fedsparql.MappedPattern, filters []fedsparql.Filter) (fedsparql.Node, error) {
	b := newBuilder(o.cfg, pass, preCombine(mapped), filters)
	var best *plan
	var err error
	if o.cfg.Strategy == fedsparql.OptimizerPatternHeuristic {
		best, err = b.greedy()
	} else {
		best, err = b.enumerate(o.logChoices)
	}
	if err != nil {
		return nil, err
	}
	root := b.finish(best)
	if o.logChoices {
		zap.S().Infow("selected plan", "strategy", o.cfg.Strategy, "cost", pass.Cost(root),
			"cardinality", pass.Cardinality(root), "leaves", len(fedsparql.AccessPlans(root)))
	}
	return root, nil
}

// Estimator returns the estimator used for planning.
func (o *Optimizer) Estimator() *estimator.Estimator {
	return o.est
}

func uncovered(patterns []fedsparql.TriplePattern, mapped []fedsparql.MappedPattern) []fedsparql.TriplePattern {
	seen := make(map[fedsparql.TriplePattern]bool)
	for _, mp := range mapped {
		for _, p := range mp.Patterns {
			seen[p] = true
		}
	}
	var out []fedsparql.TriplePattern
	for _, p := range patterns {
		if !seen[p] {
			out = append(out, p)
		}
	}
	return out
}

// preCombine merges connected groups that are mapped to the same single
// source into one group, so they travel as one sub-query.
func preCombine(mapped []fedsparql.MappedPattern) []fedsparql.MappedPattern {
	var out []fedsparql.MappedPattern
	for _, mp := range mapped {
		merged := false
		if mp.Sources.Len() == 1 {
			for k := range out {
				if out[k].Sources.Equal(mp.Sources) && sharesAny(out[k].Vars(), mp.Vars()) {
					out[k].Patterns = append(append([]fedsparql.TriplePattern{}, out[k].Patterns...), mp.Patterns...)
					merged = true
					break
				}
			}
		}
		if !merged {
			out = append(out, fedsparql.MappedPattern{Patterns: mp.Patterns, Sources: mp.Sources})
		}
	}
	if len(out) == len(mapped) {
		return out
	}
	// A merge can connect groups that were disjoint before.
	return preCombine(out)
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
