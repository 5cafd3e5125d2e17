// Package estimator computes cardinality estimates and costs of plan nodes.
//
// Estimates are memoized in a Pass, which lives for one optimization or
// evaluation call and is discarded afterwards.
package estimator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/sparqlgen"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"go.uber.org/zap"
)

// Counter runs COUNT queries. *remote.Client implements it.
type Counter interface {
	Count(ctx context.Context, src fedsparql.Source, query, countVar string) (int64, error)
}

// Fallback statistics used when no index is loaded.
const (
	defaultSize     = 10000
	defaultDistinct = 100
	defaultFanout   = 10
)

// Bound position bits.
const (
	boundS = 1 << iota
	boundP
	boundO
)

// Estimator holds the immutable estimation inputs shared by every pass.
type Estimator struct {
	strategy fedsparql.EstimatorStrategy
	formula  fedsparql.EstimatorFormula
	cost     fedsparql.CostConfig
	index    *voidstats.Index
	counter  Counter
}

// New creates an estimator. idx may be nil, in which case fixed fallback
// statistics are used. TRUE_COUNT requires counter.
func New(cfg fedsparql.EstimatorConfig, cost fedsparql.CostConfig, idx *voidstats.Index, counter Counter) (*Estimator, error) {
	switch cfg.Strategy {
	case fedsparql.EstimatorStatistics:
	case fedsparql.EstimatorTrueCount:
		if counter == nil {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "TRUE_COUNT estimator requires a remote client")
		}
	default:
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, fmt.Sprintf("unknown estimator strategy %q", cfg.Strategy))
	}
	formula := cfg.Formula
	if formula == "" {
		formula = fedsparql.FormulaSPLENDID
	}
	if idx == nil {
		zap.S().Warnw("no statistics loaded; cardinality estimates use fixed defaults")
	}
	return &Estimator{strategy: cfg.Strategy, formula: formula, cost: cost, index: idx, counter: counter}, nil
}

// Pass memoizes estimates keyed by node identity.
type Pass struct {
	est    *Estimator
	ctx    context.Context
	card   map[fedsparql.Node]float64
	cost   map[fedsparql.Node]float64
	counts map[string]float64
}

// NewPass starts a fresh estimation pass. ctx bounds COUNT requests of the
// TRUE_COUNT strategy.
func (e *Estimator) NewPass(ctx context.Context) *Pass {
	return &Pass{
		est:    e,
		ctx:    ctx,
		card:   make(map[fedsparql.Node]float64),
		cost:   make(map[fedsparql.Node]float64),
		counts: make(map[string]float64),
	}
}

// Cardinality estimates the number of solutions of n.
func (p *Pass) Cardinality(n fedsparql.Node) float64 {
	if c, ok := p.card[n]; ok {
		return c
	}
	var c float64
	switch v := n.(type) {
	case *fedsparql.AccessPlan:
		c = p.leafCardinality(v)
	case *fedsparql.Join:
		c = p.joinSelectivity(v.Left, v.Right) * p.Cardinality(v.Left) * p.Cardinality(v.Right)
	case *fedsparql.LeftJoin:
		c = p.Cardinality(v.Left)
	case *fedsparql.BGP:
		c = p.patternsCardinality(v.Patterns, p.allSources())
	}
	p.card[n] = c
	return c
}

func (p *Pass) leafCardinality(ap *fedsparql.AccessPlan) float64 {
	if p.est.strategy == fedsparql.EstimatorTrueCount {
		if c, ok := p.trueCount(ap); ok {
			return c
		}
	}
	return p.patternsCardinality(ap.Patterns, ap.Sources)
}

// trueCount asks every source of the leaf for its exact solution count.
func (p *Pass) trueCount(ap *fedsparql.AccessPlan) (float64, bool) {
	query := sparqlgen.Count(ap.Patterns, ap.Filters)
	var total float64
	for _, src := range ap.Sources {
		key := src.Endpoint + "\n" + query
		if c, ok := p.counts[key]; ok {
			total += c
			continue
		}
		n, err := p.est.counter.Count(p.ctx, src, query, sparqlgen.CountVar)
		if err != nil {
			zap.S().Warnw("COUNT failed; falling back to statistics", "source", src.Endpoint, "error", err)
			return 0, false
		}
		p.counts[key] = float64(n)
		total += float64(n)
	}
	return total, true
}

// patternsCardinality folds the join formula over patterns evaluated on the
// same source set.
func (p *Pass) patternsCardinality(patterns []fedsparql.TriplePattern, sources fedsparql.SourceSet) float64 {
	if len(patterns) == 0 {
		return 0
	}
	card := p.patternCardinality(patterns[0], sources)
	for i := 1; i < len(patterns); i++ {
		next := patterns[i]
		nc := p.patternCardinality(next, sources)
		sel := 1.0
		if shared := sharedVars(patterns[:i], next); len(shared) > 0 {
			v := shared[0]
			dl := math.Min(p.distinctIn(patterns[:i], v, sources), math.Max(1, card))
			dr := math.Min(p.distinctIn([]fedsparql.TriplePattern{next}, v, sources), math.Max(1, nc))
			sel = 1 / math.Max(math.Max(dl, dr), 1)
		}
		card = sel * card * nc
	}
	return card
}

func (p *Pass) patternCardinality(tp fedsparql.TriplePattern, sources fedsparql.SourceSet) float64 {
	var sum float64
	for _, src := range sources {
		sum += p.sourceEstimate(src, tp, boundMask(tp), make(map[int]float64))
	}
	return sum
}

// sourceEstimate clamps the raw formula so that binding another position
// never increases the estimate.
func (p *Pass) sourceEstimate(src fedsparql.Source, tp fedsparql.TriplePattern, mask int, memo map[int]float64) float64 {
	if v, ok := memo[mask]; ok {
		return v
	}
	est := p.raw(src, tp, mask)
	for _, bit := range []int{boundS, boundP, boundO} {
		if mask&bit != 0 {
			est = math.Min(est, p.sourceEstimate(src, tp, mask&^bit, memo))
		}
	}
	memo[mask] = est
	return est
}

func boundMask(tp fedsparql.TriplePattern) int {
	mask := 0
	if tp.Subject.IsBound() {
		mask |= boundS
	}
	if tp.Predicate.IsBound() {
		mask |= boundP
	}
	if tp.Object.IsBound() {
		mask |= boundO
	}
	return mask
}

// raw is the per-source formula for the positions in mask.
func (p *Pass) raw(src fedsparql.Source, tp fedsparql.TriplePattern, mask int) float64 {
	idx := p.est.index
	if idx == nil {
		return fallbackEstimate(mask)
	}
	size := float64(idx.Size(src))
	if p.est.formula == fedsparql.FormulaAverage {
		return p.average(src, tp, mask, size)
	}

	if mask&boundP == 0 {
		ds := atLeastOne(idx.DistinctSubjects(src))
		do := atLeastOne(idx.DistinctObjects(src))
		switch mask {
		case boundS | boundO:
			return size / (ds * do)
		case boundS:
			return size / ds
		case boundO:
			return size / do
		default:
			return size
		}
	}

	pred := tp.Predicate.Value
	if tp.Predicate.Kind == fedsparql.TermKindIRI && pred == fedsparql.RDFType && mask&boundO != 0 && tp.Object.Kind == fedsparql.TermKindIRI {
		typeCard := float64(idx.TypeCard(src, tp.Object.Value))
		if mask&boundS != 0 {
			return math.Min(typeCard, 1)
		}
		return typeCard
	}

	card := float64(idx.PredicateCard(src, pred))
	switch mask {
	case boundS | boundP | boundO:
		return math.Min(card, 1)
	case boundP | boundO:
		return card / atLeastOne(idx.DistinctObjectsFor(src, pred))
	case boundS | boundP:
		return card / atLeastOne(idx.DistinctSubjectsFor(src, pred))
	default:
		return card
	}
}

// average scales the predicate or dataset size by uniform dataset-level
// selectivities of the bound subject and object.
func (p *Pass) average(src fedsparql.Source, tp fedsparql.TriplePattern, mask int, size float64) float64 {
	idx := p.est.index
	base := size
	if mask&boundP != 0 {
		base = float64(idx.PredicateCard(src, tp.Predicate.Value))
	}
	if mask&boundS != 0 {
		base /= atLeastOne(idx.DistinctSubjects(src))
	}
	if mask&boundO != 0 {
		base /= atLeastOne(idx.DistinctObjects(src))
	}
	return base
}

func fallbackEstimate(mask int) float64 {
	est := float64(defaultSize)
	for _, bit := range []int{boundS, boundP, boundO} {
		if mask&bit != 0 {
			est /= defaultFanout
		}
	}
	return est
}

// joinSelectivity is 1/max(dL, dR) over the lexicographically first shared
// variable, or 1 without a shared variable. Using a single variable is a
// known approximation for joins over several shared variables.
func (p *Pass) joinSelectivity(left, right fedsparql.Node) float64 {
	shared := fedsparql.SharedVars(left, right)
	if len(shared) == 0 {
		return 1
	}
	v := shared[0]
	dl := math.Min(p.distinctValues(left, v), math.Max(1, p.Cardinality(left)))
	dr := math.Min(p.distinctValues(right, v), math.Max(1, p.Cardinality(right)))
	return 1 / math.Max(math.Max(dl, dr), 1)
}

// distinctValues estimates the distinct values of variable v in n as the
// smallest estimate of any leaf pattern binding v.
func (p *Pass) distinctValues(n fedsparql.Node, v string) float64 {
	best := math.Inf(1)
	for _, ap := range fedsparql.AccessPlans(n) {
		if d := p.distinctIn(ap.Patterns, v, ap.Sources); d < best {
			best = d
		}
	}
	if bgp, ok := n.(*fedsparql.BGP); ok {
		best = p.distinctIn(bgp.Patterns, v, p.allSources())
	}
	if math.IsInf(best, 1) {
		return 1
	}
	return best
}

func (p *Pass) distinctIn(patterns []fedsparql.TriplePattern, v string, sources fedsparql.SourceSet) float64 {
	best := math.Inf(1)
	for _, tp := range patterns {
		if !tp.HasVar(v) {
			continue
		}
		var d float64
		for _, src := range sources {
			d += p.patternDistinct(src, tp, v)
		}
		if d < best {
			best = d
		}
	}
	if math.IsInf(best, 1) {
		return 1
	}
	return math.Max(best, 1)
}

// patternDistinct is the number of distinct values v takes in tp on src.
func (p *Pass) patternDistinct(src fedsparql.Source, tp fedsparql.TriplePattern, v string) float64 {
	idx := p.est.index
	if idx == nil {
		return defaultDistinct
	}
	perPredicate := p.est.formula == fedsparql.FormulaSPLENDID && tp.Predicate.Kind == fedsparql.TermKindIRI
	switch {
	case tp.Subject.IsVariable() && tp.Subject.Value == v:
		if perPredicate {
			if d := idx.DistinctSubjectsFor(src, tp.Predicate.Value); d > 0 {
				return float64(d)
			}
		}
		return atLeastOne(idx.DistinctSubjects(src))
	case tp.Object.IsVariable() && tp.Object.Value == v:
		if perPredicate {
			if d := idx.DistinctObjectsFor(src, tp.Predicate.Value); d > 0 {
				return float64(d)
			}
		}
		return atLeastOne(idx.DistinctObjects(src))
	default:
		return atLeastOne(idx.DistinctPredicates(src))
	}
}

func (p *Pass) allSources() fedsparql.SourceSet {
	if p.est.index == nil {
		return fedsparql.SourceSet{{}}
	}
	return p.est.index.Sources()
}

func atLeastOne(n int64) float64 {
	if n < 1 {
		return 1
	}
	return float64(n)
}

func sharedVars(left []fedsparql.TriplePattern, right fedsparql.TriplePattern) []string {
	var out []string
	for _, v := range right.Vars() {
		for _, l := range left {
			if l.HasVar(v) {
				out = append(out, v)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
