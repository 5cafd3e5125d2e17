package optimizer

import (
	"sort"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/estimator"
)

// plan is a candidate sub-plan covering the groups in sig.
type plan struct {
	node    fedsparql.Node
	sig     bitset
	vars    []string
	applied bitset
	cost    float64
}

// builder holds the inputs shared by both enumeration strategies.
type builder struct {
	cfg     fedsparql.OptimizerConfig
	pass    *estimator.Pass
	groups  []fedsparql.MappedPattern
	filters []fedsparql.Filter
}

func newBuilder(cfg fedsparql.OptimizerConfig, pass *estimator.Pass, groups []fedsparql.MappedPattern, filters []fedsparql.Filter) *builder {
	return &builder{cfg: cfg, pass: pass, groups: groups, filters: filters}
}

// leaves returns one access plan per group, in group order.
func (b *builder) leaves() []*plan {
	out := make([]*plan, 0, len(b.groups))
	for i, g := range b.groups {
		vars := g.Vars()
		sort.Strings(vars)
		applied := newBitset(len(b.filters))
		var attached []fedsparql.Filter
		for k, f := range b.filters {
			if f.CoveredBy(vars) {
				applied = applied.set(k)
				attached = append(attached, f)
			}
		}
		ap := &fedsparql.AccessPlan{Patterns: g.Patterns, Sources: g.Sources, Filters: attached}
		out = append(out, &plan{
			node:    ap,
			sig:     newBitset(len(b.groups)).set(i),
			vars:    vars,
			applied: applied,
			cost:    b.pass.Cost(ap),
		})
	}
	return out
}

// joins returns the physical joins of left and right, or nil when the two
// overlap or share no variable.
func (b *builder) joins(left, right *plan) []*plan {
	if !left.sig.disjoint(right.sig) || !sharesAny(left.vars, right.vars) {
		return nil
	}
	vars := mergeVars(left.vars, right.vars)
	applied := left.applied.union(right.applied)
	var attached []fedsparql.Filter
	for k, f := range b.filters {
		if !applied.has(k) && f.CoveredBy(vars) {
			applied = applied.set(k)
			attached = append(attached, f)
		}
	}
	sig := left.sig.union(right.sig)
	mk := func(exec fedsparql.JoinExec, algo fedsparql.JoinAlgo) *plan {
		j := &fedsparql.Join{Left: left.node, Right: right.node, Exec: exec, Algo: algo, Filters: attached}
		return &plan{node: j, sig: sig, vars: vars, applied: applied, cost: b.pass.Cost(j)}
	}

	ls, lok := fedsparql.SharedSources(left.node)
	rs, rok := fedsparql.SharedSources(right.node)
	if lok && rok && ls.Equal(rs) {
		return []*plan{mk(fedsparql.JoinExecRemote, fedsparql.JoinAlgoHash)}
	}

	var out []*plan
	if b.cfg.UseHashJoin {
		out = append(out, mk(fedsparql.JoinExecLocal, fedsparql.JoinAlgoHash))
	}
	if _, leaf := right.node.(*fedsparql.AccessPlan); b.cfg.UseBindJoin && leaf {
		out = append(out, mk(fedsparql.JoinExecLocal, fedsparql.JoinAlgoBind))
	}
	return out
}

// finish attaches the filters no sub-plan could cover to the root.
func (b *builder) finish(p *plan) fedsparql.Node {
	var rest []fedsparql.Filter
	for k, f := range b.filters {
		if !p.applied.has(k) {
			rest = append(rest, f)
		}
	}
	if len(rest) == 0 {
		return p.node
	}
	switch n := p.node.(type) {
	case *fedsparql.AccessPlan:
		n.Filters = append(n.Filters, rest...)
	case *fedsparql.Join:
		n.Filters = append(n.Filters, rest...)
	}
	return p.node
}

func mergeVars(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, v := range b {
		if !containsString(a, v) {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
