package selector

import (
	"github.com/lychee-technology/fedsparql"
)

// groupBySameAs copies each "?x owl:sameAs o" pattern into every other group
// that already mentions ?x and whose sources cover the sameAs sources. A
// sameAs pattern with no such group stays on its own.
func groupBySameAs(mapped []fedsparql.MappedPattern) []fedsparql.MappedPattern {
	candidate := func(mp fedsparql.MappedPattern) bool {
		return len(mp.Patterns) == 1 && mp.Patterns[0].IsSameAsPattern() && mp.Patterns[0].Subject.IsVariable()
	}

	absorbed := make([]bool, len(mapped))
	for i, sa := range mapped {
		if !candidate(sa) {
			continue
		}
		pattern := sa.Patterns[0]
		subject := pattern.Subject.Value
		var targets []int
		for j, mp := range mapped {
			if j == i || absorbed[j] || candidate(mp) {
				continue
			}
			if containsVar(mp.Vars(), subject) && mp.Sources.IsSupersetOf(sa.Sources) {
				targets = append(targets, j)
			}
		}
		if len(targets) == 0 {
			continue
		}
		for _, j := range targets {
			mapped[j].Patterns = appendUnique(mapped[j].Patterns, pattern)
		}
		absorbed[i] = true
	}

	out := make([]fedsparql.MappedPattern, 0, len(mapped))
	for i, mp := range mapped {
		if !absorbed[i] {
			out = append(out, mp)
		}
	}
	return out
}

// groupBySource merges groups with identical source sets. Only groups
// connected through shared variables are merged, so every merged group is
// still answerable without a cross product.
func groupBySource(mapped []fedsparql.MappedPattern) []fedsparql.MappedPattern {
	parent := make([]int, len(mapped))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// The lower index stays root so output keeps first-appearance order.
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for i := range mapped {
		for j := i + 1; j < len(mapped); j++ {
			if !mapped[i].Sources.Equal(mapped[j].Sources) {
				continue
			}
			if sharesVar(mapped[i].Vars(), mapped[j].Vars()) {
				union(i, j)
			}
		}
	}

	var out []fedsparql.MappedPattern
	slot := make(map[int]int)
	for i, mp := range mapped {
		root := find(i)
		k, ok := slot[root]
		if !ok {
			slot[root] = len(out)
			out = append(out, fedsparql.MappedPattern{Sources: mp.Sources})
			k = len(out) - 1
		}
		for _, p := range mp.Patterns {
			out[k].Patterns = appendUnique(out[k].Patterns, p)
		}
	}
	return out
}

func appendUnique(patterns []fedsparql.TriplePattern, p fedsparql.TriplePattern) []fedsparql.TriplePattern {
	for _, q := range patterns {
		if q == p {
			return patterns
		}
	}
	return append(patterns, p)
}

func containsVar(vars []string, v string) bool {
	for _, x := range vars {
		if x == v {
			return true
		}
	}
	return false
}

func sharesVar(a, b []string) bool {
	for _, v := range a {
		if containsVar(b, v) {
			return true
		}
	}
	return false
}
