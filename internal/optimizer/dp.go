package optimizer

import (
	"github.com/lychee-technology/fedsparql"
	"go.uber.org/zap"
)

// stage holds the retained plans of one arity, at most one per signature.
// Plans keep insertion order so that enumeration is deterministic.
type stage struct {
	plans []*plan
	index map[string]int
}

func newStage() *stage {
	return &stage{index: make(map[string]int)}
}

// offer keeps p if it is the cheapest plan seen for its signature. On equal
// cost the earlier plan stays.
func (s *stage) offer(p *plan) {
	key := p.sig.key()
	if i, ok := s.index[key]; ok {
		if p.cost < s.plans[i].cost {
			s.plans[i] = p
		}
		return
	}
	s.index[key] = len(s.plans)
	s.plans = append(s.plans, p)
}

// enumerate runs the dynamic programming join enumeration.
func (b *builder) enumerate(logStages bool) (*plan, error) {
	n := len(b.groups)
	stages := make([]*stage, n+1)
	stages[1] = newStage()
	for _, leaf := range b.leaves() {
		stages[1].offer(leaf)
	}

	for size := 2; size <= n; size++ {
		cur := newStage()
		for i := 1; i < size; i++ {
			j := size - i
			for _, left := range stages[i].plans {
				for _, right := range stages[j].plans {
					for _, cand := range b.joins(left, right) {
						cur.offer(cand)
					}
				}
			}
		}
		stages[size] = cur
		if logStages {
			zap.S().Debugw("join enumeration stage", "arity", size, "plans", len(cur.plans))
		}
		if len(cur.plans) == 0 {
			return nil, crossProduct(size, n)
		}
	}

	final := stages[n].plans
	if len(final) != 1 {
		return nil, fedsparql.NewInternalError(fedsparql.ErrCodeInternalError, "join enumeration produced more than one complete plan")
	}
	return final[0], nil
}

func crossProduct(stage, total int) error {
	return fedsparql.NewUnsupportedQueryShapeError(fedsparql.ErrCodeCrossProduct, "requires cross product").
		WithDetail("stage", stage).
		WithDetail("groups", total)
}
