package estimator

import (
	"github.com/lychee-technology/fedsparql"
)

// Cost estimates the execution cost of n.
//
//	leaf:      requestCost*|sources| + card*transferCost
//	bind join: cost(left) + card(left)*(requestCost+transferCost) + card*transferCost
//	hash join: cost(left) + cost(right) + (card(left)+card(right))*hashCost
//
// A join shipped to a shared source set as one sub-query is costed as a leaf.
func (p *Pass) Cost(n fedsparql.Node) float64 {
	if c, ok := p.cost[n]; ok {
		return c
	}
	cfg := p.est.cost
	var c float64
	switch v := n.(type) {
	case *fedsparql.AccessPlan:
		c = cfg.RequestCost*float64(v.Sources.Len()) + p.Cardinality(v)*cfg.TransferCost
	case *fedsparql.Join:
		switch {
		case v.Exec == fedsparql.JoinExecRemote:
			sources, _ := fedsparql.SharedSources(v)
			c = cfg.RequestCost*float64(sources.Len()) + p.Cardinality(v)*cfg.TransferCost
		case v.Algo == fedsparql.JoinAlgoBind:
			lc := p.Cardinality(v.Left)
			c = p.Cost(v.Left) + lc*(cfg.RequestCost+cfg.TransferCost) + p.Cardinality(v)*cfg.TransferCost
		default:
			c = p.Cost(v.Left) + p.Cost(v.Right) + (p.Cardinality(v.Left)+p.Cardinality(v.Right))*cfg.HashCost
		}
	case *fedsparql.LeftJoin:
		c = p.Cost(v.Left)
	case *fedsparql.BGP:
		c = cfg.RequestCost + p.Cardinality(v)*cfg.TransferCost
	}
	p.cost[n] = c
	return c
}
