package fedsparql

import (
	"errors"
	"fmt"
	"sort"
)

// Node is an operator of the query tree. The set of implementations is closed:
// *BGP, *AccessPlan, *Join and *LeftJoin.
type Node interface {
	node()
}

// BGP is an unoptimized basic graph pattern as produced by the host parser.
type BGP struct {
	Patterns []TriplePattern `json:"patterns"`
	Filters  []Filter        `json:"filters,omitempty"`
}

// AccessPlan is a leaf: one or more patterns evaluated as one sub-query
// against every source of Sources.
type AccessPlan struct {
	Patterns []TriplePattern `json:"patterns"`
	Sources  SourceSet       `json:"sources"`
	Filters  []Filter        `json:"filters,omitempty"`
}

// JoinExec describes where a join is computed.
type JoinExec int

const (
	// JoinExecLocal joins the argument streams in the federator.
	JoinExecLocal JoinExec = iota
	// JoinExecRemote ships both arguments as one sub-query because they
	// share the same source set.
	JoinExecRemote
)

func (e JoinExec) String() string {
	if e == JoinExecRemote {
		return "remote"
	}
	return "local"
}

// JoinAlgo is the physical join algorithm.
type JoinAlgo int

const (
	JoinAlgoHash JoinAlgo = iota
	JoinAlgoBind
)

func (a JoinAlgo) String() string {
	if a == JoinAlgoBind {
		return "bind"
	}
	return "hash"
}

// Join is a physical binary join. Left and Right never share a pattern.
type Join struct {
	Left    Node     `json:"left"`
	Right   Node     `json:"right"`
	Exec    JoinExec `json:"exec"`
	Algo    JoinAlgo `json:"algo"`
	Filters []Filter `json:"filters,omitempty"`
}

// LeftJoin is an OPTIONAL block of the host tree. Only Left is evaluated.
type LeftJoin struct {
	Left  Node `json:"left"`
	Right Node `json:"right"`
}

func (*BGP) node()        {}
func (*AccessPlan) node() {}
func (*Join) node()       {}
func (*LeftJoin) node()   {}

// Query is the top-level request handed to the federation.
type Query struct {
	Where    Node `json:"where"`
	Distinct bool `json:"distinct,omitempty"`
	Reduced  bool `json:"reduced,omitempty"`
}

// Patterns collects every triple pattern of the tree in left-to-right order.
func Patterns(n Node) []TriplePattern {
	var out []TriplePattern
	walk(n, func(n Node) {
		switch v := n.(type) {
		case *BGP:
			out = append(out, v.Patterns...)
		case *AccessPlan:
			out = append(out, v.Patterns...)
		}
	})
	return out
}

// Filters collects every filter attached in the tree.
func Filters(n Node) []Filter {
	var out []Filter
	walk(n, func(n Node) {
		switch v := n.(type) {
		case *BGP:
			out = append(out, v.Filters...)
		case *AccessPlan:
			out = append(out, v.Filters...)
		case *Join:
			out = append(out, v.Filters...)
		}
	})
	return out
}

// Vars returns the distinct variables of the tree's patterns, sorted.
func Vars(n Node) []string {
	vars := patternVars(Patterns(n))
	sort.Strings(vars)
	return vars
}

// AccessPlans returns the leaves of the tree in left-to-right order.
func AccessPlans(n Node) []*AccessPlan {
	var out []*AccessPlan
	walk(n, func(n Node) {
		if ap, ok := n.(*AccessPlan); ok {
			out = append(out, ap)
		}
	})
	return out
}

// SharedSources returns the source set shared by every leaf of the subtree,
// or false if leaves disagree. BGP and LeftJoin subtrees never share.
func SharedSources(n Node) (SourceSet, bool) {
	switch v := n.(type) {
	case *AccessPlan:
		return v.Sources, true
	case *Join:
		l, ok := SharedSources(v.Left)
		if !ok {
			return nil, false
		}
		r, ok := SharedSources(v.Right)
		if !ok || !l.Equal(r) {
			return nil, false
		}
		return l, true
	default:
		return nil, false
	}
}

// SharedVars returns the sorted variables present on both sides.
func SharedVars(left, right Node) []string {
	rv := make(map[string]bool)
	for _, v := range Vars(right) {
		rv[v] = true
	}
	var out []string
	for _, v := range Vars(left) {
		if rv[v] {
			out = append(out, v)
		}
	}
	return out
}

// Rewrite replaces every BGP of the tree with the node returned by fn. Other
// nodes are traversed and rebuilt in place. Errors of individual BGPs are
// joined; a failing BGP is left untouched so siblings still get rewritten.
func Rewrite(n Node, fn func(*BGP) (Node, error)) (Node, error) {
	switch v := n.(type) {
	case nil:
		return nil, nil
	case *BGP:
		out, err := fn(v)
		if err != nil {
			return v, err
		}
		return out, nil
	case *Join:
		l, lerr := Rewrite(v.Left, fn)
		r, rerr := Rewrite(v.Right, fn)
		v.Left, v.Right = l, r
		return v, errors.Join(lerr, rerr)
	case *LeftJoin:
		l, lerr := Rewrite(v.Left, fn)
		r, rerr := Rewrite(v.Right, fn)
		v.Left, v.Right = l, r
		return v, errors.Join(lerr, rerr)
	case *AccessPlan:
		return v, nil
	default:
		return n, fmt.Errorf("unknown node type %T", n)
	}
}

func walk(n Node, fn func(Node)) {
	if n == nil {
		return
	}
	fn(n)
	switch v := n.(type) {
	case *Join:
		walk(v.Left, fn)
		walk(v.Right, fn)
	case *LeftJoin:
		walk(v.Left, fn)
		walk(v.Right, fn)
	}
}
