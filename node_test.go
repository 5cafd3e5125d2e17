package fedsparql

import (
	"errors"
	"reflect"
	"testing"
)

func nodeFixture() (a, b SourceSet, knows, name, age *AccessPlan) {
	a = NewSourceSet(NewSource("http://a/sparql"))
	b = NewSourceSet(NewSource("http://b/sparql"))
	knows = &AccessPlan{
		Patterns: []TriplePattern{NewTriplePattern(Var("x"), IRI("http://e/knows"), Var("y"))},
		Sources:  a,
	}
	name = &AccessPlan{
		Patterns: []TriplePattern{NewTriplePattern(Var("y"), IRI("http://e/name"), Var("n"))},
		Sources:  a,
		Filters:  []Filter{NewFilter(`?n != "Bob"`)},
	}
	age = &AccessPlan{
		Patterns: []TriplePattern{NewTriplePattern(Var("x"), IRI("http://e/age"), Var("g"))},
		Sources:  b,
	}
	return a, b, knows, name, age
}

func TestNodeTraversal(t *testing.T) {
	a, _, knows, name, age := nodeFixture()
	inner := &Join{Left: knows, Right: name, Exec: JoinExecRemote}
	root := &Join{Left: inner, Right: age, Filters: []Filter{NewFilter("?g > 18")}}

	if got := Vars(root); !reflect.DeepEqual(got, []string{"g", "n", "x", "y"}) {
		t.Errorf("Unexpected vars %v", got)
	}
	if got := Patterns(root); len(got) != 3 || got[2] != age.Patterns[0] {
		t.Errorf("Expected patterns left to right, got %v", got)
	}
	if got := AccessPlans(root); len(got) != 3 || got[0] != knows || got[2] != age {
		t.Errorf("Expected leaves left to right, got %v", got)
	}
	if got := Filters(root); len(got) != 2 || got[0].Expr != "?g > 18" {
		t.Errorf("Expected join filter before leaf filter, got %v", got)
	}

	shared, ok := SharedSources(inner)
	if !ok || !shared.Equal(a) {
		t.Errorf("Expected inner join to share %s, got %s (%v)", a, shared, ok)
	}
	if _, ok := SharedSources(root); ok {
		t.Error("Expected leaves with different sources not to share")
	}
	if _, ok := SharedSources(&BGP{}); ok {
		t.Error("BGP never shares sources")
	}

	if got := SharedVars(knows, name); !reflect.DeepEqual(got, []string{"y"}) {
		t.Errorf("Unexpected shared vars %v", got)
	}
	if got := SharedVars(name, age); got != nil {
		t.Errorf("Expected no shared vars, got %v", got)
	}
}

func TestLeftJoinVarsSpanBothSides(t *testing.T) {
	_, _, knows, name, _ := nodeFixture()
	lj := &LeftJoin{Left: knows, Right: name}
	if got := Vars(lj); !reflect.DeepEqual(got, []string{"n", "x", "y"}) {
		t.Errorf("Unexpected vars %v", got)
	}
}

func TestRewriteKeepsFailingBGP(t *testing.T) {
	_, b, _, _, _ := nodeFixture()
	good := &BGP{Patterns: []TriplePattern{NewTriplePattern(Var("x"), IRI("http://e/p"), Var("y"))}}
	bad := &BGP{Patterns: []TriplePattern{NewTriplePattern(Var("x"), Var("p"), Var("z"))}}
	tree := &LeftJoin{Left: good, Right: bad}
	boom := errors.New("boom")

	out, err := Rewrite(tree, func(bgp *BGP) (Node, error) {
		if bgp == bad {
			return nil, boom
		}
		return &AccessPlan{Patterns: bgp.Patterns, Sources: b}, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the BGP error, got %v", err)
	}

	lj, ok := out.(*LeftJoin)
	if !ok {
		t.Fatalf("Expected *LeftJoin, got %T", out)
	}
	if _, ok := lj.Left.(*AccessPlan); !ok {
		t.Errorf("Expected left BGP to be rewritten, got %T", lj.Left)
	}
	if lj.Right != bad {
		t.Errorf("Expected failing BGP to stay in place, got %T", lj.Right)
	}
}

func TestRewriteNil(t *testing.T) {
	out, err := Rewrite(nil, func(*BGP) (Node, error) { return nil, errors.New("unreachable") })
	if out != nil || err != nil {
		t.Errorf("Expected nil rewrite, got %v, %v", out, err)
	}
}
