package fedsparql

import (
	"reflect"
	"testing"
)

func TestNewSourceSetSortsAndDeduplicates(t *testing.T) {
	a, b, c := NewSource("http://a/sparql"), NewSource("http://b/sparql"), NewSource("http://c/sparql")
	set := NewSourceSet(c, a, b, a)

	want := SourceSet{a, b, c}
	if !set.Equal(want) {
		t.Fatalf("Expected %s, got %s", want, set)
	}
	if set.Key() != "http://a/sparql|http://b/sparql|http://c/sparql" {
		t.Errorf("Unexpected key %q", set.Key())
	}
	if set.String() != "{http://a/sparql, http://b/sparql, http://c/sparql}" {
		t.Errorf("Unexpected string %q", set.String())
	}
	if !NewSourceSet().IsEmpty() {
		t.Error("Expected empty set")
	}
}

func TestSourceSetOperations(t *testing.T) {
	a, b, c := NewSource("http://a/sparql"), NewSource("http://b/sparql"), NewSource("http://c/sparql")
	ab := NewSourceSet(a, b)

	if !ab.Contains(a) || ab.Contains(c) {
		t.Errorf("Contains gave wrong answer for %s", ab)
	}
	if !ab.IsSupersetOf(NewSourceSet(b)) {
		t.Error("Expected {a, b} to be a superset of {b}")
	}
	if ab.IsSupersetOf(NewSourceSet(b, c)) {
		t.Error("Expected {a, b} not to be a superset of {b, c}")
	}
	if !ab.IsSupersetOf(NewSourceSet()) {
		t.Error("Every set is a superset of the empty set")
	}

	union := ab.Union(NewSourceSet(c, a))
	if !union.Equal(NewSourceSet(a, b, c)) {
		t.Errorf("Unexpected union %s", union)
	}
	if ab.Len() != 2 {
		t.Errorf("Union must not modify its receiver, got %s", ab)
	}
}

func TestTermString(t *testing.T) {
	tests := []struct {
		term Term
		want string
	}{
		{IRI("http://e/a"), "<http://e/a>"},
		{Var("?x"), "?x"},
		{Blank("b"), "_:b"},
		{Literal("say \"hi\"\n"), `"say \"hi\"\n"`},
		{LangLiteral("hallo", "de"), `"hallo"@de`},
		{TypedLiteral("1", "http://www.w3.org/2001/XMLSchema#integer"), `"1"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{Term{}, ""},
	}
	for _, tt := range tests {
		if got := tt.term.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}

	if Var("x").IsBound() || !IRI("http://e").IsBound() || (Term{}).IsBound() {
		t.Error("IsBound gave a wrong answer")
	}
}

func TestTriplePatternHelpers(t *testing.T) {
	tp := NewTriplePattern(Var("x"), IRI(OWLSameAs), Var("x"))
	if got := tp.Vars(); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Expected repeated variable once, got %v", got)
	}
	if !tp.HasVar("x") || tp.HasVar("y") {
		t.Error("HasVar gave a wrong answer")
	}
	if !tp.IsSameAsPattern() || tp.IsTypePattern() {
		t.Error("Expected a sameAs pattern")
	}

	p1 := NewTriplePattern(Var("a"), IRI("http://e/p"), Literal("v"))
	p2 := NewTriplePattern(Var("b"), IRI("http://e/p"), Literal("v"))
	if p1.ConstantKey() != p2.ConstantKey() {
		t.Errorf("Expected equal constant keys, got %q and %q", p1.ConstantKey(), p2.ConstantKey())
	}
	if p1.ConstantKey() != `? <http://e/p> "v"` {
		t.Errorf("Unexpected constant key %q", p1.ConstantKey())
	}

	typed := NewTriplePattern(Var("s"), IRI(RDFType), Var("c"))
	if typed.IsTypePattern() {
		t.Error("rdf:type with a variable class is not a type pattern")
	}
}

func TestMappedPatternVars(t *testing.T) {
	mp := MappedPattern{Patterns: []TriplePattern{
		NewTriplePattern(Var("x"), IRI("http://e/knows"), Var("y")),
		NewTriplePattern(Var("y"), IRI("http://e/name"), Var("n")),
	}}
	if got := mp.Vars(); !reflect.DeepEqual(got, []string{"x", "y", "n"}) {
		t.Errorf("Expected variables in order of appearance, got %v", got)
	}
}

func TestBindingSet(t *testing.T) {
	left := BindingSet{"x": IRI("http://e/a"), "y": Literal("1")}
	right := BindingSet{"y": Literal("2"), "z": Blank("b")}

	merged := left.Merge(right)
	if merged["y"] != Literal("1") {
		t.Errorf("Expected receiver to win on conflict, got %s", merged["y"])
	}
	if len(merged) != 3 {
		t.Errorf("Expected 3 bindings, got %d", len(merged))
	}
	if _, ok := left["z"]; ok {
		t.Error("Merge must not modify its receiver")
	}

	clone := left.Clone()
	clone["x"] = IRI("http://e/other")
	if left["x"] != IRI("http://e/a") {
		t.Error("Clone must copy the map")
	}

	if got := merged.Vars(); !reflect.DeepEqual(got, []string{"x", "y", "z"}) {
		t.Errorf("Unexpected vars %v", got)
	}
	if left.Key() != `x=<http://e/a>;y="1";` {
		t.Errorf("Unexpected key %q", left.Key())
	}
	same := BindingSet{"y": Literal("1"), "x": IRI("http://e/a")}
	if same.Key() != left.Key() {
		t.Error("Key must not depend on insertion order")
	}
}
