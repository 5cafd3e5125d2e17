package fedsparql

import (
	"testing"
)

func TestParseTerm(t *testing.T) {
	xsd := DefaultPrefixes["xsd"]

	tests := []struct {
		in   string
		want Term
	}{
		{"a", IRI(RDFType)},
		{"?x", Var("x")},
		{"$y", Var("y")},
		{"<http://e/alice>", IRI("http://e/alice")},
		{"_:b1", Blank("b1")},
		{`"Bob"`, Literal("Bob")},
		{`"Carol"@en`, LangLiteral("Carol", "en")},
		{`"5"^^xsd:integer`, TypedLiteral("5", xsd+"integer")},
		{`"5"^^<http://e/dt>`, TypedLiteral("5", "http://e/dt")},
		{`"a\"b\nc"`, Literal("a\"b\nc")},
		{"42", TypedLiteral("42", xsd+"integer")},
		{"-3.5", TypedLiteral("-3.5", xsd+"decimal")},
		{"foaf:name", IRI("http://xmlns.com/foaf/0.1/name")},
		{"  ?padded ", Var("padded")},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTerm(tt.in)
			if err != nil {
				t.Fatalf("ParseTerm(%q) failed: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseTerm(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTermErrors(t *testing.T) {
	for _, in := range []string{"", "?", "?1x", "<http://e", "_:", `"open`, `"x"^^"y"`, `"x"junk`, "ex:foo", "bare", "-"} {
		t.Run(in, func(t *testing.T) {
			if _, err := ParseTerm(in); err == nil {
				t.Errorf("Expected ParseTerm(%q) to fail", in)
			}
		})
	}
}

func TestParsePattern(t *testing.T) {
	tp, err := ParsePattern("?x", "a", "foaf:Person")
	if err != nil {
		t.Fatalf("ParsePattern failed: %v", err)
	}
	if !tp.IsTypePattern() {
		t.Errorf("Expected %s to be a type pattern", tp)
	}

	if _, err := ParsePattern("?x", `"lit"`, "?y"); err == nil {
		t.Error("Expected literal predicate to be rejected")
	}
	if _, err := ParsePattern(`"lit"`, "foaf:knows", "?y"); err == nil {
		t.Error("Expected literal subject to be rejected")
	}
	if _, err := ParsePattern("?x", "foaf:knows", "nope:y"); err == nil {
		t.Error("Expected unknown prefix in object to be rejected")
	}
}

func TestTermStringRoundTrip(t *testing.T) {
	for _, term := range []Term{
		IRI("http://e/a"),
		Var("x"),
		Blank("b0"),
		Literal("tab\there \"quoted\""),
		LangLiteral("chat", "fr"),
		TypedLiteral("1", DefaultPrefixes["xsd"]+"integer"),
	} {
		got, err := ParseTerm(term.String())
		if err != nil {
			t.Errorf("ParseTerm(%s) failed: %v", term, err)
			continue
		}
		if got != term {
			t.Errorf("Round trip of %s gave %#v", term, got)
		}
	}
}
