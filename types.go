package fedsparql

import (
	"sort"
	"strings"
)

// Well-known vocabulary used by source selection and estimation.
const (
	RDFType   = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	OWLSameAs = "http://www.w3.org/2002/07/owl#sameAs"
)

// TermKind identifies the kind of an RDF term or query variable.
type TermKind int

const (
	TermKindIRI TermKind = iota + 1
	TermKindLiteral
	TermKindBlank
	TermKindVariable
)

func (k TermKind) String() string {
	switch k {
	case TermKindIRI:
		return "iri"
	case TermKindLiteral:
		return "literal"
	case TermKindBlank:
		return "blank"
	case TermKindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Term is an RDF term or a named variable. For variables Value holds the
// name without the leading '?'.
type Term struct {
	Kind     TermKind `json:"kind"`
	Value    string   `json:"value"`
	Datatype string   `json:"datatype,omitempty"`
	Lang     string   `json:"lang,omitempty"`
}

// IRI returns an IRI term.
func IRI(value string) Term { return Term{Kind: TermKindIRI, Value: value} }

// Literal returns a plain literal.
func Literal(value string) Term { return Term{Kind: TermKindLiteral, Value: value} }

// TypedLiteral returns a literal with a datatype IRI.
func TypedLiteral(value, datatype string) Term {
	return Term{Kind: TermKindLiteral, Value: value, Datatype: datatype}
}

// LangLiteral returns a language tagged literal.
func LangLiteral(value, lang string) Term {
	return Term{Kind: TermKindLiteral, Value: value, Lang: lang}
}

// Blank returns a blank node term.
func Blank(id string) Term { return Term{Kind: TermKindBlank, Value: id} }

// Var returns a variable. A leading '?' or '$' is stripped.
func Var(name string) Term {
	name = strings.TrimLeft(name, "?$")
	return Term{Kind: TermKindVariable, Value: name}
}

func (t Term) IsVariable() bool { return t.Kind == TermKindVariable }

// IsBound reports whether the term is a constant.
func (t Term) IsBound() bool { return t.Kind != 0 && t.Kind != TermKindVariable }

func (t Term) IsBlank() bool { return t.Kind == TermKindBlank }

// String renders the term in SPARQL/N-Triples surface syntax.
func (t Term) String() string {
	switch t.Kind {
	case TermKindIRI:
		return "<" + t.Value + ">"
	case TermKindBlank:
		return "_:" + t.Value
	case TermKindVariable:
		return "?" + t.Value
	case TermKindLiteral:
		s := `"` + escapeLiteral(t.Value) + `"`
		if t.Lang != "" {
			return s + "@" + t.Lang
		}
		if t.Datatype != "" {
			return s + "^^<" + t.Datatype + ">"
		}
		return s
	default:
		return ""
	}
}

var literalEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeLiteral(s string) string {
	return literalEscaper.Replace(s)
}

// TriplePattern is a subject/predicate/object template.
type TriplePattern struct {
	Subject   Term `json:"subject"`
	Predicate Term `json:"predicate"`
	Object    Term `json:"object"`
}

// NewTriplePattern builds a pattern from three terms.
func NewTriplePattern(s, p, o Term) TriplePattern {
	return TriplePattern{Subject: s, Predicate: p, Object: o}
}

// Terms returns the subject, predicate and object in order.
func (tp TriplePattern) Terms() [3]Term {
	return [3]Term{tp.Subject, tp.Predicate, tp.Object}
}

// Vars returns the distinct variable names of the pattern in s, p, o order.
func (tp TriplePattern) Vars() []string {
	var vars []string
	for _, t := range tp.Terms() {
		if t.IsVariable() && !containsString(vars, t.Value) {
			vars = append(vars, t.Value)
		}
	}
	return vars
}

// HasVar reports whether the pattern mentions the variable.
func (tp TriplePattern) HasVar(name string) bool {
	for _, t := range tp.Terms() {
		if t.IsVariable() && t.Value == name {
			return true
		}
	}
	return false
}

// ConstantKey identifies the pattern by its constant positions only, so that
// "?a p v" and "?b p v" yield the same key.
func (tp TriplePattern) ConstantKey() string {
	parts := make([]string, 0, 3)
	for _, t := range tp.Terms() {
		if t.IsVariable() {
			parts = append(parts, "?")
			continue
		}
		parts = append(parts, t.String())
	}
	return strings.Join(parts, " ")
}

func (tp TriplePattern) String() string {
	return tp.Subject.String() + " " + tp.Predicate.String() + " " + tp.Object.String()
}

// IsTypePattern reports whether the pattern is "?x rdf:type C" with a bound class.
func (tp TriplePattern) IsTypePattern() bool {
	return tp.Predicate.Kind == TermKindIRI && tp.Predicate.Value == RDFType && tp.Object.IsBound()
}

// IsSameAsPattern reports whether the predicate is owl:sameAs.
func (tp TriplePattern) IsSameAsPattern() bool {
	return tp.Predicate.Kind == TermKindIRI && tp.Predicate.Value == OWLSameAs
}

// Source is one federation member, identified by its endpoint address.
type Source struct {
	Endpoint string `json:"endpoint"`
}

// NewSource returns the source for an endpoint address.
func NewSource(endpoint string) Source { return Source{Endpoint: endpoint} }

func (s Source) String() string { return s.Endpoint }

// SourceSet is a sorted, duplicate free set of sources. Build it with
// NewSourceSet.
type SourceSet []Source

// NewSourceSet sorts and deduplicates the given sources.
func NewSourceSet(sources ...Source) SourceSet {
	if len(sources) == 0 {
		return SourceSet{}
	}
	out := make(SourceSet, len(sources))
	copy(out, sources)
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

func (ss SourceSet) Len() int { return len(ss) }

func (ss SourceSet) IsEmpty() bool { return len(ss) == 0 }

// Contains reports whether src is a member.
func (ss SourceSet) Contains(src Source) bool {
	i := sort.Search(len(ss), func(i int) bool { return ss[i].Endpoint >= src.Endpoint })
	return i < len(ss) && ss[i] == src
}

// IsSupersetOf reports whether every member of other is in ss.
func (ss SourceSet) IsSupersetOf(other SourceSet) bool {
	for _, src := range other {
		if !ss.Contains(src) {
			return false
		}
	}
	return true
}

// Equal compares two sets.
func (ss SourceSet) Equal(other SourceSet) bool {
	if len(ss) != len(other) {
		return false
	}
	for i := range ss {
		if ss[i] != other[i] {
			return false
		}
	}
	return true
}

// Union returns a new set holding the members of both sets.
func (ss SourceSet) Union(other SourceSet) SourceSet {
	all := make([]Source, 0, len(ss)+len(other))
	all = append(all, ss...)
	all = append(all, other...)
	return NewSourceSet(all...)
}

// Key is a canonical string form usable as a map key.
func (ss SourceSet) Key() string {
	parts := make([]string, len(ss))
	for i, src := range ss {
		parts[i] = src.Endpoint
	}
	return strings.Join(parts, "|")
}

func (ss SourceSet) String() string {
	return "{" + strings.Join(strings.Split(ss.Key(), "|"), ", ") + "}"
}

// MappedPattern pairs one or more patterns with the sources able to answer them.
type MappedPattern struct {
	Patterns []TriplePattern `json:"patterns"`
	Sources  SourceSet       `json:"sources"`
}

// Vars returns the distinct variables of all patterns in order of appearance.
func (mp MappedPattern) Vars() []string {
	return patternVars(mp.Patterns)
}

// BindingSet maps variable names to RDF terms; one result row.
type BindingSet map[string]Term

// Clone returns a shallow copy.
func (b BindingSet) Clone() BindingSet {
	out := make(BindingSet, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Merge returns a new binding set with the bindings of both sets. Values of
// b win on conflict.
func (b BindingSet) Merge(other BindingSet) BindingSet {
	out := make(BindingSet, len(b)+len(other))
	for k, v := range other {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Vars returns the bound variable names sorted.
func (b BindingSet) Vars() []string {
	vars := make([]string, 0, len(b))
	for k := range b {
		vars = append(vars, k)
	}
	sort.Strings(vars)
	return vars
}

// Key is a canonical encoding of the row, used for duplicate elimination.
func (b BindingSet) Key() string {
	var sb strings.Builder
	for _, v := range b.Vars() {
		sb.WriteString(v)
		sb.WriteByte('=')
		sb.WriteString(b[v].String())
		sb.WriteByte(';')
	}
	return sb.String()
}

func patternVars(patterns []TriplePattern) []string {
	var vars []string
	for _, p := range patterns {
		for _, v := range p.Vars() {
			if !containsString(vars, v) {
				vars = append(vars, v)
			}
		}
	}
	return vars
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
