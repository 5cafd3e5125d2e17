package fedsparql

import (
	"fmt"
	"strings"
)

// DefaultPrefixes are the prefixed names understood by ParseTerm.
var DefaultPrefixes = map[string]string{
	"rdf":  "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
	"rdfs": "http://www.w3.org/2000/01/rdf-schema#",
	"owl":  "http://www.w3.org/2002/07/owl#",
	"xsd":  "http://www.w3.org/2001/XMLSchema#",
	"foaf": "http://xmlns.com/foaf/0.1/",
}

// ParseTerm reads a single term in the surface syntax used by the HTTP and
// CLI front ends: ?var, <iri>, _:blank, "literal", "literal"@lang,
// "literal"^^<datatype>, prefixed names from DefaultPrefixes and the keyword
// "a" for rdf:type. Bare integers and decimals become xsd typed literals.
func ParseTerm(s string) (Term, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Term{}, fmt.Errorf("empty term")
	}
	switch {
	case s == "a":
		return IRI(RDFType), nil
	case s[0] == '?' || s[0] == '$':
		name := s[1:]
		if name == "" || !isVarName(name) {
			return Term{}, fmt.Errorf("invalid variable %q", s)
		}
		return Var(name), nil
	case s[0] == '<':
		if !strings.HasSuffix(s, ">") || len(s) < 3 {
			return Term{}, fmt.Errorf("unterminated iri %q", s)
		}
		return IRI(s[1 : len(s)-1]), nil
	case strings.HasPrefix(s, "_:"):
		if len(s) == 2 {
			return Term{}, fmt.Errorf("empty blank node label")
		}
		return Blank(s[2:]), nil
	case s[0] == '"':
		return parseLiteral(s)
	case isNumber(s):
		if strings.ContainsAny(s, ".eE") {
			return TypedLiteral(s, DefaultPrefixes["xsd"]+"decimal"), nil
		}
		return TypedLiteral(s, DefaultPrefixes["xsd"]+"integer"), nil
	}
	if i := strings.IndexByte(s, ':'); i > 0 {
		if ns, ok := DefaultPrefixes[s[:i]]; ok {
			return IRI(ns + s[i+1:]), nil
		}
		return Term{}, fmt.Errorf("unknown prefix %q", s[:i])
	}
	return Term{}, fmt.Errorf("cannot parse term %q", s)
}

// ParsePattern parses three terms into a triple pattern.
func ParsePattern(subject, predicate, object string) (TriplePattern, error) {
	s, err := ParseTerm(subject)
	if err != nil {
		return TriplePattern{}, fmt.Errorf("subject: %w", err)
	}
	p, err := ParseTerm(predicate)
	if err != nil {
		return TriplePattern{}, fmt.Errorf("predicate: %w", err)
	}
	o, err := ParseTerm(object)
	if err != nil {
		return TriplePattern{}, fmt.Errorf("object: %w", err)
	}
	if p.Kind == TermKindLiteral || p.Kind == TermKindBlank {
		return TriplePattern{}, fmt.Errorf("predicate must be an iri or variable, got %s", p.Kind)
	}
	if s.Kind == TermKindLiteral {
		return TriplePattern{}, fmt.Errorf("subject must not be a literal")
	}
	return NewTriplePattern(s, p, o), nil
}

func parseLiteral(s string) (Term, error) {
	var sb strings.Builder
	i := 1
	for ; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(s[i])
			}
			continue
		}
		if c == '"' {
			break
		}
		sb.WriteByte(c)
	}
	if i >= len(s) {
		return Term{}, fmt.Errorf("unterminated literal %q", s)
	}
	rest := s[i+1:]
	switch {
	case rest == "":
		return Literal(sb.String()), nil
	case strings.HasPrefix(rest, "@") && len(rest) > 1:
		return LangLiteral(sb.String(), rest[1:]), nil
	case strings.HasPrefix(rest, "^^"):
		dt, err := ParseTerm(rest[2:])
		if err != nil || dt.Kind != TermKindIRI {
			return Term{}, fmt.Errorf("invalid datatype in %q", s)
		}
		return TypedLiteral(sb.String(), dt.Value), nil
	default:
		return Term{}, fmt.Errorf("unexpected literal suffix %q", rest)
	}
}

func isVarName(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	start := 0
	if s[0] == '-' || s[0] == '+' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	digits := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' || c == 'e' || c == 'E' || c == '-' || c == '+':
		default:
			return false
		}
	}
	return digits > 0
}
