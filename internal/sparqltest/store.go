// Package sparqltest provides an in-memory SPARQL endpoint for tests. It
// answers the sub-query shapes produced by internal/sparqlgen: ASK, SELECT
// [DISTINCT|REDUCED] *, SELECT (COUNT(*) AS ?count), each over a group of
// triple patterns with optional FILTERs and one VALUES block.
package sparqltest

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/fedsparql"
)

// Triple is one stored statement.
type Triple struct {
	S, P, O fedsparql.Term
}

// T parses a triple from surface syntax terms. It panics on bad input.
func T(s, p, o string) Triple {
	tp, err := fedsparql.ParsePattern(s, p, o)
	if err != nil {
		panic(err)
	}
	return Triple{S: tp.Subject, P: tp.Predicate, O: tp.Object}
}

type form int

const (
	formSelect form = iota
	formAsk
	formCount
)

type parsedQuery struct {
	form     form
	distinct bool
	patterns []fedsparql.TriplePattern
	filters  []fedsparql.Filter
	values   []fedsparql.BindingSet
}

func parseQuery(query string) (*parsedQuery, error) {
	q := &parsedQuery{}
	head, body, ok := strings.Cut(query, "{")
	if !ok {
		return nil, fmt.Errorf("missing group pattern")
	}
	head = strings.TrimSpace(head)
	switch {
	case strings.HasPrefix(head, "ASK"):
		q.form = formAsk
	case strings.HasPrefix(head, "SELECT (COUNT(*)"):
		q.form = formCount
	case strings.HasPrefix(head, "SELECT"):
		q.distinct = strings.Contains(head, "DISTINCT")
	default:
		return nil, fmt.Errorf("unsupported query form %q", head)
	}

	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		switch {
		case line == "" || line == "}":
		case strings.HasPrefix(line, "VALUES"):
			vars, err := valueVars(line)
			if err != nil {
				return nil, err
			}
			for i++; i < len(lines) && strings.TrimSpace(lines[i]) != "}"; i++ {
				row, err := valueRow(vars, strings.TrimSpace(lines[i]))
				if err != nil {
					return nil, err
				}
				q.values = append(q.values, row)
			}
		case strings.HasPrefix(line, "FILTER ("):
			q.filters = append(q.filters, fedsparql.NewFilter(strings.TrimSuffix(strings.TrimPrefix(line, "FILTER ("), ")")))
		default:
			terms := splitTerms(strings.TrimSuffix(line, " ."))
			if len(terms) != 3 {
				return nil, fmt.Errorf("cannot parse pattern %q", line)
			}
			tp, err := fedsparql.ParsePattern(terms[0], terms[1], terms[2])
			if err != nil {
				return nil, err
			}
			q.patterns = append(q.patterns, tp)
		}
	}
	return q, nil
}

func valueVars(line string) ([]string, error) {
	open, closing := strings.Index(line, "("), strings.Index(line, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("cannot parse %q", line)
	}
	var vars []string
	for _, v := range strings.Fields(line[open+1 : closing]) {
		vars = append(vars, strings.TrimPrefix(v, "?"))
	}
	return vars, nil
}

func valueRow(vars []string, line string) (fedsparql.BindingSet, error) {
	line = strings.TrimSuffix(strings.TrimPrefix(line, "("), ")")
	terms := splitTerms(line)
	if len(terms) != len(vars) {
		return nil, fmt.Errorf("VALUES row %q has %d terms, want %d", line, len(terms), len(vars))
	}
	row := fedsparql.BindingSet{}
	for i, s := range terms {
		if s == "UNDEF" {
			continue
		}
		t, err := fedsparql.ParseTerm(s)
		if err != nil {
			return nil, err
		}
		row[vars[i]] = t
	}
	return row, nil
}

// splitTerms splits on spaces outside quoted literals and IRIs.
func splitTerms(s string) []string {
	var out []string
	var cur strings.Builder
	inQuote, inIRI := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inQuote:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			} else if c == '"' {
				inQuote = false
			}
		case inIRI:
			cur.WriteByte(c)
			if c == '>' {
				inIRI = false
			}
		case c == ' ':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
			if c == '"' {
				inQuote = true
			} else if c == '<' {
				inIRI = true
			}
		}
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

// evaluate matches the group against triples by nested loops.
func evaluate(q *parsedQuery, triples []Triple) ([]fedsparql.BindingSet, error) {
	solutions := q.values
	if len(solutions) == 0 {
		solutions = []fedsparql.BindingSet{{}}
	}
	for _, tp := range q.patterns {
		var next []fedsparql.BindingSet
		for _, sol := range solutions {
			for _, t := range triples {
				if ext, ok := match(tp, t, sol); ok {
					next = append(next, ext)
				}
			}
		}
		solutions = next
	}

	var out []fedsparql.BindingSet
	seen := map[string]bool{}
	for _, sol := range solutions {
		keep := true
		for _, f := range q.filters {
			ok, err := f.Eval(sol)
			if err != nil {
				return nil, err
			}
			keep = keep && ok
		}
		if !keep {
			continue
		}
		if q.distinct {
			if seen[sol.Key()] {
				continue
			}
			seen[sol.Key()] = true
		}
		out = append(out, sol)
	}
	return out, nil
}

func match(tp fedsparql.TriplePattern, t Triple, sol fedsparql.BindingSet) (fedsparql.BindingSet, bool) {
	ext := sol
	copied := false
	for _, pair := range [3][2]fedsparql.Term{{tp.Subject, t.S}, {tp.Predicate, t.P}, {tp.Object, t.O}} {
		pat, val := pair[0], pair[1]
		if !pat.IsVariable() {
			if pat != val {
				return nil, false
			}
			continue
		}
		if bound, ok := ext[pat.Value]; ok {
			if bound != val {
				return nil, false
			}
			continue
		}
		if !copied {
			ext = sol.Clone()
			copied = true
		}
		ext[pat.Value] = val
	}
	return ext, true
}
