// Package sparqlgen renders the SPARQL text of remote sub-queries.
package sparqlgen

import (
	"strings"

	"github.com/lychee-technology/fedsparql"
)

// Modifier is the solution modifier of a SELECT.
type Modifier int

const (
	ModifierNone Modifier = iota
	ModifierDistinct
	ModifierReduced
)

// ModifierFor picks the modifier for the query flags; DISTINCT wins.
func ModifierFor(distinct, reduced bool) Modifier {
	switch {
	case distinct:
		return ModifierDistinct
	case reduced:
		return ModifierReduced
	default:
		return ModifierNone
	}
}

// Values is an inline data block joined with the group pattern.
type Values struct {
	Vars []string
	Rows []fedsparql.BindingSet
}

// Select renders SELECT [DISTINCT|REDUCED] * WHERE { ... } over the patterns,
// filters and optional VALUES block.
func Select(patterns []fedsparql.TriplePattern, filters []fedsparql.Filter, mod Modifier, values *Values) string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	switch mod {
	case ModifierDistinct:
		sb.WriteString("DISTINCT ")
	case ModifierReduced:
		sb.WriteString("REDUCED ")
	}
	sb.WriteString("* WHERE ")
	writeGroup(&sb, patterns, filters, values)
	return sb.String()
}

// Ask renders an existence query for a single pattern.
func Ask(pattern fedsparql.TriplePattern) string {
	var sb strings.Builder
	sb.WriteString("ASK ")
	writeGroup(&sb, []fedsparql.TriplePattern{pattern}, nil, nil)
	return sb.String()
}

// CountVar is the projected variable of Count queries.
const CountVar = "count"

// Count renders SELECT (COUNT(*) AS ?count) over the patterns and filters.
func Count(patterns []fedsparql.TriplePattern, filters []fedsparql.Filter) string {
	var sb strings.Builder
	sb.WriteString("SELECT (COUNT(*) AS ?" + CountVar + ") WHERE ")
	writeGroup(&sb, patterns, filters, nil)
	return sb.String()
}

func writeGroup(sb *strings.Builder, patterns []fedsparql.TriplePattern, filters []fedsparql.Filter, values *Values) {
	sb.WriteString("{\n")
	if values != nil && len(values.Vars) > 0 {
		writeValues(sb, values, "  ")
	}
	for _, p := range patterns {
		sb.WriteString("  ")
		sb.WriteString(p.String())
		sb.WriteString(" .\n")
	}
	for _, f := range filters {
		sb.WriteString("  FILTER (")
		sb.WriteString(f.Expr)
		sb.WriteString(")\n")
	}
	sb.WriteString("}")
}

func writeValues(sb *strings.Builder, values *Values, indent string) {
	sb.WriteString(indent)
	sb.WriteString("VALUES (")
	for i, v := range values.Vars {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("?" + v)
	}
	sb.WriteString(") {\n")
	for _, row := range values.Rows {
		sb.WriteString(indent)
		sb.WriteString("  (")
		for i, v := range values.Vars {
			if i > 0 {
				sb.WriteByte(' ')
			}
			t, ok := row[v]
			if !ok || t.IsVariable() {
				sb.WriteString("UNDEF")
				continue
			}
			sb.WriteString(t.String())
		}
		sb.WriteString(")\n")
	}
	sb.WriteString(indent)
	sb.WriteString("}\n")
}

// Substitute replaces the variables of pattern bound in b by their values.
func Substitute(pattern fedsparql.TriplePattern, b fedsparql.BindingSet) fedsparql.TriplePattern {
	sub := func(t fedsparql.Term) fedsparql.Term {
		if !t.IsVariable() {
			return t
		}
		if v, ok := b[t.Value]; ok {
			return v
		}
		return t
	}
	return fedsparql.NewTriplePattern(sub(pattern.Subject), sub(pattern.Predicate), sub(pattern.Object))
}

// SubstituteAll applies Substitute to every pattern.
func SubstituteAll(patterns []fedsparql.TriplePattern, b fedsparql.BindingSet) []fedsparql.TriplePattern {
	out := make([]fedsparql.TriplePattern, len(patterns))
	for i, p := range patterns {
		out[i] = Substitute(p, b)
	}
	return out
}
