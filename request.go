package fedsparql

import (
	"fmt"
)

// QueryRequest is the JSON form of a basic graph pattern query accepted by
// the HTTP and CLI front ends.
//
//	{"patterns": [["?s", "foaf:knows", "?o"]], "filters": ["?o != <http://e/x>"], "distinct": true}
type QueryRequest struct {
	Patterns [][]string `json:"patterns"`
	Filters  []string   `json:"filters,omitempty"`
	Distinct bool       `json:"distinct,omitempty"`
	Reduced  bool       `json:"reduced,omitempty"`
}

// TriplePatterns parses the request's triple patterns.
func (r QueryRequest) TriplePatterns() ([]TriplePattern, error) {
	if len(r.Patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	out := make([]TriplePattern, 0, len(r.Patterns))
	for i, p := range r.Patterns {
		if len(p) != 3 {
			return nil, fmt.Errorf("pattern %d: expected 3 terms, got %d", i, len(p))
		}
		tp, err := ParsePattern(p[0], p[1], p[2])
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		out = append(out, tp)
	}
	return out, nil
}

// Query builds the query tree. Filters must mention only variables that occur
// in the patterns.
func (r QueryRequest) Query() (*Query, error) {
	if r.Distinct && r.Reduced {
		return nil, fmt.Errorf("distinct and reduced are mutually exclusive")
	}
	patterns, err := r.TriplePatterns()
	if err != nil {
		return nil, err
	}
	vars := patternVars(patterns)
	filters := make([]Filter, 0, len(r.Filters))
	for _, expr := range r.Filters {
		f := NewFilter(expr)
		if !f.CoveredBy(vars) {
			return nil, fmt.Errorf("filter %q mentions variables outside the patterns", expr)
		}
		filters = append(filters, f)
	}
	return &Query{
		Where:    &BGP{Patterns: patterns, Filters: filters},
		Distinct: r.Distinct,
		Reduced:  r.Reduced,
	}, nil
}
