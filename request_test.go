package fedsparql

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestQueryRequestQuery(t *testing.T) {
	var req QueryRequest
	body := `{"patterns": [["?x", "foaf:knows", "?y"], ["?y", "foaf:name", "?n"]],
		"filters": ["?n != \"Bob\""], "distinct": true}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}

	q, err := req.Query()
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !q.Distinct || q.Reduced {
		t.Errorf("Unexpected modifiers distinct=%v reduced=%v", q.Distinct, q.Reduced)
	}
	bgp, ok := q.Where.(*BGP)
	if !ok {
		t.Fatalf("Expected *BGP, got %T", q.Where)
	}
	if len(bgp.Patterns) != 2 || len(bgp.Filters) != 1 {
		t.Fatalf("Expected 2 patterns and 1 filter, got %d and %d", len(bgp.Patterns), len(bgp.Filters))
	}
	if bgp.Patterns[1].Object != Var("n") {
		t.Errorf("Unexpected object %s", bgp.Patterns[1].Object)
	}
	if bgp.Filters[0].Expr != `?n != "Bob"` {
		t.Errorf("Unexpected filter %q", bgp.Filters[0].Expr)
	}
}

func TestQueryRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr string
	}{
		{"no patterns", QueryRequest{}, "at least one pattern"},
		{"short pattern", QueryRequest{Patterns: [][]string{{"?x", "foaf:knows"}}}, "pattern 0: expected 3 terms"},
		{"bad term", QueryRequest{Patterns: [][]string{{"?x", "foaf:knows", "?y"}, {"?y", "bad:p", "?z"}}}, "pattern 1: predicate"},
		{"distinct and reduced", QueryRequest{Patterns: [][]string{{"?x", "a", "?c"}}, Distinct: true, Reduced: true}, "mutually exclusive"},
		{"uncovered filter", QueryRequest{Patterns: [][]string{{"?x", "a", "?c"}}, Filters: []string{"?y = 1"}}, "outside the patterns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Query()
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
