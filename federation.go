package fedsparql

import (
	"context"
)

// BindingIterator is a pull based, closable stream of solution rows.
//
// Next advances to the next row and reports whether one is available. Err
// returns the first error encountered; it must be checked after Next returns
// false. Close releases every resource behind the stream, including child
// streams and in-flight remote requests, and is safe to call more than once.
type BindingIterator interface {
	Next() bool
	Binding() BindingSet
	Err() error
	Close() error
}

// Federation is a federated SPARQL engine over a fixed set of sources.
type Federation interface {
	// MapSources resolves the candidate sources of each pattern.
	MapSources(ctx context.Context, patterns []TriplePattern) ([]MappedPattern, error)

	// Optimize rewrites every BGP of the query tree into a physical plan.
	// A failing BGP is left unoptimized and its error is returned joined
	// with the errors of other BGPs.
	Optimize(ctx context.Context, q *Query) error

	// Explain renders the optimized plan with estimated cardinalities and
	// costs. The query is optimized first if necessary.
	Explain(ctx context.Context, q *Query) (string, error)

	// Execute optimizes and evaluates the query. The caller must Close the
	// returned iterator.
	Execute(ctx context.Context, q *Query) (BindingIterator, error)

	// Sources returns the federation members.
	Sources() SourceSet
}

// ExecutionReport is a diagnostic snapshot of one query evaluation, filled in
// when EvaluationConfig.IncludeExecutionReport is set.
type ExecutionReport struct {
	QueryID string `json:"queryId"`

	// Subqueries lists every remote request issued while evaluating.
	Subqueries []SubqueryReport `json:"subqueries"`

	// Timings in milliseconds, keyed by stage: "optimize", "evaluate", "total".
	Timings map[string]int64 `json:"timings"`

	// Notes and warnings captured during evaluation.
	Notes []string `json:"notes,omitempty"`
}

// SubqueryReport captures one remote request.
type SubqueryReport struct {
	Source      string  `json:"source"`
	Query       string  `json:"query"`
	RowEstimate float64 `json:"rowEstimate"`
	ActualRows  int64   `json:"actualRows"`
	DurationMs  int64   `json:"durationMs"`
	Error       string  `json:"error,omitempty"`
}

// Reporter is implemented by iterators that expose an execution report once
// fully consumed.
type Reporter interface {
	Report() *ExecutionReport
}
