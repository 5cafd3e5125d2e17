package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/fedsparql"
)

// Estimate returns the estimated cardinality of a node. It is called under
// the query context lock.
type Estimate func(fedsparql.Node) float64

// QueryContext carries per-query state through a recursive evaluation. A
// context belongs to exactly one top-level query.
type QueryContext struct {
	ID    string
	start time.Time

	mu       sync.Mutex
	sources  map[fedsparql.TriplePattern]fedsparql.SourceSet
	report   *fedsparql.ExecutionReport
	estimate Estimate
}

// NewQueryContext creates a context. With withReport set, sub-queries and
// notes are collected into an ExecutionReport.
func NewQueryContext(withReport bool) *QueryContext {
	qc := &QueryContext{
		ID:      uuid.New().String(),
		start:   time.Now(),
		sources: make(map[fedsparql.TriplePattern]fedsparql.SourceSet),
	}
	if withReport {
		qc.report = &fedsparql.ExecutionReport{QueryID: qc.ID, Timings: map[string]int64{}}
	}
	return qc
}

// SetEstimate installs the cardinality estimate used for report row
// estimates.
func (qc *QueryContext) SetEstimate(fn Estimate) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	qc.estimate = fn
}

// RecordSources remembers the sources each pattern is evaluated against.
func (qc *QueryContext) RecordSources(patterns []fedsparql.TriplePattern, sources fedsparql.SourceSet) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	for _, p := range patterns {
		qc.sources[p] = qc.sources[p].Union(sources)
	}
}

// SourcesFor returns the sources recorded for a pattern.
func (qc *QueryContext) SourcesFor(p fedsparql.TriplePattern) (fedsparql.SourceSet, bool) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	ss, ok := qc.sources[p]
	return ss, ok
}

// DropSource removes src from the sources of every recorded pattern, so
// later sub-queries of this query no longer reach it.
func (qc *QueryContext) DropSource(src fedsparql.Source) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	for p, ss := range qc.sources {
		if !ss.Contains(src) {
			continue
		}
		kept := make([]fedsparql.Source, 0, len(ss)-1)
		for _, s := range ss {
			if s != src {
				kept = append(kept, s)
			}
		}
		qc.sources[p] = fedsparql.NewSourceSet(kept...)
	}
}

// resolve narrows planned to the sources still recorded for every pattern
// of n. Patterns never recorded leave planned unchanged.
func (qc *QueryContext) resolve(n fedsparql.Node, planned fedsparql.SourceSet) fedsparql.SourceSet {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	out := planned
	for _, p := range fedsparql.Patterns(n) {
		ss, ok := qc.sources[p]
		if !ok {
			continue
		}
		var kept []fedsparql.Source
		for _, src := range out {
			if ss.Contains(src) {
				kept = append(kept, src)
			}
		}
		out = fedsparql.NewSourceSet(kept...)
	}
	return out
}

func (qc *QueryContext) rowEstimate(n fedsparql.Node) float64 {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.estimate == nil {
		return 0
	}
	return qc.estimate(n)
}

func (qc *QueryContext) addSubquery(r fedsparql.SubqueryReport) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.report != nil {
		qc.report.Subqueries = append(qc.report.Subqueries, r)
	}
}

// Note records a diagnostic message in the report.
func (qc *QueryContext) Note(format string, args ...any) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.report != nil {
		qc.report.Notes = append(qc.report.Notes, fmt.Sprintf(format, args...))
	}
}

// SetTiming records a stage duration in milliseconds.
func (qc *QueryContext) SetTiming(stage string, ms int64) {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.report != nil {
		qc.report.Timings[stage] = ms
	}
}

// Report returns a copy of the execution report, or nil when reporting is
// off.
func (qc *QueryContext) Report() *fedsparql.ExecutionReport {
	qc.mu.Lock()
	defer qc.mu.Unlock()
	if qc.report == nil {
		return nil
	}
	out := *qc.report
	out.Subqueries = append([]fedsparql.SubqueryReport(nil), qc.report.Subqueries...)
	out.Notes = append([]string(nil), qc.report.Notes...)
	out.Timings = make(map[string]int64, len(qc.report.Timings))
	for k, v := range qc.report.Timings {
		out.Timings[k] = v
	}
	return &out
}

// Elapsed is the time since the context was created.
func (qc *QueryContext) Elapsed() time.Duration {
	return time.Since(qc.start)
}
