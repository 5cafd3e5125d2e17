// Package telemetry is a lightweight emitter hook layer for the federation
// engine. The default emitter is a no-op; service wiring or tests register a
// real one with RegisterEmitter.
package telemetry

import (
	"context"
	"sync"
)

// Emitter receives one measurement.
type Emitter func(ctx context.Context, name string, labels map[string]string, value any)

// Metric names.
const (
	MetricLatency       = "fed_sparql_latency_ms"
	MetricRowCount      = "fed_sparql_row_count"
	MetricSourceFailure = "fed_sparql_source_failure"
	MetricRequests      = "fed_sparql_remote_requests"
)

var (
	mu   sync.Mutex
	impl Emitter = func(context.Context, string, map[string]string, any) {}
)

// RegisterEmitter installs fn; nil restores the no-op emitter.
func RegisterEmitter(fn Emitter) {
	mu.Lock()
	defer mu.Unlock()
	if fn == nil {
		impl = func(context.Context, string, map[string]string, any) {}
		return
	}
	impl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	mu.Lock()
	fn := impl
	mu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitLatency records the duration of a stage in milliseconds.
// stage is one of "select_sources", "optimize", "evaluate", "remote".
func EmitLatency(ctx context.Context, stage string, ms int64) {
	emit(ctx, MetricLatency, map[string]string{"stage": stage}, ms)
}

// EmitRowCount records rows returned by one source.
func EmitRowCount(ctx context.Context, source string, rows int64) {
	emit(ctx, MetricRowCount, map[string]string{"source": source}, rows)
}

// EmitSourceFailure records a failed request against a source.
func EmitSourceFailure(ctx context.Context, source, kind string) {
	emit(ctx, MetricSourceFailure, map[string]string{"source": source, "kind": kind}, int64(1))
}

// EmitRequest records one remote request of the given query form
// ("select", "ask" or "count").
func EmitRequest(ctx context.Context, source, form string) {
	emit(ctx, MetricRequests, map[string]string{"source": source, "form": form}, int64(1))
}
