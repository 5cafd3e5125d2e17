package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/remote"
	"go.uber.org/zap"
)

// handleQuery handles POST /api/v1/query and answers with a SPARQL JSON
// results document.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q, err := readQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	it, err := s.federation.Execute(ctx, q)
	if err != nil {
		writeFedError(w, "query failed", err)
		return
	}
	rows, err := iter.Collect(it)
	if err != nil {
		writeFedError(w, "evaluation failed", err)
		return
	}

	if rep, ok := it.(fedsparql.Reporter); ok {
		if report := rep.Report(); report != nil {
			w.Header().Set(headerQueryID, report.QueryID)
			zap.S().Debugw("query report", "queryId", report.QueryID, "subqueries", len(report.Subqueries), "timings", report.Timings, "notes", report.Notes)
		}
	}

	w.Header().Set("Content-Type", remote.MediaTypeResults)
	w.WriteHeader(http.StatusOK)
	if err := remote.WriteResults(w, fedsparql.Vars(q.Where), rows); err != nil {
		zap.S().Warnw("failed to write results", "error", err)
	}
}

// handleExplain handles POST /api/v1/explain
func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q, err := readQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	plan, err := s.federation.Explain(ctx, q)
	if err != nil {
		writeFedError(w, "explain failed", err)
		return
	}
	writeSuccess(w, http.StatusOK, ExplainResponse{Plan: plan})
}

// handleSources handles POST /api/v1/sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req fedsparql.QueryRequest
	if err := readJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return
	}
	patterns, err := req.TriplePatterns()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid query: %v", err))
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	mapped, err := s.federation.MapSources(ctx, patterns)
	if err != nil {
		writeFedError(w, "source selection failed", err)
		return
	}
	writeSuccess(w, http.StatusOK, toSourceMappings(mapped))
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.timeout)
}
