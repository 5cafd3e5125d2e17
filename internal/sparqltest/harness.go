package sparqltest

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/remote"
)

// Endpoint is a SPARQL protocol server over a fixed set of triples.
type Endpoint struct {
	Server *httptest.Server
	Source fedsparql.Source

	mu      sync.Mutex
	triples []Triple
	queries []string
	status  int
}

// NewEndpoint starts an endpoint serving triples at <server>/sparql. It is
// shut down when the test ends.
func NewEndpoint(tb testing.TB, triples ...Triple) *Endpoint {
	tb.Helper()
	e := &Endpoint{triples: triples}
	e.Server = httptest.NewServer(http.HandlerFunc(e.serve))
	e.Source = fedsparql.NewSource(e.Server.URL + "/sparql")
	tb.Cleanup(e.Server.Close)
	return e
}

// FailWith makes every following request answer with status; 0 restores
// normal operation.
func (e *Endpoint) FailWith(status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = status
}

// Queries returns the query texts received so far.
func (e *Endpoint) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.queries...)
}

// Selects returns the received SELECT queries, excluding COUNT queries.
func (e *Endpoint) Selects() []string {
	var out []string
	for _, q := range e.Queries() {
		if parsed, err := parseQuery(q); err == nil && parsed.form == formSelect {
			out = append(out, q)
		}
	}
	return out
}

func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.Form.Get("query")

	e.mu.Lock()
	e.queries = append(e.queries, query)
	status, triples := e.status, e.triples
	e.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	q, err := parseQuery(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := evaluate(q, triples)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", remote.MediaTypeResults)
	switch q.form {
	case formAsk:
		_ = remote.WriteBoolean(w, len(rows) > 0)
	case formCount:
		count := fedsparql.TypedLiteral(strconv.Itoa(len(rows)), fedsparql.DefaultPrefixes["xsd"]+"integer")
		_ = remote.WriteResults(w, []string{"count"}, []fedsparql.BindingSet{{"count": count}})
	default:
		_ = remote.WriteResults(w, vars(q.patterns), rows)
	}
}

func vars(patterns []fedsparql.TriplePattern) []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range patterns {
		for _, v := range p.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
