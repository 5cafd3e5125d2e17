package selector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/sparqlgen"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ex        = "http://example.org/"
	foafKnows = "http://xmlns.com/foaf/0.1/knows"
	foafName  = "http://xmlns.com/foaf/0.1/name"
	person    = ex + "Person"
)

var (
	src1 = fedsparql.NewSource("http://one.example/sparql")
	src2 = fedsparql.NewSource("http://two.example/sparql")
	src3 = fedsparql.NewSource("http://three.example/sparql")
	all  = fedsparql.NewSourceSet(src1, src2, src3)
)

// fakeAsker answers ASK queries per endpoint. A query matches when it
// contains the needle registered for the endpoint.
type fakeAsker struct {
	mu      sync.Mutex
	answers map[string][]string
	fail    map[string]error
	calls   atomic.Int64
}

func (f *fakeAsker) Ask(ctx context.Context, src fedsparql.Source, query string) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[src.Endpoint]; err != nil {
		return false, err
	}
	for _, needle := range f.answers[src.Endpoint] {
		if strings.Contains(query, needle) {
			return true, nil
		}
	}
	return false, nil
}

func tp(s, p, o fedsparql.Term) fedsparql.TriplePattern {
	return fedsparql.NewTriplePattern(s, p, o)
}

func v(name string) fedsparql.Term { return fedsparql.Var(name) }
func iri(s string) fedsparql.Term  { return fedsparql.IRI(s) }

func askConfig() fedsparql.SelectorConfig {
	return fedsparql.SelectorConfig{Strategy: fedsparql.SelectorASK, AskParallelism: 4}
}

func TestAskSelectsAnsweringSources(t *testing.T) {
	asker := &fakeAsker{answers: map[string][]string{
		src1.Endpoint: {"<" + person + ">"},
		src3.Endpoint: {"<" + person + ">"},
	}}
	s, err := New(askConfig(), fedsparql.FailurePolicyAbort, all, asker, nil)
	require.NoError(t, err)

	pattern := tp(v("x"), iri(fedsparql.RDFType), iri(person))
	mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{pattern})
	require.NoError(t, err)

	require.Len(t, mapped, 1)
	assert.Equal(t, fedsparql.NewSourceSet(src1, src3), mapped[0].Sources)
	assert.Equal(t, []fedsparql.TriplePattern{pattern}, mapped[0].Patterns)
}

func TestAskSharesLookupAcrossVariableNames(t *testing.T) {
	asker := &fakeAsker{answers: map[string][]string{src2.Endpoint: {foafKnows}}}
	s, err := New(askConfig(), fedsparql.FailurePolicyAbort, all, asker, nil)
	require.NoError(t, err)

	p1 := tp(v("a"), iri(foafKnows), iri(ex+"bob"))
	p2 := tp(v("b"), iri(foafKnows), iri(ex+"bob"))
	mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{p1, p2})
	require.NoError(t, err)

	assert.Equal(t, int64(3), asker.calls.Load(), "one ASK per source for the shared lookup")
	require.Len(t, mapped, 2)
	assert.Equal(t, p1, mapped[0].Patterns[0])
	assert.Equal(t, p2, mapped[1].Patterns[0])
	assert.Equal(t, fedsparql.NewSourceSet(src2), mapped[1].Sources)
}

func TestAskFailurePolicy(t *testing.T) {
	boom := fedsparql.NewSourceUnreachableError(src2, fedsparql.ErrCodeConnectionFailed, errors.New("connection refused"))
	pattern := tp(v("x"), iri(foafName), v("n"))

	t.Run("abort", func(t *testing.T) {
		asker := &fakeAsker{
			answers: map[string][]string{src1.Endpoint: {foafName}},
			fail:    map[string]error{src2.Endpoint: boom},
		}
		s, err := New(askConfig(), fedsparql.FailurePolicyAbort, all, asker, nil)
		require.NoError(t, err)
		_, err = s.MapSources(context.Background(), []fedsparql.TriplePattern{pattern})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("drop source", func(t *testing.T) {
		asker := &fakeAsker{
			answers: map[string][]string{src1.Endpoint: {foafName}, src2.Endpoint: {foafName}},
			fail:    map[string]error{src2.Endpoint: boom},
		}
		s, err := New(askConfig(), fedsparql.FailurePolicyDropSource, all, asker, nil)
		require.NoError(t, err)
		mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{pattern})
		require.NoError(t, err)
		require.Len(t, mapped, 1)
		assert.Equal(t, fedsparql.NewSourceSet(src1), mapped[0].Sources)
	})

	t.Run("drop source keeps rejected queries fatal", func(t *testing.T) {
		rejected := fedsparql.NewMalformedSubqueryError(src2, sparqlgen.Ask(pattern), "endpoint rejected query")
		asker := &fakeAsker{
			answers: map[string][]string{src1.Endpoint: {foafName}},
			fail:    map[string]error{src2.Endpoint: rejected},
		}
		s, err := New(askConfig(), fedsparql.FailurePolicyDropSource, all, asker, nil)
		require.NoError(t, err)
		_, err = s.MapSources(context.Background(), []fedsparql.TriplePattern{pattern})
		require.Error(t, err)
		assert.True(t, fedsparql.IsMalformedSubquery(err))
	})
}

func TestEmptySourceSetIsDropped(t *testing.T) {
	asker := &fakeAsker{answers: map[string][]string{src1.Endpoint: {foafKnows}}}
	s, err := New(askConfig(), fedsparql.FailurePolicyAbort, all, asker, nil)
	require.NoError(t, err)

	known := tp(v("x"), iri(foafKnows), v("y"))
	unknown := tp(v("y"), iri(ex+"nowhere"), v("z"))
	mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{known, unknown})
	require.NoError(t, err)

	require.Len(t, mapped, 1)
	assert.Equal(t, known, mapped[0].Patterns[0])
}

func TestGroupBySourceMergesConnectedPatterns(t *testing.T) {
	asker := &fakeAsker{answers: map[string][]string{src1.Endpoint: {ex + "p1", ex + "p2", ex + "p3"}}}
	cfg := askConfig()
	cfg.GroupBySource = true
	s, err := New(cfg, fedsparql.FailurePolicyAbort, all, asker, nil)
	require.NoError(t, err)

	p1 := tp(v("x"), iri(ex+"p1"), v("y"))
	p2 := tp(v("y"), iri(ex+"p2"), v("z"))
	p3 := tp(v("u"), iri(ex+"p3"), v("w")) // same source, disconnected
	mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{p1, p2, p3})
	require.NoError(t, err)

	require.Len(t, mapped, 2)
	assert.Equal(t, []fedsparql.TriplePattern{p1, p2}, mapped[0].Patterns)
	assert.Equal(t, []fedsparql.TriplePattern{p3}, mapped[1].Patterns)
	assert.Equal(t, fedsparql.NewSourceSet(src1), mapped[0].Sources)
}

func TestGroupBySameAs(t *testing.T) {
	knows := tp(v("x"), iri(foafKnows), v("y"))
	name := tp(v("z"), iri(foafName), v("n"))
	sameAs := tp(v("x"), iri(fedsparql.OWLSameAs), v("other"))

	t.Run("absorbed into covering group", func(t *testing.T) {
		mapped := groupBySameAs([]fedsparql.MappedPattern{
			{Patterns: []fedsparql.TriplePattern{knows}, Sources: fedsparql.NewSourceSet(src1, src2)},
			{Patterns: []fedsparql.TriplePattern{name}, Sources: fedsparql.NewSourceSet(src1, src2)},
			{Patterns: []fedsparql.TriplePattern{sameAs}, Sources: fedsparql.NewSourceSet(src1)},
		})
		require.Len(t, mapped, 2)
		assert.Equal(t, []fedsparql.TriplePattern{knows, sameAs}, mapped[0].Patterns)
		assert.Equal(t, []fedsparql.TriplePattern{name}, mapped[1].Patterns)
	})

	t.Run("stays alone without superset", func(t *testing.T) {
		mapped := groupBySameAs([]fedsparql.MappedPattern{
			{Patterns: []fedsparql.TriplePattern{knows}, Sources: fedsparql.NewSourceSet(src1)},
			{Patterns: []fedsparql.TriplePattern{sameAs}, Sources: fedsparql.NewSourceSet(src1, src3)},
		})
		require.Len(t, mapped, 2)
		assert.Equal(t, []fedsparql.TriplePattern{sameAs}, mapped[1].Patterns)
	})
}

func TestStatisticsSelector(t *testing.T) {
	idx, err := voidstats.NewBuilder().
		Add(voidstats.Dataset{
			Endpoint:           src1.Endpoint,
			Triples:            10,
			PropertyPartitions: map[string]voidstats.Partition{foafKnows: {Triples: 5}, fedsparql.RDFType: {Triples: 2}},
			ClassPartitions:    map[string]voidstats.Partition{person: {Entities: 2}},
		}).
		Add(voidstats.Dataset{
			Endpoint:           src2.Endpoint,
			Triples:            10,
			PropertyPartitions: map[string]voidstats.Partition{fedsparql.RDFType: {Triples: 4}},
		}).
		Add(voidstats.Dataset{
			Endpoint:           src3.Endpoint,
			Triples:            10,
			PropertyPartitions: map[string]voidstats.Partition{foafKnows: {Triples: 7}},
		}).
		Build()
	require.NoError(t, err)

	cfg := fedsparql.SelectorConfig{Strategy: fedsparql.SelectorStatistics, UseTypeStats: true}
	s, err := New(cfg, fedsparql.FailurePolicyAbort, all, nil, idx)
	require.NoError(t, err)

	knows := tp(v("x"), iri(foafKnows), v("y"))
	typed := tp(v("x"), iri(fedsparql.RDFType), iri(person))
	mapped, err := s.MapSources(context.Background(), []fedsparql.TriplePattern{knows, typed})
	require.NoError(t, err)

	require.Len(t, mapped, 2)
	assert.Equal(t, fedsparql.NewSourceSet(src1, src3), mapped[0].Sources)
	assert.Equal(t, fedsparql.NewSourceSet(src1), mapped[1].Sources)

	// Members outside the configured federation are ignored.
	s, err = New(cfg, fedsparql.FailurePolicyAbort, fedsparql.NewSourceSet(src3), nil, idx)
	require.NoError(t, err)
	mapped, err = s.MapSources(context.Background(), []fedsparql.TriplePattern{knows})
	require.NoError(t, err)
	require.Len(t, mapped, 1)
	assert.Equal(t, fedsparql.NewSourceSet(src3), mapped[0].Sources)
}

func TestNewValidatesCollaborators(t *testing.T) {
	_, err := New(askConfig(), fedsparql.FailurePolicyAbort, all, nil, nil)
	assert.True(t, fedsparql.IsConfigurationError(err))

	_, err = New(fedsparql.SelectorConfig{Strategy: fedsparql.SelectorStatistics}, fedsparql.FailurePolicyAbort, all, nil, nil)
	assert.True(t, fedsparql.IsConfigurationError(err))

	_, err = New(fedsparql.SelectorConfig{Strategy: "GUESS"}, fedsparql.FailurePolicyAbort, all, nil, nil)
	assert.True(t, fedsparql.IsConfigurationError(err))
}
