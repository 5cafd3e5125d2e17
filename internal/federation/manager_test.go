package federation

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/engine"
	"github.com/lychee-technology/fedsparql/internal/estimator"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/optimizer"
	"github.com/lychee-technology/fedsparql/internal/remote"
	"github.com/lychee-technology/fedsparql/internal/selector"
	"github.com/lychee-technology/fedsparql/internal/sparqltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	people, names, other *sparqltest.Endpoint
	fed                  *Manager
}

func newFixture(t *testing.T, mutate func(*fedsparql.Config)) *fixture {
	t.Helper()
	f := &fixture{
		people: sparqltest.NewEndpoint(t,
			sparqltest.T("<http://e/alice>", "foaf:knows", "<http://e/bob>"),
			sparqltest.T("<http://e/alice>", "foaf:knows", "<http://e/carol>"),
		),
		names: sparqltest.NewEndpoint(t,
			sparqltest.T("<http://e/bob>", "foaf:name", `"Bob"`),
			sparqltest.T("<http://e/carol>", "foaf:name", `"Carol"`),
			sparqltest.T("<http://e/erin>", "foaf:name", `"Erin"`),
		),
		other: sparqltest.NewEndpoint(t,
			sparqltest.T("<http://e/x>", "rdfs:label", `"unrelated"`),
		),
	}

	cfg := fedsparql.DefaultConfig()
	cfg.Federation.Members = []fedsparql.MemberConfig{
		{Name: "people", Endpoint: f.people.Source.Endpoint},
		{Name: "names", Endpoint: f.names.Source.Endpoint},
		{Name: "other", Endpoint: f.other.Source.Endpoint},
	}
	cfg.Remote.Timeout = 5 * time.Second
	cfg.Evaluation.IncludeExecutionReport = true
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	client := remote.NewClient(cfg.Remote)
	sel, err := selector.New(cfg.Selector, cfg.Evaluation.FailurePolicy, cfg.Sources(), client, nil)
	require.NoError(t, err)
	est, err := estimator.New(cfg.Estimator, cfg.Cost, nil, client)
	require.NoError(t, err)
	opt, err := optimizer.New(cfg.Optimizer, sel, est)
	require.NoError(t, err)
	eng, err := engine.New(cfg.Evaluation, client)
	require.NoError(t, err)
	f.fed = New(cfg.Sources(), sel, opt, eng, cfg.Evaluation.IncludeExecutionReport)
	return f
}

func pattern(t *testing.T, s, p, o string) fedsparql.TriplePattern {
	t.Helper()
	tp, err := fedsparql.ParsePattern(s, p, o)
	require.NoError(t, err)
	return tp
}

func friendsQuery(t *testing.T) *fedsparql.Query {
	return &fedsparql.Query{Where: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{
		pattern(t, "?x", "foaf:knows", "?y"),
		pattern(t, "?y", "foaf:name", "?n"),
	}}}
}

func TestMapSourcesAsksEveryMember(t *testing.T) {
	f := newFixture(t, nil)
	q := friendsQuery(t)

	mapped, err := f.fed.MapSources(context.Background(), q.Where.(*fedsparql.BGP).Patterns)
	require.NoError(t, err)
	require.Len(t, mapped, 2)
	assert.True(t, mapped[0].Sources.Equal(fedsparql.NewSourceSet(f.people.Source)))
	assert.True(t, mapped[1].Sources.Equal(fedsparql.NewSourceSet(f.names.Source)))
	assert.Len(t, f.other.Queries(), 2)
	assert.Equal(t, 3, f.fed.Sources().Len())
}

func TestExecuteJoinsAcrossSources(t *testing.T) {
	for _, strategy := range []fedsparql.OptimizerStrategy{fedsparql.OptimizerDynamicProgramming, fedsparql.OptimizerPatternHeuristic} {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, func(cfg *fedsparql.Config) { cfg.Optimizer.Strategy = strategy })

			it, err := f.fed.Execute(context.Background(), friendsQuery(t))
			require.NoError(t, err)
			rows, err := iter.Collect(it)
			require.NoError(t, err)

			var names []string
			for _, r := range rows {
				names = append(names, r["n"].Value)
			}
			assert.ElementsMatch(t, []string{"Bob", "Carol"}, names)
			assert.Empty(t, f.other.Selects())
		})
	}
}

func TestExecuteWithBindJoin(t *testing.T) {
	f := newFixture(t, func(cfg *fedsparql.Config) {
		cfg.Optimizer.UseHashJoin = false
		cfg.Optimizer.UseBindJoin = true
	})

	it, err := f.fed.Execute(context.Background(), friendsQuery(t))
	require.NoError(t, err)
	rows, err := iter.Collect(it)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	var values int
	for _, q := range append(f.people.Selects(), f.names.Selects()...) {
		if strings.Contains(q, "VALUES") {
			values++
		}
	}
	assert.Equal(t, 1, values)
}

func TestExecuteReport(t *testing.T) {
	f := newFixture(t, nil)
	it, err := f.fed.Execute(context.Background(), friendsQuery(t))
	require.NoError(t, err)
	_, err = iter.Collect(it)
	require.NoError(t, err)

	rep, ok := it.(fedsparql.Reporter)
	require.True(t, ok)
	report := rep.Report()
	require.NotNil(t, report)
	assert.Len(t, report.Subqueries, 2)
	assert.Contains(t, report.Timings, "optimize")
	assert.Contains(t, report.Timings, "total")
}

func TestExplainOptimizesFirst(t *testing.T) {
	f := newFixture(t, nil)
	q := friendsQuery(t)

	out, err := f.fed.Explain(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Join algo=hash exec=local"), out)
	assert.Equal(t, 2, strings.Count(out, "AccessPlan sources="))
	_, ok := q.Where.(*fedsparql.Join)
	assert.True(t, ok)
}

func TestExecuteRejectsCrossProduct(t *testing.T) {
	f := newFixture(t, nil)
	q := &fedsparql.Query{Where: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{
		pattern(t, "?x", "foaf:knows", "?y"),
		pattern(t, "?u", "foaf:name", "?n"),
	}}}

	_, err := f.fed.Execute(context.Background(), q)
	require.Error(t, err)
	assert.True(t, fedsparql.IsUnsupportedQueryShape(err))
}

func TestExecuteIgnoresFailuresInOptionalBranch(t *testing.T) {
	f := newFixture(t, nil)
	q := &fedsparql.Query{Where: &fedsparql.LeftJoin{
		Left: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{pattern(t, "?x", "foaf:knows", "?y")}},
		Right: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{
			pattern(t, "?x", "foaf:knows", "?y"),
			pattern(t, "?u", "foaf:name", "?n"),
		}},
	}}

	it, err := f.fed.Execute(context.Background(), q)
	require.NoError(t, err)
	rows, err := iter.Collect(it)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExecuteSourceFailure(t *testing.T) {
	t.Run("abort", func(t *testing.T) {
		f := newFixture(t, nil)
		q := friendsQuery(t)
		require.NoError(t, f.fed.Optimize(context.Background(), q))
		f.names.FailWith(http.StatusServiceUnavailable)

		it, err := f.fed.Execute(context.Background(), q)
		require.NoError(t, err)
		_, err = iter.Collect(it)
		require.Error(t, err)
		assert.True(t, fedsparql.IsSourceUnreachable(err))
	})

	t.Run("drop_source", func(t *testing.T) {
		f := newFixture(t, func(cfg *fedsparql.Config) {
			cfg.Evaluation.FailurePolicy = fedsparql.FailurePolicyDropSource
		})
		q := &fedsparql.Query{Where: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{
			pattern(t, "?y", "foaf:name", "?n"),
		}}}
		f.other.FailWith(http.StatusServiceUnavailable)

		it, err := f.fed.Execute(context.Background(), q)
		require.NoError(t, err)
		rows, err := iter.Collect(it)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}
