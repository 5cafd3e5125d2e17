package factory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/iter"
	"github.com/lychee-technology/fedsparql/internal/sparqltest"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	foafKnows = "http://xmlns.com/foaf/0.1/knows"
	foafName  = "http://xmlns.com/foaf/0.1/name"
)

var tablesQuery = regexp.QuoteMeta("SELECT table_name\nFROM information_schema.tables")

func members(endpoints ...*sparqltest.Endpoint) []fedsparql.MemberConfig {
	out := make([]fedsparql.MemberConfig, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, fedsparql.MemberConfig{Endpoint: e.Source.Endpoint})
	}
	return out
}

func testConfig(endpoints ...*sparqltest.Endpoint) *fedsparql.Config {
	cfg := fedsparql.DefaultConfig()
	cfg.Federation.Members = members(endpoints...)
	cfg.Remote.Timeout = 5 * time.Second
	return cfg
}

func statsFor(t *testing.T, people, names fedsparql.Source) *voidstats.Index {
	t.Helper()
	idx, err := voidstats.NewBuilder().
		Add(voidstats.Dataset{
			Endpoint: people.Endpoint, Triples: 2, DistinctSubjects: 1, DistinctObjects: 2, Properties: 1,
			PropertyPartitions: map[string]voidstats.Partition{foafKnows: {Triples: 2, DistinctSubjects: 1, DistinctObjects: 2}},
		}).
		Add(voidstats.Dataset{
			Endpoint: names.Endpoint, Triples: 2, DistinctSubjects: 2, DistinctObjects: 2, Properties: 1,
			PropertyPartitions: map[string]voidstats.Partition{foafName: {Triples: 2, DistinctSubjects: 2, DistinctObjects: 2}},
		}).
		Build()
	require.NoError(t, err)
	return idx
}

func endpoints(t *testing.T) (*sparqltest.Endpoint, *sparqltest.Endpoint) {
	people := sparqltest.NewEndpoint(t,
		sparqltest.T("<http://e/alice>", "foaf:knows", "<http://e/bob>"),
		sparqltest.T("<http://e/alice>", "foaf:knows", "<http://e/carol>"),
	)
	names := sparqltest.NewEndpoint(t,
		sparqltest.T("<http://e/bob>", "foaf:name", `"Bob"`),
		sparqltest.T("<http://e/carol>", "foaf:name", `"Carol"`),
	)
	return people, names
}

func friends(t *testing.T) *fedsparql.Query {
	t.Helper()
	knows, err := fedsparql.ParsePattern("?x", "foaf:knows", "?y")
	require.NoError(t, err)
	name, err := fedsparql.ParsePattern("?y", "foaf:name", "?n")
	require.NoError(t, err)
	return &fedsparql.Query{Where: &fedsparql.BGP{Patterns: []fedsparql.TriplePattern{knows, name}}}
}

func TestNewFederationWithAskSelection(t *testing.T) {
	people, names := endpoints(t)
	fed, err := NewFederation(testConfig(people, names), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fed.Sources().Len())

	it, err := fed.Execute(context.Background(), friends(t))
	require.NoError(t, err)
	rows, err := iter.Collect(it)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNewFederationWithStatisticsSelection(t *testing.T) {
	people, names := endpoints(t)
	cfg := testConfig(people, names)
	cfg.Selector.Strategy = fedsparql.SelectorStatistics
	cfg.Statistics.Backend = fedsparql.StatisticsBackendFile
	cfg.Statistics.Path = "unused.json"

	fed, err := NewFederation(cfg, statsFor(t, people.Source, names.Source), nil)
	require.NoError(t, err)

	it, err := fed.Execute(context.Background(), friends(t))
	require.NoError(t, err)
	rows, err := iter.Collect(it)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	for _, q := range append(people.Queries(), names.Queries()...) {
		assert.NotContains(t, q, "ASK")
	}
}

func TestNewFederationMembersFromStatistics(t *testing.T) {
	people, names := endpoints(t)
	cfg := testConfig()
	cfg.Selector.Strategy = fedsparql.SelectorStatistics
	cfg.Statistics.Backend = fedsparql.StatisticsBackendFile
	cfg.Statistics.Path = "unused.json"

	fed, err := NewFederation(cfg, statsFor(t, people.Source, names.Source), nil)
	require.NoError(t, err)
	assert.True(t, fed.Sources().Equal(fedsparql.NewSourceSet(people.Source, names.Source)))
}

func TestNewFederationErrors(t *testing.T) {
	t.Run("no members", func(t *testing.T) {
		_, err := NewFederation(testConfig(), nil, nil)
		require.Error(t, err)
		assert.True(t, fedsparql.IsConfigurationError(err))
	})

	t.Run("invalid config", func(t *testing.T) {
		people, _ := endpoints(t)
		cfg := testConfig(people)
		cfg.Optimizer.Strategy = "GENETIC"
		_, err := NewFederation(cfg, nil, nil)
		require.Error(t, err)
		assert.True(t, fedsparql.IsConfigurationError(err))
	})

	t.Run("statistics selector without index", func(t *testing.T) {
		people, _ := endpoints(t)
		cfg := testConfig(people)
		cfg.Selector.Strategy = fedsparql.SelectorStatistics
		cfg.Statistics.Backend = fedsparql.StatisticsBackendFile
		cfg.Statistics.Path = "unused.json"
		_, err := NewFederation(cfg, nil, nil)
		require.Error(t, err)
	})
}

func TestLoadStatisticsFromFile(t *testing.T) {
	people, names := endpoints(t)
	path := filepath.Join(t.TempDir(), "stats.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, voidstats.EncodeSnapshot(f, statsFor(t, people.Source, names.Source)))
	require.NoError(t, f.Close())

	cfg := testConfig(people, names)
	cfg.Statistics.Backend = fedsparql.StatisticsBackendFile
	cfg.Statistics.Path = path
	idx, err := LoadStatistics(context.Background(), cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 2, idx.PredicateCard(people.Source, foafKnows))

	cfg.Statistics.Backend = fedsparql.StatisticsBackendNone
	idx, err = LoadStatistics(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestLoadCatalog(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(tablesQuery).WillReturnRows(
		pgxmock.NewRows([]string{"table_name"}).AddRow("void_dataset").AddRow("void_partition"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM void_dataset ORDER BY endpoint")).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "triples", "distinct_subjects", "distinct_objects", "properties", "entities"}).
			AddRow("http://a.example/sparql", int64(10), int64(5), int64(5), int64(1), int64(0)))
	mock.ExpectQuery(regexp.QuoteMeta("FROM void_partition ORDER BY endpoint, kind, iri")).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "kind", "iri", "triples", "distinct_subjects", "distinct_objects", "entities"}).
			AddRow("http://a.example/sparql", voidstats.KindProperty, foafKnows, int64(10), int64(5), int64(5), int64(0)))

	idx, err := LoadCatalog(context.Background(), mock)
	require.NoError(t, err)
	assert.EqualValues(t, 10, idx.PredicateCard(fedsparql.NewSource("http://a.example/sparql"), foafKnows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCatalogMissingTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(tablesQuery).WillReturnRows(
		pgxmock.NewRows([]string{"table_name"}).AddRow("void_dataset"))

	_, err = LoadCatalog(context.Background(), mock)
	require.Error(t, err)
	assert.True(t, fedsparql.IsConfigurationError(err))
	var fe *fedsparql.FedError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "void_partition", fe.Details["table"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCatalogConnectionFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(tablesQuery).WillReturnError(errors.New("connection refused"))

	_, err = LoadCatalog(context.Background(), mock)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}
