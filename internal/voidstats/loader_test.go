package voidstats

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/lychee-technology/fedsparql"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

func TestFileLoader(t *testing.T) {
	idx, err := FileLoader{Path: filepath.Join("testdata", "void.json")}.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, idx.Sources().Len())
	assert.Equal(t, int64(4000), idx.PredicateCard(srcA, foafKnows))
	assert.Equal(t, int64(1500), idx.TypeCard(srcA, foafPerson))
	assert.Equal(t, int64(1), idx.DistinctPredicates(srcB), "derived from partitions")

	// Scenario: :knows partitions exist only on A and C.
	assert.Equal(t, fedsparql.NewSourceSet(srcA, srcC), idx.FindSources(fedsparql.IRI(foafKnows), fedsparql.Var("o"), true))
}

func TestFileLoaderMissingFile(t *testing.T) {
	_, err := FileLoader{Path: filepath.Join(t.TempDir(), "nope.json")}.Load(context.Background())
	require.Error(t, err)
	assert.True(t, fedsparql.IsConfigurationError(err))
}

func TestParseSnapshotValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"datasets": [`},
		{"missing datasets", `{}`},
		{"missing endpoint", `{"datasets": [{"triples": 1}]}`},
		{"negative triples", `{"datasets": [{"sparqlEndpoint": "http://a", "triples": -3}]}`},
		{"partition without property", `{"datasets": [{"sparqlEndpoint": "http://a", "triples": 3, "propertyPartition": [{"triples": 1}]}]}`},
		{"string count", `{"datasets": [{"sparqlEndpoint": "http://a", "triples": "many"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSnapshot([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, fedsparql.IsConfigurationError(err), "got %v", err)
		})
	}
}

func TestEncodeSnapshotParsesBack(t *testing.T) {
	idx := testIndex(t)
	var buf bytes.Buffer
	require.NoError(t, EncodeSnapshot(&buf, idx))

	again, err := DecodeSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.Datasets(), again.Datasets())
}

// ---------------------------------------------------------------------------
// S3
// ---------------------------------------------------------------------------

type fakeObjects struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Loader(t *testing.T) {
	objects := &fakeObjects{body: `{"datasets":[{"sparqlEndpoint":"http://a.example/sparql","triples":12}]}`}
	idx, err := NewS3Loader(objects, "stats-bucket", "void/latest.json").Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stats-bucket", *objects.input.Bucket)
	assert.Equal(t, "void/latest.json", *objects.input.Key)
	assert.Equal(t, int64(12), idx.Size(srcA))
}

func TestS3LoaderMissingObject(t *testing.T) {
	objects := &fakeObjects{err: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}}
	_, err := NewS3Loader(objects, "stats-bucket", "void/latest.json").Load(context.Background())
	require.Error(t, err)
	assert.True(t, fedsparql.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "does not exist")

	var apiErr smithy.APIError
	assert.True(t, errors.As(err, &apiErr))
}

// ---------------------------------------------------------------------------
// Postgres catalog using pgxmock
// ---------------------------------------------------------------------------

var (
	datasetQuery   = regexp.QuoteMeta("SELECT endpoint, triples, distinct_subjects, distinct_objects, properties, entities FROM void_dataset ORDER BY endpoint")
	partitionQuery = regexp.QuoteMeta("SELECT endpoint, kind, iri, triples, distinct_subjects, distinct_objects, entities FROM void_partition ORDER BY endpoint, kind, iri")
)

func TestPostgresLoader_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(datasetQuery).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "triples", "distinct_subjects", "distinct_objects", "properties", "entities"}).
			AddRow(srcA.Endpoint, int64(1000), int64(100), int64(400), int64(0), int64(100)).
			AddRow(srcC.Endpoint, int64(700), int64(70), int64(70), int64(1), int64(0)))
	mock.ExpectQuery(partitionQuery).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "kind", "iri", "triples", "distinct_subjects", "distinct_objects", "entities"}).
			AddRow(srcA.Endpoint, KindClass, foafPerson, int64(0), int64(0), int64(0), int64(90)).
			AddRow(srcA.Endpoint, KindProperty, foafKnows, int64(300), int64(80), int64(60), int64(0)).
			AddRow(srcC.Endpoint, KindProperty, foafKnows, int64(200), int64(50), int64(50), int64(0)).
			AddRow("http://orphan/sparql", KindProperty, foafName, int64(1), int64(1), int64(1), int64(0)))

	idx, err := NewPostgresLoader(mock, "", "").Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, fedsparql.NewSourceSet(srcA, srcC), idx.Sources())
	assert.Equal(t, int64(300), idx.PredicateCard(srcA, foafKnows))
	assert.Equal(t, int64(90), idx.TypeCard(srcA, foafPerson))
	assert.Equal(t, fedsparql.NewSourceSet(srcA, srcC), idx.FindSources(fedsparql.IRI(foafKnows), fedsparql.Var("o"), false))
}

func TestPostgresLoader_NoDatasets(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(datasetQuery).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "triples", "distinct_subjects", "distinct_objects", "properties", "entities"}))

	_, err = NewPostgresLoader(mock, "", "").Load(context.Background())
	require.Error(t, err)
	assert.True(t, fedsparql.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no datasets found")
}

func TestPostgresLoader_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM stats_ds")).WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgresLoader(mock, "stats_ds", "stats_part").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestPostgresLoader_UnknownKind(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(datasetQuery).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "triples", "distinct_subjects", "distinct_objects", "properties", "entities"}).
			AddRow(srcA.Endpoint, int64(1), int64(1), int64(1), int64(1), int64(1)))
	mock.ExpectQuery(partitionQuery).WillReturnRows(
		pgxmock.NewRows([]string{"endpoint", "kind", "iri", "triples", "distinct_subjects", "distinct_objects", "entities"}).
			AddRow(srcA.Endpoint, "graph", "http://g", int64(1), int64(1), int64(1), int64(1)))

	_, err = NewPostgresLoader(mock, "", "").Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown partition kind "graph"`)
}
