package voidstats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5"
	"github.com/lychee-technology/fedsparql"
	"go.uber.org/zap"
)

// Loader produces a statistics index, typically once at startup.
type Loader interface {
	Load(ctx context.Context) (*Index, error)
}

// FileLoader reads a JSON snapshot from the local filesystem.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) (*Index, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "open statistics snapshot").WithCause(err)
	}
	defer f.Close()
	idx, err := DecodeSnapshot(f)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("Loaded statistics snapshot", "path", l.Path, "datasets", idx.Sources().Len())
	return idx, nil
}

// ObjectGetter is the subset of the S3 client used by S3Loader.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads a JSON snapshot from an S3 object.
type S3Loader struct {
	client ObjectGetter
	bucket string
	key    string
}

// NewS3Loader creates a loader for s3://bucket/key.
func NewS3Loader(client ObjectGetter, bucket, key string) *S3Loader {
	return &S3Loader{client: client, bucket: bucket, key: key}
}

func (l *S3Loader) Load(ctx context.Context) (*Index, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NoSuchBucket") {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable,
				fmt.Sprintf("statistics snapshot s3://%s/%s does not exist", l.bucket, l.key)).WithCause(err)
		}
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "s3 get statistics snapshot").WithCause(err)
	}
	defer out.Body.Close()
	idx, err := DecodeSnapshot(out.Body)
	if err != nil {
		return nil, err
	}
	zap.S().Infow("Loaded statistics snapshot", "bucket", l.bucket, "key", l.key, "datasets", idx.Sources().Len())
	return idx, nil
}

// Querier is the subset of a pgx pool used by PostgresLoader.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Default catalog table names.
const (
	DefaultDatasetTable   = "void_dataset"
	DefaultPartitionTable = "void_partition"
)

// Partition kinds stored in the partition table.
const (
	KindProperty = "property"
	KindClass    = "class"
)

// PostgresLoader reads statistics from a relational catalog with one row per
// dataset and one row per partition.
type PostgresLoader struct {
	db             Querier
	datasetTable   string
	partitionTable string
}

// NewPostgresLoader creates a loader; empty table names use the defaults.
func NewPostgresLoader(db Querier, datasetTable, partitionTable string) *PostgresLoader {
	datasetTable, partitionTable = tableNames(datasetTable, partitionTable)
	return &PostgresLoader{db: db, datasetTable: datasetTable, partitionTable: partitionTable}
}

func (l *PostgresLoader) Load(ctx context.Context) (*Index, error) {
	datasets, order, err := l.loadDatasets(ctx)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "load datasets").WithCause(err)
	}
	if err := l.loadPartitions(ctx, datasets); err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "load partitions").WithCause(err)
	}

	b := NewBuilder()
	for _, endpoint := range order {
		b.Add(*datasets[endpoint])
	}
	idx, err := b.Build()
	if err != nil {
		return nil, err
	}
	zap.S().Infow("Loaded statistics catalog", "table", l.datasetTable, "datasets", idx.Sources().Len())
	return idx, nil
}

func (l *PostgresLoader) loadDatasets(ctx context.Context) (map[string]*Dataset, []string, error) {
	query := fmt.Sprintf("SELECT endpoint, triples, distinct_subjects, distinct_objects, properties, entities FROM %s ORDER BY endpoint", l.datasetTable)
	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	defer rows.Close()

	datasets := make(map[string]*Dataset)
	var order []string
	for rows.Next() {
		ds := &Dataset{
			PropertyPartitions: map[string]Partition{},
			ClassPartitions:    map[string]Partition{},
		}
		if err := rows.Scan(&ds.Endpoint, &ds.Triples, &ds.DistinctSubjects, &ds.DistinctObjects, &ds.Properties, &ds.Entities); err != nil {
			return nil, nil, fmt.Errorf("failed to scan dataset row: %w", err)
		}
		datasets[ds.Endpoint] = ds
		order = append(order, ds.Endpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating dataset rows: %w", err)
	}
	if len(datasets) == 0 {
		return nil, nil, fmt.Errorf("no datasets found in %s", l.datasetTable)
	}
	return datasets, order, nil
}

func (l *PostgresLoader) loadPartitions(ctx context.Context, datasets map[string]*Dataset) error {
	query := fmt.Sprintf("SELECT endpoint, kind, iri, triples, distinct_subjects, distinct_objects, entities FROM %s ORDER BY endpoint, kind, iri", l.partitionTable)
	rows, err := l.db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query partitions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint, kind, iri string
		var p Partition
		if err := rows.Scan(&endpoint, &kind, &iri, &p.Triples, &p.DistinctSubjects, &p.DistinctObjects, &p.Entities); err != nil {
			return fmt.Errorf("failed to scan partition row: %w", err)
		}
		ds, ok := datasets[endpoint]
		if !ok {
			zap.S().Warnw("partition for unknown dataset; skipping", "endpoint", endpoint, "iri", iri)
			continue
		}
		switch kind {
		case KindProperty:
			ds.PropertyPartitions[iri] = p
		case KindClass:
			ds.ClassPartitions[iri] = p
		default:
			return fmt.Errorf("unknown partition kind %q for %s", kind, iri)
		}
	}
	return rows.Err()
}

func sortedKeys(m map[string]Partition) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
