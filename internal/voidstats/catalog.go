package voidstats

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Execer is the subset of a pgx pool or transaction used to write the
// catalog.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// CreateCatalog creates the dataset and partition tables read by
// PostgresLoader. Empty table names use the defaults.
func CreateCatalog(ctx context.Context, db Execer, datasetTable, partitionTable string) error {
	datasetTable, partitionTable = tableNames(datasetTable, partitionTable)

	ddlDataset := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		endpoint          TEXT PRIMARY KEY,
		triples           BIGINT NOT NULL,
		distinct_subjects BIGINT NOT NULL DEFAULT 0,
		distinct_objects  BIGINT NOT NULL DEFAULT 0,
		properties        BIGINT NOT NULL DEFAULT 0,
		entities          BIGINT NOT NULL DEFAULT 0
	)`, datasetTable)
	if _, err := db.Exec(ctx, ddlDataset); err != nil {
		return fmt.Errorf("ensure dataset table: %w", err)
	}

	ddlPartition := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		endpoint          TEXT NOT NULL REFERENCES %s (endpoint) ON DELETE CASCADE,
		kind              TEXT NOT NULL CHECK (kind IN ('%s', '%s')),
		iri               TEXT NOT NULL,
		triples           BIGINT NOT NULL,
		distinct_subjects BIGINT NOT NULL DEFAULT 0,
		distinct_objects  BIGINT NOT NULL DEFAULT 0,
		entities          BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (endpoint, kind, iri)
	)`, partitionTable, datasetTable, KindProperty, KindClass)
	if _, err := db.Exec(ctx, ddlPartition); err != nil {
		return fmt.Errorf("ensure partition table: %w", err)
	}
	return nil
}

// StoreCatalog upserts every dataset of idx and replaces its partitions. Run
// it inside a transaction to keep readers from seeing a partial dataset.
func StoreCatalog(ctx context.Context, db Execer, idx *Index, datasetTable, partitionTable string) error {
	datasetTable, partitionTable = tableNames(datasetTable, partitionTable)

	upsertDataset := fmt.Sprintf(`INSERT INTO %s (endpoint, triples, distinct_subjects, distinct_objects, properties, entities)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (endpoint) DO UPDATE SET
		triples = EXCLUDED.triples,
		distinct_subjects = EXCLUDED.distinct_subjects,
		distinct_objects = EXCLUDED.distinct_objects,
		properties = EXCLUDED.properties,
		entities = EXCLUDED.entities`, datasetTable)
	deletePartitions := fmt.Sprintf(`DELETE FROM %s WHERE endpoint = $1`, partitionTable)
	insertPartition := fmt.Sprintf(`INSERT INTO %s (endpoint, kind, iri, triples, distinct_subjects, distinct_objects, entities)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`, partitionTable)

	for _, ds := range idx.Datasets() {
		if _, err := db.Exec(ctx, upsertDataset,
			ds.Endpoint, ds.Triples, ds.DistinctSubjects, ds.DistinctObjects, ds.Properties, ds.Entities); err != nil {
			return fmt.Errorf("upsert dataset %s: %w", ds.Endpoint, err)
		}
		if _, err := db.Exec(ctx, deletePartitions, ds.Endpoint); err != nil {
			return fmt.Errorf("clear partitions of %s: %w", ds.Endpoint, err)
		}
		for _, part := range []struct {
			kind       string
			partitions map[string]Partition
		}{
			{KindProperty, ds.PropertyPartitions},
			{KindClass, ds.ClassPartitions},
		} {
			for _, iri := range sortedKeys(part.partitions) {
				p := part.partitions[iri]
				if _, err := db.Exec(ctx, insertPartition,
					ds.Endpoint, part.kind, iri, p.Triples, p.DistinctSubjects, p.DistinctObjects, p.Entities); err != nil {
					return fmt.Errorf("insert %s partition %s of %s: %w", part.kind, iri, ds.Endpoint, err)
				}
			}
		}
		zap.S().Debugw("stored dataset statistics", "endpoint", ds.Endpoint,
			"properties", len(ds.PropertyPartitions), "classes", len(ds.ClassPartitions))
	}
	return nil
}

func tableNames(datasetTable, partitionTable string) (string, string) {
	if datasetTable == "" {
		datasetTable = DefaultDatasetTable
	}
	if partitionTable == "" {
		partitionTable = DefaultPartitionTable
	}
	return datasetTable, partitionTable
}
