package voidstats

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/fedsparql"
)

// snapshotSchema describes the JSON statistics snapshot: VOID dataset
// descriptions already extracted from their RDF form.
const snapshotSchema = `{
  "type": "object",
  "required": ["datasets"],
  "properties": {
    "datasets": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["sparqlEndpoint", "triples"],
        "properties": {
          "sparqlEndpoint": {"type": "string", "minLength": 1},
          "triples": {"type": "number", "minimum": 0},
          "distinctSubjects": {"type": "number", "minimum": 0},
          "distinctObjects": {"type": "number", "minimum": 0},
          "properties": {"type": "number", "minimum": 0},
          "entities": {"type": "number", "minimum": 0},
          "propertyPartition": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["property", "triples"],
              "properties": {
                "property": {"type": "string", "minLength": 1},
                "triples": {"type": "number", "minimum": 0},
                "distinctSubjects": {"type": "number", "minimum": 0},
                "distinctObjects": {"type": "number", "minimum": 0},
                "entities": {"type": "number", "minimum": 0}
              }
            }
          },
          "classPartition": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["class"],
              "properties": {
                "class": {"type": "string", "minLength": 1},
                "triples": {"type": "number", "minimum": 0},
                "distinctSubjects": {"type": "number", "minimum": 0},
                "distinctObjects": {"type": "number", "minimum": 0},
                "entities": {"type": "number", "minimum": 0}
              }
            }
          }
        }
      }
    }
  }
}`

type snapshotDoc struct {
	Datasets []snapshotDataset `json:"datasets"`
}

type snapshotDataset struct {
	Dataset
	PropertyPartition []snapshotPartition `json:"propertyPartition,omitempty"`
	ClassPartition    []snapshotPartition `json:"classPartition,omitempty"`
}

type snapshotPartition struct {
	Property string `json:"property,omitempty"`
	Class    string `json:"class,omitempty"`
	Partition
}

var (
	schemaOnce     sync.Once
	resolvedSchema *jsonschema.Resolved
	schemaErr      error
)

func snapshotValidator() (*jsonschema.Resolved, error) {
	schemaOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(snapshotSchema), &schema); err != nil {
			schemaErr = fmt.Errorf("failed to unmarshal snapshot schema: %w", err)
			return
		}
		resolvedSchema, schemaErr = schema.Resolve(&jsonschema.ResolveOptions{})
	})
	return resolvedSchema, schemaErr
}

// DecodeSnapshot reads and validates a JSON snapshot and builds the index.
func DecodeSnapshot(r io.Reader) (*Index, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot validates snapshot bytes against the snapshot schema and
// builds the index.
func ParseSnapshot(data []byte) (*Index, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidStatistics, "snapshot is not valid JSON").WithCause(err)
	}
	resolved, err := snapshotValidator()
	if err != nil {
		return nil, fedsparql.NewInternalError(fedsparql.ErrCodeInternalError, "snapshot schema").WithCause(err)
	}
	if err := resolved.Validate(generic); err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidStatistics, "snapshot validation failed").WithCause(err)
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidStatistics, "decode snapshot").WithCause(err)
	}
	b := NewBuilder()
	for _, sd := range doc.Datasets {
		ds := sd.Dataset
		ds.PropertyPartitions = make(map[string]Partition, len(sd.PropertyPartition))
		for _, p := range sd.PropertyPartition {
			ds.PropertyPartitions[p.Property] = p.Partition
		}
		ds.ClassPartitions = make(map[string]Partition, len(sd.ClassPartition))
		for _, p := range sd.ClassPartition {
			ds.ClassPartitions[p.Class] = p.Partition
		}
		b.Add(ds)
	}
	return b.Build()
}

// EncodeSnapshot writes the index in snapshot form.
func EncodeSnapshot(w io.Writer, idx *Index) error {
	doc := snapshotDoc{Datasets: make([]snapshotDataset, 0, len(idx.sources))}
	for _, ds := range idx.Datasets() {
		sd := snapshotDataset{Dataset: ds}
		for _, p := range sortedKeys(ds.PropertyPartitions) {
			sd.PropertyPartition = append(sd.PropertyPartition, snapshotPartition{Property: p, Partition: ds.PropertyPartitions[p]})
		}
		for _, c := range sortedKeys(ds.ClassPartitions) {
			sd.ClassPartition = append(sd.ClassPartition, snapshotPartition{Class: c, Partition: ds.ClassPartitions[c]})
		}
		doc.Datasets = append(doc.Datasets, sd)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
