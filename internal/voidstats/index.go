// Package voidstats holds per-source VOID statistics: dataset totals plus
// property and class partitions. An Index is immutable after Build and safe
// for concurrent readers.
package voidstats

import (
	"fmt"
	"sort"

	"github.com/lychee-technology/fedsparql"
	"go.uber.org/zap"
)

// Partition is a void:propertyPartition or void:classPartition.
type Partition struct {
	Triples          int64 `json:"triples"`
	DistinctSubjects int64 `json:"distinctSubjects"`
	DistinctObjects  int64 `json:"distinctObjects"`
	Entities         int64 `json:"entities"`
}

// Dataset is the statistics entry of one source.
type Dataset struct {
	Endpoint         string `json:"sparqlEndpoint"`
	Triples          int64  `json:"triples"`
	DistinctSubjects int64  `json:"distinctSubjects"`
	DistinctObjects  int64  `json:"distinctObjects"`
	// Properties is the number of distinct predicates.
	Properties int64 `json:"properties"`
	Entities   int64 `json:"entities"`

	PropertyPartitions map[string]Partition `json:"-"`
	ClassPartitions    map[string]Partition `json:"-"`
}

// Index answers statistics lookups by source.
type Index struct {
	datasets map[string]*Dataset
	sources  fedsparql.SourceSet
}

// Builder collects datasets before an Index is built.
type Builder struct {
	datasets []Dataset
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues a dataset.
func (b *Builder) Add(ds Dataset) *Builder {
	b.datasets = append(b.datasets, ds)
	return b
}

// Build validates the datasets and freezes them into an Index.
func (b *Builder) Build() (*Index, error) {
	idx := &Index{datasets: make(map[string]*Dataset, len(b.datasets))}
	sources := make([]fedsparql.Source, 0, len(b.datasets))
	for i := range b.datasets {
		ds := b.datasets[i]
		if err := validateDataset(&ds); err != nil {
			return nil, err
		}
		if _, dup := idx.datasets[ds.Endpoint]; dup {
			return nil, invalid("duplicate dataset for endpoint " + ds.Endpoint)
		}
		if ds.PropertyPartitions == nil {
			ds.PropertyPartitions = map[string]Partition{}
		}
		if ds.ClassPartitions == nil {
			ds.ClassPartitions = map[string]Partition{}
		}
		if ds.Properties == 0 {
			ds.Properties = int64(len(ds.PropertyPartitions))
		}
		idx.datasets[ds.Endpoint] = &ds
		sources = append(sources, fedsparql.NewSource(ds.Endpoint))
	}
	idx.sources = fedsparql.NewSourceSet(sources...)
	return idx, nil
}

func validateDataset(ds *Dataset) error {
	if ds.Endpoint == "" {
		return invalid("dataset without endpoint")
	}
	if ds.Triples < 0 || ds.DistinctSubjects < 0 || ds.DistinctObjects < 0 || ds.Properties < 0 || ds.Entities < 0 {
		return invalid("negative count in dataset " + ds.Endpoint)
	}
	for iri, p := range ds.PropertyPartitions {
		if err := validatePartition(ds.Endpoint, iri, p); err != nil {
			return err
		}
	}
	for iri, p := range ds.ClassPartitions {
		if err := validatePartition(ds.Endpoint, iri, p); err != nil {
			return err
		}
	}
	return nil
}

func validatePartition(endpoint, iri string, p Partition) error {
	if iri == "" {
		return invalid("partition without iri in dataset " + endpoint)
	}
	if p.Triples < 0 || p.DistinctSubjects < 0 || p.DistinctObjects < 0 || p.Entities < 0 {
		return invalid(fmt.Sprintf("negative count in partition %s of %s", iri, endpoint))
	}
	return nil
}

func invalid(msg string) error {
	return fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidStatistics, msg)
}

// Sources returns every source with statistics.
func (idx *Index) Sources() fedsparql.SourceSet {
	return idx.sources
}

// Dataset returns the entry of src.
func (idx *Index) Dataset(src fedsparql.Source) (Dataset, bool) {
	ds, ok := idx.datasets[src.Endpoint]
	if !ok {
		return Dataset{}, false
	}
	return *ds, true
}

// Datasets returns all entries ordered by endpoint.
func (idx *Index) Datasets() []Dataset {
	out := make([]Dataset, 0, len(idx.datasets))
	for _, src := range idx.sources {
		out = append(out, *idx.datasets[src.Endpoint])
	}
	return out
}

func (idx *Index) get(src fedsparql.Source) *Dataset {
	if ds, ok := idx.datasets[src.Endpoint]; ok {
		return ds
	}
	return &Dataset{}
}

// Size is the total number of triples of src.
func (idx *Index) Size(src fedsparql.Source) int64 { return idx.get(src).Triples }

// DistinctSubjects is the distinct subject count of src.
func (idx *Index) DistinctSubjects(src fedsparql.Source) int64 {
	return idx.get(src).DistinctSubjects
}

// DistinctObjects is the distinct object count of src.
func (idx *Index) DistinctObjects(src fedsparql.Source) int64 {
	return idx.get(src).DistinctObjects
}

// DistinctPredicates is the number of distinct predicates of src.
func (idx *Index) DistinctPredicates(src fedsparql.Source) int64 {
	return idx.get(src).Properties
}

// DistinctSubjectsFor is the distinct subject count of the predicate's partition.
func (idx *Index) DistinctSubjectsFor(src fedsparql.Source, predicate string) int64 {
	return idx.get(src).PropertyPartitions[predicate].DistinctSubjects
}

// DistinctObjectsFor is the distinct object count of the predicate's partition.
func (idx *Index) DistinctObjectsFor(src fedsparql.Source, predicate string) int64 {
	return idx.get(src).PropertyPartitions[predicate].DistinctObjects
}

// PredicateCard is the number of triples with the predicate.
func (idx *Index) PredicateCard(src fedsparql.Source, predicate string) int64 {
	return idx.get(src).PropertyPartitions[predicate].Triples
}

// TypeCard is the number of instances of the class, taken from the class
// partition's entities and falling back to its triples.
func (idx *Index) TypeCard(src fedsparql.Source, class string) int64 {
	p, ok := idx.get(src).ClassPartitions[class]
	if !ok {
		return 0
	}
	if p.Entities > 0 {
		return p.Entities
	}
	return p.Triples
}

// HasPredicate reports whether src has a partition for the predicate.
func (idx *Index) HasPredicate(src fedsparql.Source, predicate string) bool {
	_, ok := idx.get(src).PropertyPartitions[predicate]
	return ok
}

// HasClass reports whether src has a partition for the class.
func (idx *Index) HasClass(src fedsparql.Source, class string) bool {
	_, ok := idx.get(src).ClassPartitions[class]
	return ok
}

// FindSources returns the sources that may hold triples for the predicate.
// With handleType, "rdf:type C" is resolved through class partitions. An
// unbound predicate selects every source.
func (idx *Index) FindSources(predicate, object fedsparql.Term, handleType bool) fedsparql.SourceSet {
	if predicate.Kind != fedsparql.TermKindIRI {
		zap.S().Warnw("unbound predicate selects all sources", "sources", len(idx.sources))
		return idx.sources
	}
	var out []fedsparql.Source
	useClass := handleType && predicate.Value == fedsparql.RDFType && object.Kind == fedsparql.TermKindIRI
	for _, src := range idx.sources {
		if useClass {
			if idx.HasClass(src, object.Value) {
				out = append(out, src)
			}
			continue
		}
		if idx.HasPredicate(src, predicate.Value) {
			out = append(out, src)
		}
	}
	return fedsparql.NewSourceSet(out...)
}

// Predicates returns the sorted predicate IRIs of src.
func (idx *Index) Predicates(src fedsparql.Source) []string {
	ds := idx.get(src)
	out := make([]string, 0, len(ds.PropertyPartitions))
	for p := range ds.PropertyPartitions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
