// Package selector determines which federation members can answer each
// triple pattern of a basic graph pattern.
package selector

import (
	"context"
	"fmt"
	"sync"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/sparqlgen"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Asker issues ASK queries. *remote.Client implements it.
type Asker interface {
	Ask(ctx context.Context, src fedsparql.Source, query string) (bool, error)
}

// Selector maps patterns to candidate sources.
type Selector struct {
	cfg     fedsparql.SelectorConfig
	policy  fedsparql.FailurePolicy
	sources fedsparql.SourceSet
	asker   Asker
	index   *voidstats.Index
}

// New creates a selector. The ASK strategy needs asker; the STATISTICS
// strategy needs index.
func New(cfg fedsparql.SelectorConfig, policy fedsparql.FailurePolicy, sources fedsparql.SourceSet, asker Asker, index *voidstats.Index) (*Selector, error) {
	switch cfg.Strategy {
	case fedsparql.SelectorASK:
		if asker == nil {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "ASK selector requires a remote client")
		}
		if sources.IsEmpty() {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "ASK selector requires federation members")
		}
	case fedsparql.SelectorStatistics:
		if index == nil {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "STATISTICS selector requires a statistics index")
		}
	default:
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, fmt.Sprintf("unknown selector strategy %q", cfg.Strategy))
	}
	if cfg.AskParallelism <= 0 {
		cfg.AskParallelism = 1
	}
	return &Selector{cfg: cfg, policy: policy, sources: sources, asker: asker, index: index}, nil
}

// lookup is a set of patterns that differ only in variable names and thus
// share one source resolution.
type lookup struct {
	key      string
	patterns []fedsparql.TriplePattern
	sources  fedsparql.SourceSet
}

// MapSources resolves the candidate sources of every pattern. Patterns no
// source can answer are dropped with a warning, so the result may cover
// fewer patterns than the input.
func (s *Selector) MapSources(ctx context.Context, patterns []fedsparql.TriplePattern) ([]fedsparql.MappedPattern, error) {
	lookups := groupByConstants(patterns)

	if err := s.resolve(ctx, lookups); err != nil {
		return nil, err
	}

	var mapped []fedsparql.MappedPattern
	for _, l := range lookups {
		if l.sources.IsEmpty() {
			for _, p := range l.patterns {
				zap.S().Warnw("no source can answer pattern; dropping it", "pattern", p.String(),
					"error", fedsparql.NewEmptySourceSetError(p).Error())
			}
			continue
		}
		for _, p := range l.patterns {
			mapped = append(mapped, fedsparql.MappedPattern{Patterns: []fedsparql.TriplePattern{p}, Sources: l.sources})
		}
	}
	mapped = orderLike(mapped, patterns)

	if s.cfg.GroupBySameAs {
		mapped = groupBySameAs(mapped)
	}
	if s.cfg.GroupBySource {
		mapped = groupBySource(mapped)
	}
	return mapped, nil
}

func groupByConstants(patterns []fedsparql.TriplePattern) []*lookup {
	var out []*lookup
	byKey := make(map[string]*lookup)
	for _, p := range patterns {
		key := p.ConstantKey()
		l, ok := byKey[key]
		if !ok {
			l = &lookup{key: key}
			byKey[key] = l
			out = append(out, l)
		}
		l.patterns = append(l.patterns, p)
	}
	return out
}

// orderLike restores the input order of single-pattern groups.
func orderLike(mapped []fedsparql.MappedPattern, patterns []fedsparql.TriplePattern) []fedsparql.MappedPattern {
	out := make([]fedsparql.MappedPattern, 0, len(mapped))
	used := make([]bool, len(mapped))
	for _, p := range patterns {
		for i, mp := range mapped {
			if !used[i] && mp.Patterns[0] == p {
				used[i] = true
				out = append(out, mp)
				break
			}
		}
	}
	return out
}

func (s *Selector) resolve(ctx context.Context, lookups []*lookup) error {
	if s.cfg.Strategy == fedsparql.SelectorStatistics {
		for _, l := range lookups {
			rep := l.patterns[0]
			found := s.index.FindSources(rep.Predicate, rep.Object, s.cfg.UseTypeStats)
			l.sources = s.restrict(found)
		}
		return nil
	}
	return s.resolveByAsk(ctx, lookups)
}

// restrict keeps the configured members when a member list is set.
func (s *Selector) restrict(found fedsparql.SourceSet) fedsparql.SourceSet {
	if s.sources.IsEmpty() {
		return found
	}
	var out []fedsparql.Source
	for _, src := range found {
		if s.sources.Contains(src) {
			out = append(out, src)
		}
	}
	return fedsparql.NewSourceSet(out...)
}

func (s *Selector) resolveByAsk(ctx context.Context, lookups []*lookup) error {
	var mu sync.Mutex
	hits := make([][]fedsparql.Source, len(lookups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.AskParallelism)
	for i, l := range lookups {
		query := sparqlgen.Ask(l.patterns[0])
		for _, src := range s.sources {
			g.Go(func() error {
				ok, err := s.asker.Ask(gctx, src, query)
				if err != nil {
					if s.policy == fedsparql.FailurePolicyDropSource && fedsparql.IsSourceUnreachable(err) {
						zap.S().Warnw("ASK failed; treating source as not relevant", "source", src.Endpoint, "query", query, "error", err)
						return nil
					}
					return err
				}
				if ok {
					mu.Lock()
					hits[i] = append(hits[i], src)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, l := range lookups {
		l.sources = fedsparql.NewSourceSet(hits[i]...)
	}
	return nil
}
