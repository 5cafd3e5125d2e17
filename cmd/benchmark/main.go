package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/estimator"
	"github.com/lychee-technology/fedsparql/internal/optimizer"
	"github.com/lychee-technology/fedsparql/internal/selector"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
)

const predicateBase = "http://bench.example/p"

type options struct {
	sources      int
	patterns     int
	shape        string
	runs         int
	coverage     float64
	seed         int64
	seedProvided bool
	bindJoin     bool
}

type result struct {
	strategy    fedsparql.OptimizerStrategy
	durations   []time.Duration
	cost        float64
	cardinality float64
	plan        string
}

func main() {
	log.SetFlags(0)

	opts := parseFlags()
	if !opts.seedProvided {
		log.Printf("[info] Using random seed %d", opts.seed)
	}
	random := rand.New(rand.NewSource(opts.seed))

	idx, err := buildStatistics(opts, random)
	if err != nil {
		log.Fatalf("failed to build statistics: %v", err)
	}
	bgp, err := buildBGP(opts)
	if err != nil {
		log.Fatalf("failed to build query: %v", err)
	}

	ctx := context.Background()
	var results []result
	for _, strategy := range []fedsparql.OptimizerStrategy{fedsparql.OptimizerDynamicProgramming, fedsparql.OptimizerPatternHeuristic} {
		res, err := benchmark(ctx, opts, idx, bgp, strategy)
		if err != nil {
			log.Fatalf("%s: %v", strategy, err)
		}
		results = append(results, res)
	}

	printResults(opts, results)
}

func parseFlags() options {
	opts := options{}
	flag.IntVar(&opts.sources, "sources", 6, "number of federation members")
	flag.IntVar(&opts.patterns, "patterns", 8, "number of triple patterns in the query")
	flag.StringVar(&opts.shape, "shape", "chain", "query shape (chain|star)")
	flag.IntVar(&opts.runs, "runs", 20, "optimization runs per strategy")
	flag.Float64Var(&opts.coverage, "coverage", 0.5, "probability that a member serves a predicate")
	flag.Int64Var(&opts.seed, "seed", time.Now().UnixNano(), "random seed")
	flag.BoolVar(&opts.bindJoin, "bind-join", false, "also consider bind joins")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.seedProvided = true
		}
	})

	if opts.sources <= 0 || opts.patterns <= 0 || opts.runs <= 0 {
		log.Fatalf("sources, patterns and runs must be positive")
	}
	if opts.shape != "chain" && opts.shape != "star" {
		log.Fatalf("unknown shape %q", opts.shape)
	}
	return opts
}

// buildStatistics generates one dataset per member. Every predicate is served
// by at least one member.
func buildStatistics(opts options, random *rand.Rand) (*voidstats.Index, error) {
	datasets := make([]voidstats.Dataset, opts.sources)
	for i := range datasets {
		datasets[i] = voidstats.Dataset{
			Endpoint:           fmt.Sprintf("http://member%d.bench.example/sparql", i),
			PropertyPartitions: map[string]voidstats.Partition{},
		}
	}

	for p := 0; p < opts.patterns; p++ {
		predicate := fmt.Sprintf("%s%d", predicateBase, p)
		served := false
		for i := range datasets {
			if random.Float64() >= opts.coverage && (served || i < len(datasets)-1) {
				continue
			}
			triples := int64(100 + random.Intn(100000))
			datasets[i].PropertyPartitions[predicate] = voidstats.Partition{
				Triples:          triples,
				DistinctSubjects: 1 + triples/int64(1+random.Intn(20)),
				DistinctObjects:  1 + triples/int64(1+random.Intn(20)),
			}
			served = true
		}
	}

	b := voidstats.NewBuilder()
	for _, ds := range datasets {
		for _, p := range ds.PropertyPartitions {
			ds.Triples += p.Triples
			ds.DistinctSubjects += p.DistinctSubjects
			ds.DistinctObjects += p.DistinctObjects
		}
		b.Add(ds)
	}
	return b.Build()
}

func buildBGP(opts options) (*fedsparql.BGP, error) {
	bgp := &fedsparql.BGP{}
	for p := 0; p < opts.patterns; p++ {
		predicate := fmt.Sprintf("<%s%d>", predicateBase, p)
		subject, object := "?s", fmt.Sprintf("?o%d", p)
		if opts.shape == "chain" {
			subject, object = fmt.Sprintf("?v%d", p), fmt.Sprintf("?v%d", p+1)
		}
		tp, err := fedsparql.ParsePattern(subject, predicate, object)
		if err != nil {
			return nil, err
		}
		bgp.Patterns = append(bgp.Patterns, tp)
	}
	return bgp, nil
}

func benchmark(ctx context.Context, opts options, idx *voidstats.Index, bgp *fedsparql.BGP, strategy fedsparql.OptimizerStrategy) (result, error) {
	cfg := fedsparql.DefaultConfig()
	cfg.Selector.Strategy = fedsparql.SelectorStatistics
	cfg.Optimizer.Strategy = strategy
	cfg.Optimizer.UseBindJoin = opts.bindJoin

	sel, err := selector.New(cfg.Selector, cfg.Evaluation.FailurePolicy, idx.Sources(), nil, idx)
	if err != nil {
		return result{}, err
	}
	est, err := estimator.New(cfg.Estimator, cfg.Cost, idx, nil)
	if err != nil {
		return result{}, err
	}
	opt, err := optimizer.New(cfg.Optimizer, sel, est)
	if err != nil {
		return result{}, err
	}

	res := result{strategy: strategy, durations: make([]time.Duration, 0, opts.runs)}
	var plan fedsparql.Node
	for i := 0; i < opts.runs; i++ {
		start := time.Now()
		plan, err = opt.OptimizeBGP(ctx, bgp)
		if err != nil {
			return result{}, err
		}
		res.durations = append(res.durations, time.Since(start))
	}

	pass := est.NewPass(ctx)
	res.cost = pass.Cost(plan)
	res.cardinality = pass.Cardinality(plan)
	res.plan = optimizer.Explain(pass, plan)
	return res, nil
}

func printResults(opts options, results []result) {
	log.Printf("[info] %d members, %d patterns, %s shape, %d runs", opts.sources, opts.patterns, opts.shape, opts.runs)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STRATEGY\tMEAN\tP50\tMAX\tCOST\tCARDINALITY")
	for _, r := range results {
		sorted := slices.Clone(r.durations)
		slices.Sort(sorted)
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t%.1f\n",
			r.strategy, total/time.Duration(len(sorted)), sorted[len(sorted)/2], sorted[len(sorted)-1], r.cost, r.cardinality)
	}
	tw.Flush()

	if len(results) == 2 && results[0].cost > 0 {
		log.Printf("[info] heuristic plan cost is %.2fx the dynamic programming plan", results[1].cost/results[0].cost)
	}
	for _, r := range results {
		fmt.Printf("\n%s plan:\n%s", r.strategy, r.plan)
	}
}
