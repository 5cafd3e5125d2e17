package factory

import (
	"context"
	"fmt"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/engine"
	"github.com/lychee-technology/fedsparql/internal/estimator"
	"github.com/lychee-technology/fedsparql/internal/federation"
	"github.com/lychee-technology/fedsparql/internal/optimizer"
	"github.com/lychee-technology/fedsparql/internal/remote"
	"github.com/lychee-technology/fedsparql/internal/selector"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"go.uber.org/zap"
)

// NewFederation wires source selection, estimation, optimization and
// evaluation over the configured members. This is the primary way for
// external projects to obtain a Federation.
//
// stats may be nil unless the STATISTICS selector is configured; without
// statistics the estimator falls back to fixed per-pattern guesses.
// client may be nil, in which case one is built from cfg.Remote.
//
// Usage:
//
//	cfg, err := fedsparql.LoadConfig("fedsparql.yaml")
//	if err != nil {
//	    // handle error
//	}
//	stats, err := factory.LoadStatistics(ctx, cfg)
//	if err != nil {
//	    // handle error
//	}
//	fed, err := factory.NewFederation(cfg, stats, nil)
func NewFederation(cfg *fedsparql.Config, stats *voidstats.Index, client *remote.Client) (fedsparql.Federation, error) {
	if cfg == nil {
		cfg = fedsparql.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "invalid configuration").WithCause(err)
	}
	if client == nil {
		client = remote.NewClient(cfg.Remote, remote.WithStreamBuffer(cfg.Evaluation.StreamBufferSize), remote.WithQueryLogging(cfg.Logging.LogSubqueries))
	}

	sources := cfg.Sources()
	if sources.IsEmpty() && stats != nil {
		sources = stats.Sources()
	}
	if sources.IsEmpty() {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "federation has no members")
	}
	if stats != nil {
		for _, src := range sources {
			if _, ok := stats.Dataset(src); !ok {
				zap.S().Warnw("no statistics for member", "source", src.Endpoint)
			}
		}
	}

	sel, err := selector.New(cfg.Selector, cfg.Evaluation.FailurePolicy, sources, client, stats)
	if err != nil {
		return nil, fmt.Errorf("failed to create source selector: %w", err)
	}
	est, err := estimator.New(cfg.Estimator, cfg.Cost, stats, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create estimator: %w", err)
	}
	opt, err := optimizer.New(cfg.Optimizer, sel, est, optimizer.WithPlanLogging(cfg.Logging.LogPlanChoices))
	if err != nil {
		return nil, fmt.Errorf("failed to create optimizer: %w", err)
	}
	eng, err := engine.New(cfg.Evaluation, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	zap.S().Infow("federation ready",
		"members", sources.Len(),
		"selector", cfg.Selector.Strategy,
		"optimizer", cfg.Optimizer.Strategy,
		"estimator", cfg.Estimator.Strategy)
	return federation.New(sources, sel, opt, eng, cfg.Evaluation.IncludeExecutionReport), nil
}

// NewFederationFromConfig loads statistics from the configured backend and
// builds the federation.
func NewFederationFromConfig(ctx context.Context, cfg *fedsparql.Config) (fedsparql.Federation, error) {
	stats, err := LoadStatistics(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewFederation(cfg, stats, nil)
}
