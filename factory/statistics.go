package factory

import (
	"context"
	"fmt"
	"net"
	"os"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsCreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"go.uber.org/zap"
)

// LoadStatistics loads the statistics index from the configured backend. It
// returns nil for the none backend. Backend connections are released before
// returning; the index is held in memory.
func LoadStatistics(ctx context.Context, cfg *fedsparql.Config) (*voidstats.Index, error) {
	sc := cfg.Statistics
	switch sc.Backend {
	case fedsparql.StatisticsBackendNone, "":
		return nil, nil
	case fedsparql.StatisticsBackendFile:
		return voidstats.FileLoader{Path: sc.Path}.Load(ctx)
	case fedsparql.StatisticsBackendS3:
		awsCfg, err := loadAWSConfig(ctx, sc)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if sc.Endpoint != "" {
				o.BaseEndpoint = aws.String(sc.Endpoint)
				o.UsePathStyle = true
			}
		})
		return voidstats.NewS3Loader(client, sc.Bucket, sc.Key).Load(ctx)
	case fedsparql.StatisticsBackendPostgres:
		pool, err := newCatalogPool(ctx, sc)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		return LoadCatalog(ctx, pool)
	default:
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "unknown statistics backend "+string(sc.Backend))
	}
}

// LoadCatalog verifies the catalog tables exist and loads the index from
// them.
func LoadCatalog(ctx context.Context, db voidstats.Querier) (*voidstats.Index, error) {
	rows, err := db.Query(ctx, `SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public'
AND table_type = 'BASE TABLE'`)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "failed to verify catalog connection").WithCause(err)
	}
	tables, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "failed to list catalog tables").WithCause(err)
	}
	for _, want := range []string{voidstats.DefaultDatasetTable, voidstats.DefaultPartitionTable} {
		if !slices.Contains(tables, want) {
			return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "required catalog table is missing").
				WithDetail("table", want)
		}
	}
	return voidstats.NewPostgresLoader(db, voidstats.DefaultDatasetTable, voidstats.DefaultPartitionTable).Load(ctx)
}

func loadAWSConfig(ctx context.Context, sc fedsparql.StatisticsConfig) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if sc.Region != "" {
		opts = append(opts, config.WithRegion(sc.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "load aws config").WithCause(err)
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		awsCfg.Credentials = awsCreds.NewStaticCredentialsProvider(key, os.Getenv("AWS_SECRET_ACCESS_KEY"), os.Getenv("AWS_SESSION_TOKEN"))
	}
	return awsCfg, nil
}

// newCatalogPool opens the catalog pool. With IAM auth each new connection
// authenticates with a freshly generated DSQL token.
func newCatalogPool(ctx context.Context, sc fedsparql.StatisticsConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(sc.DSN)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeInvalidConfig, "failed to parse catalog dsn").WithCause(err)
	}
	if sc.IAMAuth {
		awsCfg, err := loadAWSConfig(ctx, sc)
		if err != nil {
			return nil, err
		}
		poolConfig.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
			endpoint := net.JoinHostPort(cc.Host, fmt.Sprint(cc.Port))
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
			if err != nil {
				zap.S().Warnw("failed to generate IAM auth token; using configured password", "endpoint", endpoint, "error", err)
				return nil
			}
			cc.Password = token
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "failed to create catalog pool").WithCause(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fedsparql.NewConfigurationError(fedsparql.ErrCodeStatisticsUnavailable, "failed to ping catalog").WithCause(err)
	}
	return pool, nil
}
