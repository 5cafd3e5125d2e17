package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/fedsparql/internal/voidstats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type initDBOptions struct {
	dsn            string
	host           string
	port           int
	database       string
	user           string
	password       string
	sslMode        string
	datasetTable   string
	partitionTable string
	snapshot       string
}

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// NewInitDBCommand creates the init-db command.
func NewInitDBCommand(rootOpts *RootOptions) *cobra.Command {
	opts := initDBOptions{}

	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the Postgres statistics catalog tables",
		Long: `Create the dataset and partition tables read by the postgres statistics
backend. With --snapshot the datasets of a snapshot file are imported,
replacing the stored partitions of every imported endpoint.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var idx *voidstats.Index
			if opts.snapshot != "" {
				loaded, err := voidstats.FileLoader{Path: opts.snapshot}.Load(cmd.Context())
				if err != nil {
					return err
				}
				idx = loaded
			}

			pool, err := pgxpool.New(cmd.Context(), buildConnString(opts))
			if err != nil {
				return fmt.Errorf("create connection pool: %w", err)
			}
			defer pool.Close()

			if err := initCatalog(cmd.Context(), pool, opts, idx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Statistics catalog initialized successfully.")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.dsn, "dsn", os.Getenv("DATABASE_URL"), "connection string; overrides the db-* flags")
	flags.StringVar(&opts.host, "db-host", getenvDefault("DB_HOST", "localhost"), "database host")
	flags.IntVar(&opts.port, "db-port", getenvDefaultInt("DB_PORT", 5432), "database port")
	flags.StringVar(&opts.database, "db-name", getenvDefault("DB_NAME", "fedsparql"), "database name")
	flags.StringVar(&opts.user, "db-user", getenvDefault("DB_USER", "postgres"), "database user")
	flags.StringVar(&opts.password, "db-password", getenvDefault("DB_PASSWORD", "postgres"), "database password")
	flags.StringVar(&opts.sslMode, "db-ssl-mode", getenvDefault("DB_SSL_MODE", "disable"), "database sslmode")
	flags.StringVar(&opts.datasetTable, "dataset-table", voidstats.DefaultDatasetTable, "dataset table name")
	flags.StringVar(&opts.partitionTable, "partition-table", voidstats.DefaultPartitionTable, "partition table name")
	flags.StringVar(&opts.snapshot, "snapshot", "", "snapshot file to import (optional)")
	return cmd
}

// initCatalog creates the catalog tables and imports idx when it is not
// nil, all in one transaction.
func initCatalog(ctx context.Context, db txBeginner, opts initDBOptions, idx *voidstats.Index) error {
	return withTx(ctx, db, func(tx pgx.Tx) error {
		if err := voidstats.CreateCatalog(ctx, tx, opts.datasetTable, opts.partitionTable); err != nil {
			return err
		}
		if idx == nil {
			return nil
		}
		if err := voidstats.StoreCatalog(ctx, tx, idx, opts.datasetTable, opts.partitionTable); err != nil {
			return err
		}
		zap.S().Infow("imported statistics snapshot", "datasets", idx.Sources().Len(), "table", opts.datasetTable)
		return nil
	})
}

func buildConnString(opts initDBOptions) string {
	if opts.dsn != "" {
		return opts.dsn
	}
	hostPort := fmt.Sprintf("%s:%d", opts.host, opts.port)

	var userInfo *url.Userinfo
	if opts.password != "" {
		userInfo = url.UserPassword(opts.user, opts.password)
	} else {
		userInfo = url.User(opts.user)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   hostPort,
		Path:   "/" + opts.database,
	}

	q := url.Values{}
	if opts.sslMode != "" {
		q.Set("sslmode", opts.sslMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func withTx(ctx context.Context, db txBeginner, fn func(pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w; rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvDefaultInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}
