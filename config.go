package fedsparql

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config consolidates settings of every federation component
type Config struct {
	Federation FederationConfig `json:"federation" yaml:"federation"`
	Statistics StatisticsConfig `json:"statistics" yaml:"statistics"`
	Selector   SelectorConfig   `json:"selector" yaml:"selector"`
	Optimizer  OptimizerConfig  `json:"optimizer" yaml:"optimizer"`
	Estimator  EstimatorConfig  `json:"estimator" yaml:"estimator"`
	Cost       CostConfig       `json:"cost" yaml:"cost"`
	Evaluation EvaluationConfig `json:"evaluation" yaml:"evaluation"`
	Remote     RemoteConfig     `json:"remote" yaml:"remote"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// FederationConfig lists the federation members
type FederationConfig struct {
	Members []MemberConfig `json:"members" yaml:"members"`
}

// MemberConfig is one SPARQL endpoint of the federation
type MemberConfig struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// StatisticsBackend selects where VOID statistics are loaded from
type StatisticsBackend string

const (
	StatisticsBackendNone     StatisticsBackend = "none"
	StatisticsBackendFile     StatisticsBackend = "file"
	StatisticsBackendS3       StatisticsBackend = "s3"
	StatisticsBackendPostgres StatisticsBackend = "postgres"
)

// StatisticsConfig contains the statistics snapshot location
type StatisticsConfig struct {
	Backend StatisticsBackend `json:"backend" yaml:"backend"`
	// Path is the snapshot file for the file backend.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Bucket and Key locate the snapshot for the s3 backend.
	Bucket string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Key    string `json:"key,omitempty" yaml:"key,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
	// Endpoint overrides the S3 endpoint for S3 compatible stores.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// DSN is the catalog connection string for the postgres backend.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	// IAMAuth enables DSQL IAM token authentication for the catalog.
	IAMAuth bool `json:"iamAuth,omitempty" yaml:"iamAuth,omitempty"`
}

// SelectorStrategy names a source selection strategy
type SelectorStrategy string

const (
	SelectorASK        SelectorStrategy = "ASK"
	SelectorStatistics SelectorStrategy = "STATISTICS"
)

// SelectorConfig contains source selection settings
type SelectorConfig struct {
	Strategy       SelectorStrategy `json:"strategy" yaml:"strategy"`
	UseTypeStats   bool             `json:"useTypeStats" yaml:"useTypeStats"`
	GroupBySameAs  bool             `json:"groupBySameAs" yaml:"groupBySameAs"`
	GroupBySource  bool             `json:"groupBySource" yaml:"groupBySource"`
	AskParallelism int              `json:"askParallelism" yaml:"askParallelism"`
}

// OptimizerStrategy names a join enumeration strategy
type OptimizerStrategy string

const (
	OptimizerDynamicProgramming OptimizerStrategy = "DYNAMIC_PROGRAMMING"
	OptimizerPatternHeuristic   OptimizerStrategy = "PATTERN_HEURISTIC"
)

// OptimizerConfig contains join ordering settings
type OptimizerConfig struct {
	Strategy    OptimizerStrategy `json:"strategy" yaml:"strategy"`
	UseHashJoin bool              `json:"useHashJoin" yaml:"useHashJoin"`
	UseBindJoin bool              `json:"useBindJoin" yaml:"useBindJoin"`
}

// EstimatorStrategy names a cardinality source
type EstimatorStrategy string

const (
	EstimatorStatistics EstimatorStrategy = "STATISTICS"
	EstimatorTrueCount  EstimatorStrategy = "TRUE_COUNT"
)

// EstimatorFormula selects the per-source leaf formula
type EstimatorFormula string

const (
	FormulaSPLENDID EstimatorFormula = "SPLENDID"
	FormulaAverage  EstimatorFormula = "AVERAGE"
)

// EstimatorConfig contains cardinality estimation settings
type EstimatorConfig struct {
	Strategy EstimatorStrategy `json:"strategy" yaml:"strategy"`
	Formula  EstimatorFormula  `json:"formula" yaml:"formula"`
}

// CostConfig holds the cost model constants
type CostConfig struct {
	RequestCost  float64 `json:"requestCost" yaml:"requestCost"`
	TransferCost float64 `json:"transferCost" yaml:"transferCost"`
	HashCost     float64 `json:"hashCost" yaml:"hashCost"`
}

// FailurePolicy decides what happens when a source fails during a query
type FailurePolicy string

const (
	FailurePolicyAbort      FailurePolicy = "abort"
	FailurePolicyDropSource FailurePolicy = "drop_source"
)

// EvaluationConfig contains distributed evaluation settings
type EvaluationConfig struct {
	WorkerPoolSize         int           `json:"workerPoolSize" yaml:"workerPoolSize"`
	FailurePolicy          FailurePolicy `json:"failurePolicy" yaml:"failurePolicy"`
	EagerJoinArguments     bool          `json:"eagerJoinArguments" yaml:"eagerJoinArguments"`
	BindJoinBatchSize      int           `json:"bindJoinBatchSize" yaml:"bindJoinBatchSize"`
	StreamBufferSize       int           `json:"streamBufferSize" yaml:"streamBufferSize"`
	DistinctUnion          bool          `json:"distinctUnion" yaml:"distinctUnion"`
	DistinctMemoryLimit    int           `json:"distinctMemoryLimit" yaml:"distinctMemoryLimit"`
	IncludeExecutionReport bool          `json:"includeExecutionReport" yaml:"includeExecutionReport"`
}

// RemoteConfig contains SPARQL protocol client settings
type RemoteConfig struct {
	Timeout             time.Duration `json:"timeout" yaml:"timeout"`
	Method              string        `json:"method" yaml:"method"` // GET or POST
	UserAgent           string        `json:"userAgent" yaml:"userAgent"`
	MaxIdleConnsPerHost int           `json:"maxIdleConnsPerHost" yaml:"maxIdleConnsPerHost"`
	BreakerThreshold    int           `json:"breakerThreshold" yaml:"breakerThreshold"`
	BreakerWindow       time.Duration `json:"breakerWindow" yaml:"breakerWindow"`
	BreakerCooldown     time.Duration `json:"breakerCooldown" yaml:"breakerCooldown"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level          string `json:"level" yaml:"level"`
	Format         string `json:"format" yaml:"format"`
	LogSubqueries  bool   `json:"logSubqueries" yaml:"logSubqueries"`
	LogPlanChoices bool   `json:"logPlanChoices" yaml:"logPlanChoices"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Statistics: StatisticsConfig{
			Backend: StatisticsBackendNone,
		},
		Selector: SelectorConfig{
			Strategy:       SelectorASK,
			UseTypeStats:   true,
			GroupBySameAs:  false,
			GroupBySource:  true,
			AskParallelism: 8,
		},
		Optimizer: OptimizerConfig{
			Strategy:    OptimizerDynamicProgramming,
			UseHashJoin: true,
			UseBindJoin: false,
		},
		Estimator: EstimatorConfig{
			Strategy: EstimatorStatistics,
			Formula:  FormulaSPLENDID,
		},
		Cost: CostConfig{
			RequestCost:  100,
			TransferCost: 1,
			HashCost:     0.1,
		},
		Evaluation: EvaluationConfig{
			WorkerPoolSize:      16,
			FailurePolicy:       FailurePolicyAbort,
			EagerJoinArguments:  true,
			BindJoinBatchSize:   20,
			StreamBufferSize:    64,
			DistinctUnion:       true,
			DistinctMemoryLimit: 100000,
		},
		Remote: RemoteConfig{
			Timeout:             60 * time.Second,
			Method:              "POST",
			UserAgent:           "fedsparql/1.0",
			MaxIdleConnsPerHost: 8,
			BreakerThreshold:    5,
			BreakerWindow:       30 * time.Second,
			BreakerCooldown:     15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig reads a YAML configuration file on top of DefaultConfig and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError(ErrCodeInvalidConfig, "read config").WithCause(err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, NewConfigurationError(ErrCodeInvalidConfig, "parse config").WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sources returns the configured members as a source set
func (c *Config) Sources() SourceSet {
	sources := make([]Source, 0, len(c.Federation.Members))
	for _, m := range c.Federation.Members {
		sources = append(sources, NewSource(m.Endpoint))
	}
	return NewSourceSet(sources...)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Federation.Members))
	for i, m := range c.Federation.Members {
		if m.Endpoint == "" {
			return &ConfigError{Field: fmt.Sprintf("federation.members[%d].endpoint", i), Message: "must not be empty"}
		}
		if seen[m.Endpoint] {
			return &ConfigError{Field: fmt.Sprintf("federation.members[%d].endpoint", i), Message: "duplicate endpoint " + m.Endpoint}
		}
		seen[m.Endpoint] = true
	}

	switch c.Selector.Strategy {
	case SelectorASK, SelectorStatistics:
	default:
		return &ConfigError{Field: "selector.strategy", Message: "must be ASK or STATISTICS"}
	}
	if c.Selector.AskParallelism <= 0 {
		return &ConfigError{Field: "selector.askParallelism", Message: "must be greater than 0"}
	}

	switch c.Optimizer.Strategy {
	case OptimizerDynamicProgramming, OptimizerPatternHeuristic:
	default:
		return &ConfigError{Field: "optimizer.strategy", Message: "must be DYNAMIC_PROGRAMMING or PATTERN_HEURISTIC"}
	}
	if !c.Optimizer.UseHashJoin && !c.Optimizer.UseBindJoin {
		return &ConfigError{Field: "optimizer", Message: "at least one of useHashJoin and useBindJoin must be enabled"}
	}

	switch c.Estimator.Strategy {
	case EstimatorStatistics, EstimatorTrueCount:
	default:
		return &ConfigError{Field: "estimator.strategy", Message: "must be STATISTICS or TRUE_COUNT"}
	}
	switch c.Estimator.Formula {
	case FormulaSPLENDID, FormulaAverage:
	default:
		return &ConfigError{Field: "estimator.formula", Message: "must be SPLENDID or AVERAGE"}
	}

	if c.Cost.RequestCost < 0 || c.Cost.TransferCost < 0 || c.Cost.HashCost < 0 {
		return &ConfigError{Field: "cost", Message: "constants must not be negative"}
	}

	if c.Evaluation.WorkerPoolSize <= 0 {
		return &ConfigError{Field: "evaluation.workerPoolSize", Message: "must be greater than 0"}
	}
	switch c.Evaluation.FailurePolicy {
	case FailurePolicyAbort, FailurePolicyDropSource:
	default:
		return &ConfigError{Field: "evaluation.failurePolicy", Message: "must be abort or drop_source"}
	}
	if c.Evaluation.BindJoinBatchSize <= 0 {
		return &ConfigError{Field: "evaluation.bindJoinBatchSize", Message: "must be greater than 0"}
	}
	if c.Evaluation.StreamBufferSize < 0 {
		return &ConfigError{Field: "evaluation.streamBufferSize", Message: "must not be negative"}
	}

	switch c.Remote.Method {
	case "GET", "POST":
	default:
		return &ConfigError{Field: "remote.method", Message: "must be GET or POST"}
	}

	switch c.Statistics.Backend {
	case StatisticsBackendNone, "":
		if c.Selector.Strategy == SelectorStatistics {
			return &ConfigError{Field: "statistics.backend", Message: "STATISTICS selector requires a statistics backend"}
		}
	case StatisticsBackendFile:
		if c.Statistics.Path == "" {
			return &ConfigError{Field: "statistics.path", Message: "required for file backend"}
		}
	case StatisticsBackendS3:
		if c.Statistics.Bucket == "" || c.Statistics.Key == "" {
			return &ConfigError{Field: "statistics.bucket", Message: "bucket and key are required for s3 backend"}
		}
	case StatisticsBackendPostgres:
		if c.Statistics.DSN == "" {
			return &ConfigError{Field: "statistics.dsn", Message: "required for postgres backend"}
		}
	default:
		return &ConfigError{Field: "statistics.backend", Message: "unknown backend " + string(c.Statistics.Backend)}
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return &ConfigError{Field: "logging.format", Message: "must be json or console"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
