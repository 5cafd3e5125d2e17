package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lychee-technology/fedsparql"
	"github.com/lychee-technology/fedsparql/factory"
	"go.uber.org/zap"
)

// Server represents the HTTP server in front of a Federation
type Server struct {
	federation fedsparql.Federation
	mux        *http.ServeMux
	timeout    time.Duration
}

// NewServer creates a new Server instance. A non-positive timeout leaves
// requests bounded only by the client connection.
func NewServer(fed fedsparql.Federation, timeout time.Duration) *Server {
	return &Server{
		federation: fed,
		mux:        http.NewServeMux(),
		timeout:    timeout,
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/api/v1/query", s.handleQuery)
	s.mux.HandleFunc("/api/v1/explain", s.handleExplain)
	s.mux.HandleFunc("/api/v1/sources", s.handleSources)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	cfg, err := loadConfig(os.Getenv("FEDSPARQL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := fedsparql.NewLogger(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(getEnvInt("STATS_LOAD_TIMEOUT_SECONDS", 30))*time.Second)
	fed, err := factory.NewFederationFromConfig(ctx, cfg)
	cancel()
	if err != nil {
		sugar.Fatalf("failed to create federation: %v", err)
	}

	server := NewServer(fed, time.Duration(getEnvInt("QUERY_TIMEOUT_SECONDS", 120))*time.Second)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// loadConfig reads the YAML file at path, or starts from the defaults when
// path is empty, then applies environment overrides.
func loadConfig(path string) (*fedsparql.Config, error) {
	cfg := fedsparql.DefaultConfig()
	if path != "" {
		loaded, err := fedsparql.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if endpoints := getEnv("FEDSPARQL_ENDPOINTS", ""); endpoints != "" {
		cfg.Federation.Members = nil
		for _, e := range strings.Split(endpoints, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Federation.Members = append(cfg.Federation.Members, fedsparql.MemberConfig{Endpoint: e})
			}
		}
	}
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Remote.Timeout = time.Duration(getEnvInt("REMOTE_TIMEOUT_SECONDS", int(cfg.Remote.Timeout/time.Second))) * time.Second
	cfg.Evaluation.WorkerPoolSize = getEnvInt("WORKER_POOL_SIZE", cfg.Evaluation.WorkerPoolSize)
	cfg.Evaluation.FailurePolicy = fedsparql.FailurePolicy(getEnv("FAILURE_POLICY", string(cfg.Evaluation.FailurePolicy)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
