package fedsparql

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds a zap logger from the logging settings. Format "console"
// selects the human readable development encoder; anything else logs JSON.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, NewConfigurationError(ErrCodeInvalidConfig, fmt.Sprintf("invalid log level %q", cfg.Level)).WithCause(err)
		}
		zc.Level = level
	}
	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
