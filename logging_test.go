package fedsparql

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("Expected debug level to be enabled")
	}

	logger, err = NewLogger(LoggingConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Error("Expected info level to be disabled at warn")
	}

	logger, err = NewLogger(LoggingConfig{})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("Expected production default of info")
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "chatty"})
	if !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}
