// Package util provides shared helpers for logging, retries, and rate
// limiting.
package util

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger writing to stdout at the given level.
// Supported levels: "debug", "info", "warn", "error"; anything else falls
// back to "info". Format is "json" or "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	var zlevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zlevel = zapcore.DebugLevel
	case "info":
		zlevel = zapcore.InfoLevel
	case "warn":
		zlevel = zapcore.WarnLevel
	case "error":
		zlevel = zapcore.ErrorLevel
	default:
		zlevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zlevel)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.ToLower(format) == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return cfg.Build()
}
