// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supported formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// NewLogger creates a logger writing to stderr.
// level is one of debug, info, warn, error (default "warn"); format is
// "console" (default) or "json".
func NewLogger(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "warn"
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case FormatConsole, "":
		cfg = zap.NewDevelopmentConfig()
		// No stack traces below error level.
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case FormatJSON:
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be %q or %q", format, FormatJSON, FormatConsole)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	return cfg.Build()
}

// ValidLevel reports whether level parses as a zap level.
func ValidLevel(level string) bool {
	var l zapcore.Level
	return l.UnmarshalText([]byte(level)) == nil
}
