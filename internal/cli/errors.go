// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jeranaias/gradchat/internal/config"
	"github.com/jeranaias/gradchat/internal/gradient"
	"github.com/jeranaias/gradchat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitNetworkError indicates the service could not be reached or
	// answered with a non-2xx status
	ExitNetworkError = 5
	// ExitServiceError indicates the service never reported a completed job
	ExitServiceError = 6
	// ExitNotFoundError indicates a session was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ConfigError marks a failure to load or apply configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UsageError marks invalid command input.
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return e.Reason
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Reason: fmt.Sprintf(format, args...)}
}

// GetExitCode determines the exit code for an error returned by a command.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	if errors.As(err, &usageErr) ||
		errors.Is(err, config.ErrUnknownKey) ||
		errors.Is(err, storage.ErrInvalidName) {
		return ExitUsageError
	}

	var cfgErr *ConfigError
	var validateErrs config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.As(err, &validateErrs) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrSessionNotFound) {
		return ExitNotFoundError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ExitTimeoutError
	}

	if gradient.IsTransportError(err) {
		return ExitNetworkError
	}

	if errors.Is(err, gradient.ErrJobIncomplete) {
		return ExitServiceError
	}

	return ExitGeneralError
}
