package domain

import (
	"errors"
	"fmt"
	"os"
)

// ErrTargetNotFound marks a target that does not exist on the system.
// Per-target, non-fatal: the batch skips it, logs, and continues.
var ErrTargetNotFound = errors.New("target not found")

// ConfigError indicates a malformed schedule or configuration. The desired
// state cannot be determined safely, so the whole cycle fails closed.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Reason, e.Err)
	}
	return "config: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ResolutionError indicates a DNS failure for one domain target.
// Non-fatal: that domain is skipped, the others continue.
type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err is (or wraps) a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// IsPermission reports whether err stems from insufficient privilege
// (chmod/kill/firewall as the wrong user). Fatal for that target only.
func IsPermission(err error) bool {
	return errors.Is(err, os.ErrPermission) || os.IsPermission(err)
}
