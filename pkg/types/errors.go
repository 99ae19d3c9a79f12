// Package types defines error types for the overlay shim.
package types

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotFound       = errors.New("no such file or directory")
	ErrExists         = errors.New("file exists")
	ErrNotEmpty       = errors.New("directory not empty")
	ErrNotDirectory   = errors.New("not a directory")
	ErrOutsideLower   = errors.New("path is not under the lower tree")
	ErrNotInitialized = errors.New("overlay is not initialized")
)

// LayerError represents an overlay operation error with context.
type LayerError struct {
	Op   string // operation name: "open", "mkdir", ...
	Path string // relative path within the overlay
	Err  error
}

func (e *LayerError) Error() string {
	return fmt.Sprintf("overlay %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LayerError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid overlay configuration.
type ConfigError struct {
	Var    string // environment variable or config field
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Var, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Var, e.Value, e.Reason)
}
