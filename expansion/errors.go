package expansion

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned for the all-in-one multi-year mode, where
// every year shares one optimization horizon.
var ErrNotImplemented = errors.New("not implemented")

// InputError represents a missing or unreadable input
type InputError struct {
	Resource string
	Err      error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input error for %s: %v", e.Resource, e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// ConfigError represents invalid settings or a malformed workbook
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for field '%s': %s", e.Field, e.Message)
}

// describe renders the user-facing failure message of a run.
func describe(err error) string {
	var inErr *InputError
	var cfgErr *ConfigError
	switch {
	case errors.As(err, &inErr):
		return fmt.Sprintf("Missing input: %v", err)
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Configuration error: %v", err)
	case errors.Is(err, ErrNotImplemented):
		return fmt.Sprintf("Not implemented: %v", err)
	default:
		return fmt.Sprintf("Run failed: %v", err)
	}
}
