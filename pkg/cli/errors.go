package cli

import (
	"errors"
	"fmt"
	"strings"

	"mercator-hq/interpose/pkg/config"
)

// Exit codes returned by the interpose binary.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ConfigErrors flattens a configuration validation failure into one
// ConfigError per field. It returns nil when err carries none.
func ConfigErrors(err error) []*ConfigError {
	var ve config.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]*ConfigError, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		out = append(out, NewConfigError(fe.Field, fe.Message))
	}
	return out
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case len(ConfigErrors(err)) > 0:
		return ExitConfig
	default:
		var ce *ConfigError
		if errors.As(err, &ce) {
			return ExitConfig
		}
		return ExitFailure
	}
}

// Describe renders err for a terminal, one configuration problem per line.
func Describe(err error) string {
	if errs := ConfigErrors(err); len(errs) > 0 {
		var sb strings.Builder
		sb.WriteString("invalid configuration:\n")
		for _, ce := range errs {
			fmt.Fprintf(&sb, "  - %s: %s\n", ce.Field, ce.Message)
		}
		return sb.String()
	}
	return fmt.Sprintf("Error: %v\n", err)
}
