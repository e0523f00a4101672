package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/kaubo/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "logging.max_size_mb")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	levels := logging.ValidLevels()
	for i, l := range levels {
		levels[i] = strings.ToLower(l)
	}
	return levels
}

// ValidBuildTypes returns the build output directories the engine produces.
func ValidBuildTypes() []string {
	return []string{"Debug", "Release", "RelWithDebInfo", "MinSizeRel"}
}

// maxTerminateGrace keeps a stuck worker from stalling the CLI.
const maxTerminateGrace = 5 * time.Minute

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateLibrary()...)
	errs = append(errs, c.validateTask()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateWatch()...)
	return errs
}

func (c *Config) validateLibrary() []ValidationError {
	var errs []ValidationError
	name := c.Library.BaseName
	if name == "" {
		errs = append(errs, ValidationError{
			Field:   "library.base_name",
			Value:   name,
			Message: "must not be empty",
		})
	} else if strings.ContainsAny(name, `/\`) || strings.Contains(name, ".") {
		errs = append(errs, ValidationError{
			Field:   "library.base_name",
			Value:   name,
			Message: "must be a bare name without directory, prefix or extension",
		})
	}
	if !slices.Contains(ValidBuildTypes(), c.Library.BuildType) {
		errs = append(errs, ValidationError{
			Field:   "library.build_type",
			Value:   c.Library.BuildType,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBuildTypes(), ", ")),
		})
	}
	for i, d := range c.Library.Dirs {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("library.dirs[%d]", i),
				Value:   d,
				Message: "must not be empty",
			})
		}
	}
	return errs
}

func (c *Config) validateTask() []ValidationError {
	var errs []ValidationError
	if c.Task.Kind == "" {
		errs = append(errs, ValidationError{
			Field:   "task.kind",
			Value:   c.Task.Kind,
			Message: "must not be empty",
		})
	}
	if c.Task.JoinTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "task.join_timeout",
			Value:   c.Task.JoinTimeout,
			Message: "must be non-negative (0 waits indefinitely)",
		})
	}
	if c.Task.TerminateGrace <= 0 || c.Task.TerminateGrace > maxTerminateGrace {
		errs = append(errs, ValidationError{
			Field:   "task.terminate_grace",
			Value:   c.Task.TerminateGrace,
			Message: fmt.Sprintf("must be positive and at most %s", maxTerminateGrace),
		})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be at least 1",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}
	return errs
}

func (c *Config) validateWatch() []ValidationError {
	if c.Watch.DebounceMs < 0 {
		return []ValidationError{{
			Field:   "watch.debounce_ms",
			Value:   c.Watch.DebounceMs,
			Message: "must be non-negative",
		}}
	}
	return nil
}
