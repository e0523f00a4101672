// Package errors provides centralized error definitions and error handling utilities
// for the kaubo task runner. It defines the error taxonomy shared by the native
// bridge, the task lifecycle and the task factory, domain error types that carry
// context, and classification helpers.
//
// # Error Types
//
// Sentinel errors name a failure condition (ErrLibraryNotFound, ErrUnknownTask, ...).
// Domain-specific errors wrap a sentinel with the context of the subsystem that
// produced it:
//   - BridgeError: errors raised by the native library bridge
//   - TaskError: errors raised while a task moves through its phases
//   - FactoryError: errors raised by the task factory registries
//
// # Usage
//
//	err := errors.NewBridgeError("subscribe", errors.ErrInvalidEventKind).WithEventKind("LOG_TRACE")
//
//	if errors.Is(err, errors.ErrInvalidEventKind) { ... }
//
//	var bridgeErr *errors.BridgeError
//	if errors.As(err, &bridgeErr) { ... }
//
// # Error Classification
//
// Every domain error carries a Severity, SeverityError unless raised with
// another. Workers log a failed attempt at the level GetSeverity reports.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Native bridge sentinel errors
var (
	// ErrUnsupportedPlatform indicates the host OS is not Windows, macOS or Linux.
	ErrUnsupportedPlatform = New("unsupported platform")
	// ErrLibraryNotFound indicates no search directory contains the native library.
	ErrLibraryNotFound = New("native library not found")
	// ErrLibraryLoadFailed indicates the library exists but could not be mapped or bound.
	ErrLibraryLoadFailed = New("native library load failed")
	// ErrInvalidEventKind indicates an event kind outside the closed enumeration.
	ErrInvalidEventKind = New("invalid event kind")
	// ErrUnknownSubscription indicates a subscription id that is not (or no longer) registered.
	ErrUnknownSubscription = New("unknown subscription")
	// ErrConfigSerialization indicates the run configuration could not be encoded.
	ErrConfigSerialization = New("config serialization failed")
)

// Task lifecycle sentinel errors
var (
	// ErrIncompatibleBridge indicates a bridge lacking a required operation.
	ErrIncompatibleBridge = New("incompatible bridge")
	// ErrSourceFileNotFound indicates the configured source file does not exist.
	ErrSourceFileNotFound = New("source file not found")
	// ErrInvalidState indicates a phase entry point called out of lifecycle order.
	ErrInvalidState = New("invalid task state")
	// ErrNoExecutionMode indicates a configuration that selects no execution mode.
	ErrNoExecutionMode = New("no execution mode selected")
	// ErrGateClosed indicates the start gate was closed without being released.
	ErrGateClosed = New("start gate closed before release")
)

// Task factory sentinel errors
var (
	// ErrDuplicateConfig indicates a config id that is already registered.
	ErrDuplicateConfig = New("duplicate config")
	// ErrUnknownConfig indicates a config id that is not registered.
	ErrUnknownConfig = New("unknown config")
	// ErrInvalidTaskKind indicates a task kind that is not registered.
	ErrInvalidTaskKind = New("invalid task kind")
	// ErrDuplicateTask indicates a task id that is already tracked.
	ErrDuplicateTask = New("duplicate task")
	// ErrUnknownTask indicates a task id that is not tracked.
	ErrUnknownTask = New("unknown task")
	// ErrUnsupportedAction indicates a manage action other than join/terminate.
	ErrUnsupportedAction = New("unsupported action")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// KauboError is the base interface for all domain errors.
type KauboError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// format renders "<prefix> [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// BridgeError represents errors raised by the native library bridge.
//
// Example:
//
//	err := errors.NewBridgeError("library not found", errors.ErrLibraryNotFound).
//		WithLibrary("libkaubo_common.so").
//		WithCheckedPaths(paths)
type BridgeError struct {
	baseError
	Library        string
	EventKind      string
	SubscriptionID uint32
	CheckedPaths   []string
}

// NewBridgeError creates a new BridgeError.
func NewBridgeError(message string, cause error) *BridgeError {
	return &BridgeError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithLibrary adds the library file name or path to the error context.
func (e *BridgeError) WithLibrary(lib string) *BridgeError {
	e.Library = lib
	return e
}

// WithEventKind adds the offending event kind to the error context.
func (e *BridgeError) WithEventKind(kind string) *BridgeError {
	e.EventKind = kind
	return e
}

// WithSubscription adds the subscription id to the error context.
func (e *BridgeError) WithSubscription(id uint32) *BridgeError {
	e.SubscriptionID = id
	return e
}

// WithCheckedPaths records every path examined during library discovery.
func (e *BridgeError) WithCheckedPaths(paths []string) *BridgeError {
	e.CheckedPaths = append([]string(nil), paths...)
	return e
}

// Error returns the formatted error message.
func (e *BridgeError) Error() string {
	var parts []string
	if e.Library != "" {
		parts = append(parts, fmt.Sprintf("library=%s", e.Library))
	}
	if e.EventKind != "" {
		parts = append(parts, fmt.Sprintf("event=%s", e.EventKind))
	}
	if e.SubscriptionID != 0 {
		parts = append(parts, fmt.Sprintf("subscription=%d", e.SubscriptionID))
	}
	msg := e.format("bridge error", parts)
	if len(e.CheckedPaths) > 0 {
		var sb strings.Builder
		sb.WriteString(msg)
		sb.WriteString("\nchecked paths:")
		for _, p := range e.CheckedPaths {
			sb.WriteString("\n  - ")
			sb.WriteString(p)
		}
		return sb.String()
	}
	return msg
}

// Is checks if this error matches the target.
func (e *BridgeError) Is(target error) bool {
	_, ok := target.(*BridgeError)
	return ok
}

// TaskError represents errors raised while a task moves through its phases.
//
// Example:
//
//	err := errors.NewTaskError("source file missing", errors.ErrSourceFileNotFound).
//		WithTaskID("t1").WithPhase("configure")
type TaskError struct {
	baseError
	TaskID string
	Phase  string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithPhase adds a phase name to the error context.
func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

// WithSeverity sets the error severity.
func (e *TaskError) WithSeverity(s Severity) *TaskError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	return e.format("task error", parts)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	_, ok := target.(*TaskError)
	return ok
}

// FactoryError represents misuse of the task factory registries.
//
// Example:
//
//	err := errors.NewFactoryError("config not registered", errors.ErrUnknownConfig).WithConfigID("zzz")
type FactoryError struct {
	baseError
	ConfigID string
	TaskID   string
}

// NewFactoryError creates a new FactoryError.
func NewFactoryError(message string, cause error) *FactoryError {
	return &FactoryError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithConfigID adds a config ID to the error context.
func (e *FactoryError) WithConfigID(id string) *FactoryError {
	e.ConfigID = id
	return e
}

// WithTaskID adds a task ID to the error context.
func (e *FactoryError) WithTaskID(id string) *FactoryError {
	e.TaskID = id
	return e
}

// Error returns the formatted error message.
func (e *FactoryError) Error() string {
	var parts []string
	if e.ConfigID != "" {
		parts = append(parts, fmt.Sprintf("config=%s", e.ConfigID))
	}
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	return e.format("factory error", parts)
}

// Is checks if this error matches the target.
func (e *FactoryError) Is(target error) bool {
	_, ok := target.(*FactoryError)
	return ok
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement KauboError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var kErr KauboError
	if As(err, &kErr) {
		return kErr.Severity()
	}
	return SeverityError
}
