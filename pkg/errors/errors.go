// Unified error handling for the tool X endstop host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors, fatal at load time
	ErrConfigDuplicate  ErrorCode = "CONFIG_DUPLICATE"
	ErrConfigPin        ErrorCode = "CONFIG_PIN"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Routing errors abort the current command only
	ErrRoutingUnbound ErrorCode = "ROUTING_UNBOUND"

	// Detection errors are logged, never raised to the homing caller
	ErrDetectionUnavailable ErrorCode = "DETECTION_UNAVAILABLE"

	// G-code command errors
	ErrGCodeCommand    ErrorCode = "GCODE_COMMAND"
	ErrGCodeUnknownCmd ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeParam      ErrorCode = "GCODE_PARAM"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("[%s:%s:%s] %s", e.Code, e.Section, e.Option, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// DuplicateRegistration reports a second endstop configured for one tool.
func DuplicateRegistration(section string, tool int) *HostError {
	return New(ErrConfigDuplicate, fmt.Sprintf("Duplicate tool X endstop for tool %d", tool)).
		SetSection(section).
		SetContext("tool", tool)
}

// PinError creates a configuration error for a rejected pin request
func PinError(pin string, reason string) *HostError {
	return New(ErrConfigPin, reason).SetContext("pin", pin)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, reason).
		SetSection(section).
		SetOption(option)
}

// RoutingError reports an endstop operation attempted with no tool bound.
func RoutingError(op string) *HostError {
	return New(ErrRoutingUnbound, "Cannot interact with X endstop - no active tool detected.").
		SetContext("op", op)
}

// DetectionError reports that the active tool could not be determined.
func DetectionError(reason string) *HostError {
	return New(ErrDetectionUnavailable, reason)
}

// CommandError creates an error that aborts the current G-code command
func CommandError(message string) *HostError {
	return New(ErrGCodeCommand, message)
}

// UnknownCommandError creates an error for an unregistered G-code command
func UnknownCommandError(command string) *HostError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("Unknown command:\"%s\"", command))
}

// ParamError creates an error for a malformed G-code parameter
func ParamError(command, param, reason string) *HostError {
	return New(ErrGCodeParam, fmt.Sprintf("Error on '%s': %s %s", command, param, reason))
}

// Is checks if any error in the chain carries the given code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	for err != nil {
		if !stderrors.As(err, &hostErr) {
			return false
		}
		if hostErr.Code == code {
			return true
		}
		err = hostErr.Err
	}
	return false
}

// IsConfig checks if error is a configuration error
func IsConfig(err error) bool {
	return Is(err, ErrConfigDuplicate) ||
		Is(err, ErrConfigPin) ||
		Is(err, ErrConfigValidation)
}

// IsRouting checks if error is a routing error
func IsRouting(err error) bool {
	return Is(err, ErrRoutingUnbound)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeCommand) ||
		Is(err, ErrGCodeUnknownCmd) ||
		Is(err, ErrGCodeParam)
}

// Message returns the human-readable message of the first HostError in
// the chain, or err.Error() for other errors.
func Message(err error) string {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Message
	}
	return err.Error()
}
