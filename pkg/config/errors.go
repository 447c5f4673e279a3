package config

import "fmt"

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("Option '%s' in section '%s': %s", e.Option, e.Section, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("Section '%s': %s", e.Section, e.Message)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new ConfigError.
func NewConfigError(section, option, message string) *ConfigError {
	return &ConfigError{
		Section: section,
		Option:  option,
		Message: message,
	}
}

// WrapError wraps an existing error with config context.
func WrapError(section, option string, err error) *ConfigError {
	msg := err.Error()
	if ce, ok := err.(*ConfigError); ok {
		msg = ce.Message
	}
	return &ConfigError{
		Section: section,
		Option:  option,
		Message: msg,
		Cause:   err,
	}
}

func ErrMissingOption(section, option string) *ConfigError {
	return NewConfigError(section, option, "must be specified")
}

func ErrMissingSection(section string) *ConfigError {
	return NewConfigError(section, "", "section not found")
}

func ErrInvalidValue(section, option, value, expected string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("invalid value '%s', expected %s", value, expected))
}

func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

func ErrInvalidChoice(section, option, value string, choices []string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}
