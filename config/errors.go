package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured marks an optional value or section that is absent.
var ErrNotConfigured = errors.New("not configured")

// ConfigError categories.
const (
	categoryMissing       = "missing"
	categoryInvalid       = "invalid"
	categoryNotConfigured = "not_configured"
)

// ConfigError describes a configuration problem and how to fix it.
//
//nolint:revive // config.ConfigError reads better at call sites than config.Error
type ConfigError struct {
	Category string // missing, invalid or not_configured
	Field    string // dotted key, e.g. consumers.people.baseaddress
	Message  string
	Action   string // what the operator should do
}

// Error renders "config_<category>: <field> <message> <action>", skipping
// empty parts.
func (e *ConfigError) Error() string {
	var b strings.Builder
	write := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if e.Category != "" {
		write("config_" + e.Category + ":")
	}
	write(e.Field)
	write(e.Message)
	write(e.Action)
	return b.String()
}

// Unwrap lets errors.Is(err, ErrNotConfigured) match not_configured errors.
func (e *ConfigError) Unwrap() error {
	if e.Category == categoryNotConfigured {
		return ErrNotConfigured
	}
	return nil
}

// NewMissingFieldError reports a required key with no value.
func NewMissingFieldError(field, envVar, yamlPath string) *ConfigError {
	return &ConfigError{
		Category: categoryMissing,
		Field:    field,
		Message:  "required",
		Action:   fmt.Sprintf("set %s env var or add %s to %s", envVar, yamlPath, DefaultFile),
	}
}

// NewInvalidFieldError reports a value that cannot be used. validOptions,
// when given, is listed in the action.
func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	e := &ConfigError{Category: categoryInvalid, Field: field, Message: message}
	if len(validOptions) > 0 {
		e.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return e
}

// NewNotConfiguredError reports an optional section that was left out.
func NewNotConfiguredError(feature, envVar, yamlPath string) *ConfigError {
	return &ConfigError{
		Category: categoryNotConfigured,
		Field:    feature,
		Message:  "(optional)",
		Action:   fmt.Sprintf("to enable: set %s env var or add %s to %s", envVar, yamlPath, DefaultFile),
	}
}

// IsNotConfigured reports whether err means "absent", as opposed to a value
// that is present but wrong.
func IsNotConfigured(err error) bool {
	return err != nil && errors.Is(err, ErrNotConfigured)
}
