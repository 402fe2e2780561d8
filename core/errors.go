package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig   = "MISSING_CONFIG"
	ErrCodeInvalidEndpoint = "INVALID_ENDPOINT"
	ErrCodeMissingAuth     = "MISSING_AUTH"
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeAuthRejected    = "AUTH_REJECTED"
)

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidEndpoint returns an error for an invalid generator endpoint URL
func ErrInvalidEndpoint(url string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidEndpoint,
		Message: fmt.Sprintf("Invalid GENERATOR_ENDPOINT URL '%s': %s", url, reason),
		Action:  "Set GENERATOR_ENDPOINT to a websocket URL (e.g., wss://generator.example.com/ws)",
	}
}

// ErrMissingAuth returns an error for a missing service token
func ErrMissingAuth() *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: "Missing service token for the generator service",
		Action:  "Set GENERATOR_TOKEN in your .env file",
	}
}

// ErrInvalidValue returns an error for a value outside its allowed range
func ErrInvalidValue(varName string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid value for %s: %s", varName, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file", varName),
	}
}

// ErrAuthRejected returns an error for credentials refused by the generator service
func ErrAuthRejected(service string, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeAuthRejected,
		Message: fmt.Sprintf("Generator service rejected credentials for service '%s': %s", service, reason),
		Action:  "Verify GENERATOR_SERVICE and GENERATOR_TOKEN match the values issued for this service",
	}
}

// IsConfigError checks if an error is a ConfigError and returns it if so
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
