// Package core provides core types and interfaces for the inference gateway.
package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed client request (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeUnknownModel indicates a model id outside the catalog (404)
	ErrorTypeUnknownModel ErrorType = "unknown_model_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeBackendUnavailable indicates the inference backend failed (503)
	ErrorTypeBackendUnavailable ErrorType = "backend_unavailable_error"
	// ErrorTypeInternal indicates an unexpected gateway failure (500)
	ErrorTypeInternal ErrorType = "internal_error"
)

// backendUnavailableMessage is the only text clients see for backend failures.
const backendUnavailableMessage = "inference backend is temporarily unavailable"

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Model      string    `json:"model,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Model, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeUnknownModel:
		return http.StatusNotFound
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return NewInvalidRequestErrorWithStatus(http.StatusBadRequest, message, err)
}

// NewInvalidRequestErrorWithStatus creates a new invalid request error with a specific status code
func NewInvalidRequestErrorWithStatus(statusCode int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// NewUnknownModelError creates an error for a model id that is neither in the
// catalog nor the auto sentinel (404)
func NewUnknownModelError(model string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUnknownModel,
		Message:    fmt.Sprintf("model %q is not available", model),
		StatusCode: http.StatusNotFound,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewBackendUnavailableError creates a backend failure error (503).
// The client-facing message is fixed; err carries the detail for logs.
func NewBackendUnavailableError(model string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeBackendUnavailable,
		Message:    backendUnavailableMessage,
		StatusCode: http.StatusServiceUnavailable,
		Model:      model,
		Err:        err,
	}
}

// NewInternalError creates a new internal error (500)
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ParseBackendError maps a non-2xx backend response to a GatewayError.
// Backend-side request rejections (4xx other than 429) keep their status and
// message; everything else is reported as backend unavailability.
func ParseBackendError(model string, statusCode int, body []byte, originalErr error) *GatewayError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil && errorResponse.Error.Message != "" {
		message = errorResponse.Error.Message
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewBackendUnavailableError(model, fmt.Errorf("backend returned %d: %s", statusCode, message))
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		// The gateway's own credential was rejected; clients cannot fix this.
		return NewBackendUnavailableError(model, fmt.Errorf("backend rejected gateway credentials (%d): %s", statusCode, message))
	case statusCode >= 400 && statusCode < 500:
		err := NewInvalidRequestErrorWithStatus(statusCode, message, originalErr)
		err.Model = model
		return err
	default:
		return NewBackendUnavailableError(model, fmt.Errorf("backend returned %d: %s", statusCode, message))
	}
}
