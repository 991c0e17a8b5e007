package errors

import (
	"fmt"
	"net/http"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewGatewayError classifies a failed backend call by its HTTP status.
// A zero status means the request never got a response.
func NewGatewayError(operation string, statusCode int, err error) *AppError {
	var appErr *AppError

	switch {
	case statusCode == 0:
		appErr = WrapRetryable(err, ErrCodeTransientNetwork, fmt.Sprintf("%s: network failure", operation)).
			WithUserMessage("Network error, please try again")
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		appErr = Wrap(err, ErrCodeUnauthorized, fmt.Sprintf("%s: not authorized", operation)).
			WithUserMessage("You are not allowed to do that")
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		appErr = Wrap(err, ErrCodeRejected, fmt.Sprintf("%s: rejected by backend", operation)).
			WithUserMessage("The request was rejected")
	case statusCode == http.StatusNotFound:
		appErr = Wrap(err, ErrCodeNotFound, fmt.Sprintf("%s: not found", operation)).
			WithUserMessage("Not found")
	case statusCode == http.StatusServiceUnavailable:
		appErr = Wrap(err, ErrCodeUnavailable, fmt.Sprintf("%s: backend unavailable", operation)).
			WithUserMessage("Not connected, try again once the connection is back")
	default:
		appErr = WrapRetryable(err, ErrCodeTransientNetwork, fmt.Sprintf("%s: backend error", operation)).
			WithUserMessage("Something went wrong, please try again")
	}

	appErr = appErr.WithContext("operation", operation)
	if statusCode != 0 {
		appErr = appErr.WithContext("status_code", statusCode)
	}
	return appErr
}

// NewUnavailableError reports that no backend connection exists.
func NewUnavailableError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeUnavailable, fmt.Sprintf("%s: backend unavailable", operation)).
		WithContext("operation", operation).
		WithUserMessage("Not connected, try again once the connection is back")
}

// NewUnauthorizedError creates a local authorization error
func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, "not authorized").
		WithContext("reason", reason).
		WithUserMessage("You are not allowed to do that")
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusForbidden
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRejected:
		return http.StatusUnprocessableEntity
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeTransientNetwork:
		return http.StatusBadGateway
	case ErrCodeUnavailable, ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the error body returned by the local API
type HTTPErrorResponse struct {
	Error struct {
		Code      ErrorCode   `json:"code"`
		Message   string      `json:"message"`
		Retryable bool        `json:"retryable"`
		Context   interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := AsAppError(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	response.Error.Retryable = appErr.Retryable
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "token" && k != "secret" && k != "value" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
