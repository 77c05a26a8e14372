// Package errors defines the service error type shared by the HTTP
// handlers and the workflow services.
package errors

import (
	"errors"
	"net/http"
)

// Category classifies a ServiceError for HTTP status mapping.
type Category int

const (
	// CategoryGeneralError is an unexpected internal failure. The client
	// sees a generic message; the wrapped error goes to the logs.
	CategoryGeneralError Category = iota
	// CategoryDataError covers invalid request payloads or parameters.
	CategoryDataError
	// CategoryUnauthorized means the caller presented no usable credentials.
	CategoryUnauthorized
	// CategoryForbidden means the caller is known but not allowed.
	CategoryForbidden
	// CategoryResourceNotFound means the addressed resource does not exist
	// or is hidden from this caller.
	CategoryResourceNotFound
	// CategoryNotSupported means the operation exists but is not served.
	CategoryNotSupported
)

func (c Category) String() string {
	switch c {
	case CategoryDataError:
		return "CategoryDataError"
	case CategoryUnauthorized:
		return "CategoryUnauthorized"
	case CategoryForbidden:
		return "CategoryForbidden"
	case CategoryResourceNotFound:
		return "CategoryResourceNotFound"
	case CategoryNotSupported:
		return "CategoryNotSupported"
	default:
		return "CategoryGeneralError"
	}
}

// ServiceError carries a category for status mapping, a client-facing
// Message, and the wrapped cause for logging.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error.
func (err ServiceError) Unwrap() error {
	return err.Err
}

// StatusCode returns the HTTP status for the error category.
func (err ServiceError) StatusCode() int {
	switch err.Category {
	case CategoryDataError:
		return http.StatusBadRequest
	case CategoryUnauthorized:
		return http.StatusUnauthorized
	case CategoryForbidden:
		return http.StatusForbidden
	case CategoryResourceNotFound:
		return http.StatusNotFound
	case CategoryNotSupported:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func newServiceError(cat Category, message string, err error, fallback string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError wraps an unexpected failure. The client always sees
// "Internal Server Error"; the cause is only logged.
func GeneralError(err error) error {
	return newServiceError(CategoryGeneralError, "Internal Server Error", err, "internal server error")
}

// BadRequestError reports invalid client input with the given message.
func BadRequestError(err error, message string) error {
	return newServiceError(CategoryDataError, message, err, "bad request: "+message)
}

// UnAuthorizedError reports missing or invalid credentials.
func UnAuthorizedError(err error, message string) error {
	return newServiceError(CategoryUnauthorized, message, err, "unauthorized")
}

// ForbiddenError reports an authenticated caller without access rights.
func ForbiddenError(err error, message string) error {
	return newServiceError(CategoryForbidden, message, err, "request forbidden")
}

// ResourceNotFoundError reports a missing resource with the given message.
func ResourceNotFoundError(err error, message string) error {
	return newServiceError(CategoryResourceNotFound, message, err, "resource not found: "+message)
}

// NotSupportedError reports an operation the service does not serve.
func NotSupportedError(err error, message string) error {
	return newServiceError(CategoryNotSupported, message, err, "not supported: "+message)
}
