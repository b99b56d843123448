// Package apperr defines the error taxonomy shared by the stores, the session
// layer, the realtime bridge and the HTTP handlers.
//
// Errors are wrapped with context using fmt.Errorf("%w") and classified with
// errors.Is / errors.As at the boundary:
//
//	switch {
//	case errors.Is(err, apperr.ErrDuplicateEmail):
//	    c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
//	case errors.Is(err, apperr.ErrMisconfigured):
//	    c.JSON(http.StatusInternalServerError, gin.H{"error": "Server misconfiguration"})
//	}
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized indicates there is no valid session.
	// HTTP Status: 401 Unauthorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller's identity does not match the requested one.
	// HTTP Status: 403 Forbidden
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicateEmail indicates the email is already registered.
	// HTTP Status: 409 Conflict
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMisconfigured indicates a required secret or credential is missing.
	// HTTP Status: 500 Internal Server Error
	ErrMisconfigured = errors.New("server misconfiguration")

	// ErrRateLimited indicates the caller exceeded the request budget.
	// HTTP Status: 429 Too Many Requests
	ErrRateLimited = errors.New("too many requests")

	// ErrTransient indicates a store or transport call failed and may succeed later.
	// HTTP Status: 503 Service Unavailable
	ErrTransient = errors.New("transient i/o failure")
)

// ValidationError reports the first failing input rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Validation returns a *ValidationError for field.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Transient marks err as an ErrTransient failure of op. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
