package webhook

import (
	"fmt"
	"net/http"

	"github.com/axilum2025/sturdy-pancake-sub003/internal/models"
)

// ServiceError represents errors from the registry with HTTP context
type ServiceError struct {
	Code       string
	Message    string
	StatusCode int
	Details    map[string]string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Error constructors for common registry errors

func NewValidationError(message string, details map[string]string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeValidation,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Details:    details,
	}
}

// NewNotFoundError covers both a missing subscription and one owned by another
// tenant, so the response never reveals which.
func NewNotFoundError(id string) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeNotFound,
		Message:    fmt.Sprintf("webhook subscription '%s' not found", id),
		StatusCode: http.StatusNotFound,
	}
}

func NewInternalError(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       models.ErrorCodeInternalError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}
