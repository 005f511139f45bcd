package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Common errors
var (
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "Resource not found"}
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "Bad request"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
)

// New creates a new AppError
func New(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// WithDetails adds details to an error
func WithDetails(err *AppError, details string) *AppError {
	return &AppError{
		Code:    err.Code,
		Message: err.Message,
		Details: details,
	}
}

// GetStatusCode returns the HTTP status code for an error. Validation
// failures map to 400; anything unrecognized is a 500.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if IsValidationError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ValidationError indicates malformed input to a mutating API call.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a single field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ChannelDeliveryError indicates a notification handler failed to deliver.
// It is caught per channel and drives retry/backoff; it is never surfaced
// to the caller that created the alert.
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s channel failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error {
	return e.Err
}

// NewChannelDeliveryError wraps a transport failure for a channel
func NewChannelDeliveryError(channel string, err error) *ChannelDeliveryError {
	return &ChannelDeliveryError{Channel: channel, Err: err}
}

// IsChannelDeliveryError checks if an error is a ChannelDeliveryError
func IsChannelDeliveryError(err error) bool {
	var ce *ChannelDeliveryError
	return errors.As(err, &ce)
}

// EvaluationError indicates a rule condition failed during evaluation.
// It is isolated per rule and logged; other rules keep evaluating.
type EvaluationError struct {
	RuleID   string
	RuleName string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of rule %s (%s) failed: %v", e.RuleName, e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NewEvaluationError wraps a rule evaluation failure
func NewEvaluationError(ruleID, ruleName string, err error) *EvaluationError {
	return &EvaluationError{RuleID: ruleID, RuleName: ruleName, Err: err}
}
