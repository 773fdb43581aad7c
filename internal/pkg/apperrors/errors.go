package apperrors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidRule    ErrorType = "INVALID_RULE"
	ErrDuplicateRule  ErrorType = "DUPLICATE_RULE"
	ErrBatchLimit     ErrorType = "BATCH_LIMIT_EXCEEDED"
	ErrBatchTimeout   ErrorType = "BATCH_TIMEOUT"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRule(msg string) *AppError {
	return New(ErrInvalidRule, msg, nil)
}

func NewDuplicateRule(ruleID string) *AppError {
	return New(ErrDuplicateRule, fmt.Sprintf("rule %s is already registered", ruleID), nil)
}

func NewBatchLimit(msg string) *AppError {
	return New(ErrBatchLimit, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRule, ErrInvalidRequest, ErrBatchLimit:
		return http.StatusBadRequest
	case ErrDuplicateRule:
		return http.StatusConflict
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBatchTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrInvalidRule:
		return "Check the rule's conditions and filters against the schema."
	case ErrDuplicateRule:
		return "Remove the existing rule first or use a different id."
	case ErrBatchLimit:
		return "Split the batch below the configured max_batch_size."
	case ErrBatchTimeout:
		return "Retry with a smaller batch or a longer timeout."
	case ErrAuthFailed:
		return "Check the API key."
	default:
		return ""
	}
}
