package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Domain error types
type ErrorType string

const (
	ErrorTypeValidation         ErrorType = "VALIDATION_ERROR"
	ErrorTypePermissionDenied   ErrorType = "PERMISSION_DENIED"
	ErrorTypeNotFound           ErrorType = "NOT_FOUND_ERROR"
	ErrorTypeConflict           ErrorType = "CONFLICT_ERROR"
	ErrorTypePreconditionFailed ErrorType = "PRECONDITION_FAILED"
	ErrorTypeInternal           ErrorType = "INTERNAL_ERROR"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Code    int       `json:"code"`
	cause   error
}

func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is matches two domain errors by type so callers can use errors.Is with
// the sentinel constructors below.
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Type == de.Type
	}
	return false
}

// Sentinels for errors.Is checks
var (
	ErrValidation         = &DomainError{Type: ErrorTypeValidation}
	ErrPermissionDenied   = &DomainError{Type: ErrorTypePermissionDenied}
	ErrNotFound           = &DomainError{Type: ErrorTypeNotFound}
	ErrConflict           = &DomainError{Type: ErrorTypeConflict}
	ErrPreconditionFailed = &DomainError{Type: ErrorTypePreconditionFailed}
	ErrInternal           = &DomainError{Type: ErrorTypeInternal}
)

// Error constructors for each domain
func NewValidationError(message, details string) *DomainError {
	return &DomainError{
		Type:    ErrorTypeValidation,
		Message: message,
		Details: details,
		Code:    http.StatusBadRequest,
	}
}

func NewPermissionDenied(reason string) *DomainError {
	return &DomainError{
		Type:    ErrorTypePermissionDenied,
		Message: "permission denied",
		Details: reason,
		Code:    http.StatusNotFound,
	}
}

func NewNotFoundError(kind, id string) *DomainError {
	return &DomainError{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found", kind),
		Details: id,
		Code:    http.StatusNotFound,
	}
}

func NewConflictError(what, details string) *DomainError {
	return &DomainError{
		Type:    ErrorTypeConflict,
		Message: what,
		Details: details,
		Code:    http.StatusConflict,
	}
}

func NewPreconditionFailed(what string) *DomainError {
	return &DomainError{
		Type:    ErrorTypePreconditionFailed,
		Message: what,
		Code:    http.StatusPreconditionFailed,
	}
}

func NewInternalError(err error) *DomainError {
	return &DomainError{
		Type:    ErrorTypeInternal,
		Message: "internal error",
		Code:    http.StatusInternalServerError,
		cause:   err,
	}
}

// Wrap converts an arbitrary error into a DomainError. Already-typed errors
// pass through unchanged; anything else becomes Internal.
func Wrap(err error) *DomainError {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return NewInternalError(err)
}

// IsNotFound reports whether err is a NotFound domain error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPermissionDenied reports whether err is a permission denial
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// HTTP Response Helper Functions
func Send(c *gin.Context, err error) {
	de := Wrap(err)
	if de == nil {
		return
	}
	// Denials and NotFound share one wire shape so callers cannot probe
	// for hidden records.
	if de.Type == ErrorTypePermissionDenied || de.Type == ErrorTypeNotFound {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "resource not found",
		})
		return
	}
	c.JSON(de.Code, gin.H{
		"error":   string(de.Type),
		"message": de.Message,
		"details": de.Details,
	})
}

func SendValidationError(c *gin.Context, message string, details ...interface{}) {
	response := gin.H{
		"error":   "validation_error",
		"message": message,
	}
	if len(details) > 0 {
		response["details"] = details[0]
	}
	c.JSON(http.StatusBadRequest, response)
}

func SendInternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": message,
	})
}
