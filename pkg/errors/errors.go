package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeProcess    ErrorType = "process"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeCancelled  ErrorType = "cancelled"

	// Driver lifecycle
	ErrorTypeNoFreePort      ErrorType = "no_free_port"
	ErrorTypeLaunchTimeout   ErrorType = "launch_timeout"
	ErrorTypeDriverCrashed   ErrorType = "driver_crashed"
	ErrorTypeTeardownPartial ErrorType = "teardown_partial"
	ErrorTypeInvalidPID      ErrorType = "invalid_pid"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewPermissionError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePermission, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// NewNoFreePortError is fatal for a launch: there is no safe bind target.
func NewNoFreePortError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNoFreePort, message, cause)
}

func NewLaunchTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunchTimeout, message, cause)
}

func NewDriverCrashedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDriverCrashed, message, cause)
}

// NewTeardownPartialError is non-fatal, callers log it and move on.
func NewTeardownPartialError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTeardownPartial, message, cause)
}

func NewInvalidPIDError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInvalidPID, message, cause)
}

func isType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsProcessError(err error) bool {
	return isType(err, ErrorTypeProcess)
}

func IsPermissionError(err error) bool {
	return isType(err, ErrorTypePermission)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return isType(err, ErrorTypeNetwork)
}

func IsCancelledError(err error) bool {
	return isType(err, ErrorTypeCancelled)
}

func IsNoFreePortError(err error) bool {
	return isType(err, ErrorTypeNoFreePort)
}

func IsLaunchTimeoutError(err error) bool {
	return isType(err, ErrorTypeLaunchTimeout)
}

func IsDriverCrashedError(err error) bool {
	return isType(err, ErrorTypeDriverCrashed)
}

func IsTeardownPartialError(err error) bool {
	return isType(err, ErrorTypeTeardownPartial)
}

func IsInvalidPIDError(err error) bool {
	return isType(err, ErrorTypeInvalidPID)
}

// IsFatalLaunchError reports whether err must abort the launch attempt.
func IsFatalLaunchError(err error) bool {
	return IsNoFreePortError(err) || IsLaunchTimeoutError(err) || IsDriverCrashedError(err)
}
