package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of launcher errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConfigMissing ErrorType = "config_missing"
	ErrorTypeConnectivity  ErrorType = "connectivity"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeProcess       ErrorType = "process"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeInternal      ErrorType = "internal"
	ErrorTypeCancelled     ErrorType = "cancelled"
)

// Well-known context keys
const (
	ContextKeyService  = "service"
	ContextKeyExitCode = "exit_code"
	ContextKeyHint     = "hint"
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

// Is matches another DomainError of the same type
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

// NewConfigMissingError is never fatal, the loader only logs it
func NewConfigMissingError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigMissing, message, cause)
}

// NewConnectivityError reports an unreachable external service
func NewConnectivityError(service string, message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConnectivity, message, cause).WithContext(ContextKeyService, service)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

// NewProcessError reports a subprocess that exited with a non-zero code
func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// Error checking helpers

func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsConfigMissingError(err error) bool {
	return hasType(err, ErrorTypeConfigMissing)
}

func IsConnectivityError(err error) bool {
	return hasType(err, ErrorTypeConnectivity)
}

func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

func IsProcessError(err error) bool {
	return hasType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return hasType(err, ErrorTypeCancelled)
}

func hasType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// ContextValue returns a context value from the outermost DomainError in the chain
// that carries the key.
func ContextValue(err error, key string) (interface{}, bool) {
	for err != nil {
		var domainErr *DomainError
		if !errors.As(err, &domainErr) {
			return nil, false
		}
		if value, ok := domainErr.Context[key]; ok {
			return value, true
		}
		err = domainErr.Cause
	}
	return nil, false
}

// ErrorCollection aggregates errors from independent checks
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// Unwrap exposes collected errors to errors.Is and errors.As
func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
