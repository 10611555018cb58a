// Package errors defines the structured error taxonomy shared by the
// excerpt packages.
//
// Only transport, orphan and lookup failures travel as Go errors.
// Malformed markers are never errors: the transform pipeline degrades by
// leaving the text literal. Validation problems are reported as a
// ValidationErrorCollection value returned next to a nil error.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeMalformedMarker ErrorType = "malformed_marker"
	ErrorTypeOrphan          ErrorType = "orphan_reference"
	ErrorTypeTransport       ErrorType = "transport"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeConfig          ErrorType = "config"
	ErrorTypeInternal        ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeSourceNotFound    = "ERR_SOURCE_NOT_FOUND"
	ErrCodeIncludeNotFound   = "ERR_INCLUDE_NOT_FOUND"
	ErrCodeKeyNotFound       = "ERR_KEY_NOT_FOUND"
	ErrCodeOrphan            = "ERR_ORPHAN_REFERENCE"
	ErrCodeTransport         = "ERR_TRANSPORT"
	ErrCodeBatchItem         = "ERR_BATCH_ITEM"
	ErrCodeUpdateInProgress  = "ERR_UPDATE_IN_PROGRESS"
	ErrCodeClosed            = "ERR_CLOSED"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeValidationFailed  = "ERR_VALIDATION_FAILED"
	ErrCodeCorruptRecord     = "ERR_CORRUPT_RECORD"
	ErrCodeUnresolvedMarker  = "ERR_MALFORMED_MARKER"
	ErrCodeInternalError     = "ERR_INTERNAL"
	ErrCodeUnsupportedDriver = "ERR_UNSUPPORTED_DRIVER"
)

// Sentinels matched with Is. They compare by Type and Code, so any
// ExcerptError carrying the same pair matches.
var (
	ErrNotFound         = &ExcerptError{Type: ErrorTypeNotFound, Code: ErrCodeKeyNotFound, Message: "not found"}
	ErrOrphanReference  = &ExcerptError{Type: ErrorTypeOrphan, Code: ErrCodeOrphan, Message: "orphaned include"}
	ErrTransport        = &ExcerptError{Type: ErrorTypeTransport, Code: ErrCodeTransport, Message: "transport failure"}
	ErrUpdateInProgress = &ExcerptError{Type: ErrorTypeConflict, Code: ErrCodeUpdateInProgress, Message: "update already in progress"}
	ErrClosed           = &ExcerptError{Type: ErrorTypeInternal, Code: ErrCodeClosed, Message: "closed"}
)

// ExcerptError is a structured error type with context.
type ExcerptError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ExcerptError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if id, ok := e.Context["id"]; ok {
		parts = append(parts, fmt.Sprintf("id:%v", id))
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *ExcerptError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *ExcerptError) Is(target error) bool {
	var t *ExcerptError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *ExcerptError) WithContext(key string, value interface{}) *ExcerptError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithID records the record id the error refers to.
func (e *ExcerptError) WithID(id string) *ExcerptError {
	return e.WithContext("id", id)
}

// Error creation functions

// NewNotFoundError creates a lookup error.
func NewNotFoundError(code, message string) *ExcerptError {
	return &ExcerptError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewOrphanError reports an include whose source no longer resolves.
func NewOrphanError(localID, excerptID string) *ExcerptError {
	return (&ExcerptError{
		Type:    ErrorTypeOrphan,
		Code:    ErrCodeOrphan,
		Message: fmt.Sprintf("source %q does not exist", excerptID),
	}).WithID(localID).WithContext("excerpt_id", excerptID)
}

// NewTransportError wraps a failed storage or network call.
func NewTransportError(message string, cause error) *ExcerptError {
	return &ExcerptError{
		Type:    ErrorTypeTransport,
		Code:    ErrCodeTransport,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *ExcerptError {
	return &ExcerptError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *ExcerptError {
	return &ExcerptError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New returns an unstructured error.
func New(text string) error { return errors.New(text) }

// TypeOf returns the ErrorType of the first ExcerptError in err's chain,
// or the empty string.
func TypeOf(err error) ErrorType {
	var ee *ExcerptError
	if errors.As(err, &ee) {
		return ee.Type
	}
	return ""
}

// IsOrphan checks if an error reports an orphaned include.
func IsOrphan(err error) bool {
	return TypeOf(err) == ErrorTypeOrphan
}

// IsTransport checks if an error is a transport failure.
func IsTransport(err error) bool {
	return TypeOf(err) == ErrorTypeTransport
}

// IsNotFound checks if an error is a lookup miss.
func IsNotFound(err error) bool {
	return TypeOf(err) == ErrorTypeNotFound
}

// FieldValidationError describes one invalid field of a record.
type FieldValidationError struct {
	FieldName    string      `json:"field"`
	FieldValue   interface{} `json:"value,omitempty"`
	ErrorMessage string      `json:"message"`
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(field string, value interface{}, message string) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
	}
}

// ValidationErrorCollection is the structured result of validating a
// record before it is saved. The zero value is a valid, empty result.
type ValidationErrorCollection struct {
	Errors []*FieldValidationError `json:"errors"`
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(field string, value interface{}, message string) {
	vec.Errors = append(vec.Errors, NewFieldValidationError(field, value, message))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return vec != nil && len(vec.Errors) > 0
}

// Fields returns the names of the invalid fields in order.
func (vec *ValidationErrorCollection) Fields() []string {
	if vec == nil {
		return nil
	}
	fields := make([]string, 0, len(vec.Errors))
	for _, e := range vec.Errors {
		fields = append(fields, e.FieldName)
	}
	return fields
}
