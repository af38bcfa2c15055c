package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
	ErrUnavailable ErrorCode = "UNAVAILABLE"
)

// APIError is a structured error returned by the report API.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidationError creates a VALIDATION_ERROR APIError.
func NewValidationError(msg string) *APIError {
	return &APIError{Code: ErrValidation, Message: msg}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// ParseError reports malformed manifest, catalog, or result text.
// Record is empty when the whole input is unusable.
type ParseError struct {
	Source string
	Record string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Record != "" {
		return fmt.Sprintf("parse %s (%s): %v", e.Source, e.Record, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// MissingResourceError reports an image that could not be located.
type MissingResourceError struct {
	ImageID string
	Path    string
}

func (e *MissingResourceError) Error() string {
	return fmt.Sprintf("image %s not found at %s", e.ImageID, e.Path)
}

// OracleError reports a failed classification call.
type OracleError struct {
	ImageID string
	Op      string
	Err     error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle %s %s: %v", e.Op, e.ImageID, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// IntegrityError reports a batch the measurer refuses to run.
type IntegrityError struct {
	BatchIndex int
	Size       int
	Reason     string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("batch %d (size %d): %s", e.BatchIndex, e.Size, e.Reason)
}
