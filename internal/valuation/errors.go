package valuation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a stored record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for duplicate cost records and writes to frozen records
	ErrConflict = errors.New("conflict")
)

// ValidationError reports bad input. Never retryable without a change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParsingError reports model output that could not be turned into a record
type ParsingError struct {
	Reason string
	Err    error
}

func (e *ParsingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing model response: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parsing model response: %s", e.Reason)
}

func (e *ParsingError) Unwrap() error {
	return e.Err
}

// ModelError wraps a failure of the text-generation collaborator. The caller
// may retry or fall back.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}
