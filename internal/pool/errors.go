package pool

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrAlreadyExists      = errors.New("already exists")
	ErrValidation         = errors.New("validation failed")
	ErrPoolExhausted      = errors.New("no questions left in this topic, contact an administrator")
	ErrConflict           = errors.New("concurrent claim conflict, try again")
	ErrAlreadyAssigned    = errors.New("user already holds an assignment for this topic")
	ErrGenerationProvider = errors.New("question generation failed")
)

// ValidationError describes a rejected input. During ingestion Index is the
// position of the candidate in the batch; otherwise it is -1.
type ValidationError struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("candidate %d: %s", e.Index, e.Reason)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Index: -1, Field: field, Reason: reason}
}
