package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDimensionMismatch  = errors.New("embedding dimension mismatch")
	ErrIngestion          = errors.New("ingestion failed")
	ErrEmbedding          = errors.New("embedding failed")
	ErrRetrieval          = errors.New("retrieval failed")
	ErrGeneration         = errors.New("generation unavailable")
	ErrValidationParse    = errors.New("validation output malformed")
	ErrNoModelsRegistered = errors.New("no model backends registered")
)

// GenerationFailureMessage is the only text a caller sees when every model backend failed.
const GenerationFailureMessage = "system error"

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ValidationParseError keeps the raw model output of a verdict that could not be parsed.
type ValidationParseError struct {
	Raw string
	Err error
}

func (e *ValidationParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: raw=%q", ErrValidationParse, e.Raw)
	}
	return fmt.Sprintf("%s: %v: raw=%q", ErrValidationParse, e.Err, e.Raw)
}

func (e *ValidationParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidationParse}
	}
	return []error{ErrValidationParse, e.Err}
}
