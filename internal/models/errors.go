package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for each pipeline failure class.
var (
	ErrFetch      = errors.New("fetch failed")
	ErrSplit      = errors.New("split failed")
	ErrEmbedding  = errors.New("embedding failed")
	ErrGeneration = errors.New("generation failed")
	ErrValidation = errors.New("validation failed")
)

// FetchError reports a URL that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetch, e.Err} }

// SplitError reports malformed splitter input or configuration.
type SplitError struct {
	Reason string
}

func (e *SplitError) Error() string { return "split: " + e.Reason }

func (e *SplitError) Unwrap() error { return ErrSplit }

// EmbeddingError reports an unreachable backend or malformed vectors.
type EmbeddingError struct {
	Op  string
	Err error
}

func (e *EmbeddingError) Error() string { return fmt.Sprintf("embedding %s: %v", e.Op, e.Err) }

func (e *EmbeddingError) Unwrap() []error { return []error{ErrEmbedding, e.Err} }

// GenerationError reports a text-generation backend failure or refusal.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation: %v", e.Err) }

func (e *GenerationError) Unwrap() []error { return []error{ErrGeneration, e.Err} }

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// IsRetryable reports whether err is worth another attempt.
// Validation and split errors are deterministic and never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrSplit) {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.StatusCode >= 400 && fe.StatusCode < 500 && fe.StatusCode != 429 {
		return false
	}
	return true
}
