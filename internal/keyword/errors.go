package keyword

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies SERP fetch failures. The scheduler picks a
// recovery strategy from the kind: transient errors back off and retry,
// blocked errors cool the whole region down, invalid terms are discarded.
type FetchErrorKind string

// Fetch error kinds.
const (
	FetchTransient   FetchErrorKind = "transient"
	FetchBlocked     FetchErrorKind = "blocked"
	FetchInvalidTerm FetchErrorKind = "invalid_term"
)

// FetchError wraps a SERP fetch failure with its recovery classification.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("serp fetch failed (%s)", e.Kind)
	}
	return fmt.Sprintf("serp fetch failed (%s): %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError builds a classified fetch error.
func NewFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// FetchKind extracts the classification from an error chain, defaulting to
// transient for unclassified failures.
func FetchKind(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchTransient
}

// Sentinel errors shared across stores and the scheduler.
var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateJob    = errors.New("duplicate job id")
	ErrAlreadyTerminal = errors.New("job already terminal")
	ErrStaleEstimate   = errors.New("fresher estimate exists")
)
