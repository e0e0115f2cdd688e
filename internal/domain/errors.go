package domain

import (
	"errors"
	"fmt"
)

// ErrorKind drives the retry controller's recovery policy.
type ErrorKind string

const (
	KindFetch      ErrorKind = "fetch_error"
	KindRateLimit  ErrorKind = "rate_limit_error"
	KindValidation ErrorKind = "validation_error"
	KindBudget     ErrorKind = "budget_exceeded"
	KindStorage    ErrorKind = "storage_error"
	KindFatal      ErrorKind = "fatal"
)

// ClassifiedError tags an underlying error with its recovery class.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// E wraps err with the given kind.
func E(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Ef builds a classified error from a format string.
func Ef(kind ErrorKind, format string, args ...any) error {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify returns the recovery class of err. Untagged errors are Fatal:
// anything the pipeline did not explicitly mark retryable is not retried.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}
