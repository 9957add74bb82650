package types

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy. The set is closed:
// callers switch on KindOf and must handle every member.
type Kind string

const (
	KindConfig            Kind = "ConfigError"
	KindTransientNetwork  Kind = "TransientNetworkError"
	KindPermanentAPI      Kind = "PermanentApiError"
	KindAuth              Kind = "AuthError"
	KindDataValidation    Kind = "DataValidationError"
	KindStaleData         Kind = "StaleDataError"
	KindRiskCapExceeded   Kind = "RiskCapExceeded"
	KindInvalidTransition Kind = "InvalidTransition"
	KindReconcileMismatch Kind = "ReconcileMismatch"
	KindFatalInternal     Kind = "FatalInternal"
)

// KindedError pairs a Kind with an underlying cause.
type KindedError struct {
	Kind Kind
	Err  error
}

func (e *KindedError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *KindedError) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err yields nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindedError{Kind: kind, Err: err}
}

// Ef is E with formatting.
func Ef(kind Kind, format string, args ...any) error {
	return &KindedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or KindFatalInternal for unclassified errors.
func KindOf(err error) Kind {
	var ke *KindedError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindFatalInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
