package errs

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. Validation kinds abort the calling
// operation; InsufficientCollateral and UnacceptablePrice are
// recoverable at order-execution time (the order is frozen, not lost);
// InvalidState marks an internal invariant violation and is fatal for
// the affected market.
type Kind int

const (
	KindUnknown Kind = iota
	KindForbidden
	KindInvalidOrderType
	KindInvalidInput
	KindFeatureDisabled
	KindInsufficientCollateral
	KindInvalidState
	KindUnacceptablePrice
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "Forbidden"
	case KindInvalidOrderType:
		return "InvalidOrderType"
	case KindInvalidInput:
		return "InvalidInput"
	case KindFeatureDisabled:
		return "FeatureDisabled"
	case KindInsufficientCollateral:
		return "InsufficientCollateral"
	case KindInvalidState:
		return "InvalidState"
	case KindUnacceptablePrice:
		return "UnacceptablePrice"
	default:
		return "Unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error with the same Kind, so sentinel values below
// work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is matching.
var (
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrInvalidOrderType       = &Error{Kind: KindInvalidOrderType}
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrFeatureDisabled        = &Error{Kind: KindFeatureDisabled}
	ErrInsufficientCollateral = &Error{Kind: KindInsufficientCollateral}
	ErrInvalidState           = &Error{Kind: KindInvalidState}
	ErrUnacceptablePrice      = &Error{Kind: KindUnacceptablePrice}
)

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error while preserving it for %w-style
// unwrapping.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return New(KindForbidden, format, args...)
}

func InvalidOrderTypef(format string, args ...interface{}) *Error {
	return New(KindInvalidOrderType, format, args...)
}

func InvalidInputf(format string, args ...interface{}) *Error {
	return New(KindInvalidInput, format, args...)
}

func FeatureDisabledf(format string, args ...interface{}) *Error {
	return New(KindFeatureDisabled, format, args...)
}

func InsufficientCollateralf(format string, args ...interface{}) *Error {
	return New(KindInsufficientCollateral, format, args...)
}

func InvalidStatef(format string, args ...interface{}) *Error {
	return New(KindInvalidState, format, args...)
}

func UnacceptablePricef(format string, args ...interface{}) *Error {
	return New(KindUnacceptablePrice, format, args...)
}

// KindOf extracts the Kind from an error chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether an execution failure should freeze the
// order for a later retry instead of discarding it.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindInsufficientCollateral, KindUnacceptablePrice:
		return true
	}
	return false
}
