package core

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the transport layer.
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindProcessingFailed
	KindNotImplemented
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindProcessingFailed:
		return "ProcessingFailed"
	case KindNotImplemented:
		return "NotImplemented"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrRemoverUnavailable is returned for every removal when the startup readiness check failed.
var ErrRemoverUnavailable = errors.New("background removal is not available")

// Error is the error value returned by CoreService. Message is safe to show
// to clients, Hint is an optional follow-up for them.
type Error struct {
	Kind    Kind
	Message string
	Hint    string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the first *Error in err's chain.
// Errors without one count as KindProcessingFailed.
func KindOf(err error) Kind {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind
	}
	return KindProcessingFailed
}

func NewBadRequestError(message string, err error) *Error {
	return &Error{Kind: KindBadRequest, Message: message, Err: err}
}

func NewProcessingFailedError(err error) *Error {
	return &Error{Kind: KindProcessingFailed, Message: "Processing failed", Err: err}
}

func NewNotImplementedError(hint string) *Error {
	return &Error{Kind: KindNotImplemented, Message: "Not implemented", Hint: hint}
}
