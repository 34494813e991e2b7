package errors

import (
	"errors"
	"fmt"
)

// Kind classifies where in the system an error originated.
type Kind string

const (
	KindDecode    Kind = "decode"
	KindMetadata  Kind = "metadata"
	KindThumbnail Kind = "thumbnail"
	KindCaption   Kind = "caption"
	KindStorage   Kind = "storage"
	KindConfig    Kind = "config"
	KindTransport Kind = "transport"
	KindUnknown   Kind = "unknown"
)

// Error is a tagged error carrying the failing operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap tags err with kind and op. An error that is already tagged is
// returned unchanged so the innermost stage keeps ownership of the failure.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

func New(kind Kind, op, message string) error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// IsKind checks whether the first tagged error in the chain matches kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first tagged error in the chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return KindUnknown
}

// OpOf returns the op of the first tagged error in the chain.
func OpOf(err error) string {
	var target *Error
	if errors.As(err, &target) {
		return target.Op
	}
	return ""
}
