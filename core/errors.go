package core

import (
	"errors"
	"fmt"
)

// Kind classifies the error taxonomy exposed by the core. Callers recover it
// with KindOf rather than matching on message text.
type Kind string

const (
	// ValidationError is a bad argument to Use/Queue/Connect. Thrown
	// synchronously at the call site.
	ValidationError Kind = "ValidationError"

	// AlreadyExists is a duplicate queue registration. Synchronous.
	AlreadyExists Kind = "AlreadyExists"

	// SchemaViolation is a queue not resolvable in the schema collaborator,
	// or queue-assertion options supplied while a schema is configured.
	SchemaViolation Kind = "SchemaViolation"

	// TransportError is propagated from the transport collaborator; it
	// triggers the implicit Close inside Connect.
	TransportError Kind = "TransportError"

	// CancelledByPeer marks a Connect cancelled by a pending Close, or vice
	// versa. Carries the peer's error on Error.Peer.
	CancelledByPeer Kind = "CancelledByPeer"

	// PipelineMisuse marks a middleware invoking next more than once.
	PipelineMisuse Kind = "PipelineMisuse"
)

// Error is the core's structured error type. Every error kind in the
// taxonomy is surfaced through this type so callers can recover Kind and,
// for CancelledByPeer, the peer's underlying error.
type Error struct {
	Kind Kind
	// Msg is the human-readable message. For CancelledByPeer it already
	// embeds the peer error's message per spec.md's exact wording.
	Msg string
	// Peer is the pending operation's error that triggered CancelledByPeer.
	// Nil for every other Kind.
	Peer error
	// Cause is the underlying error this one wraps, if any (e.g. the
	// transport error a TransportError carries).
	Cause error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("coworkers: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind wrapping cause.
func NewError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// NewValidationError is a convenience constructor for the common case of a
// synchronous validation failure.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: ValidationError, Msg: fmt.Sprintf(format, args...)}
}

// cancelledConnect builds the CancelledByPeer error a pending connect
// surfaces when a close it was chained onto fails.
func cancelledConnect(closeErr error) *Error {
	return &Error{
		Kind: CancelledByPeer,
		Msg:  fmt.Sprintf("Connect cancelled because pending close failed (%s)", closeErr),
		Peer: closeErr,
	}
}

// cancelledClose builds the CancelledByPeer error a pending close surfaces
// when a connect it was chained onto fails.
func cancelledClose(connectErr error) *Error {
	return &Error{
		Kind: CancelledByPeer,
		Msg:  fmt.Sprintf("Close cancelled because pending connect failed (%s)", connectErr),
		Peer: connectErr,
	}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
