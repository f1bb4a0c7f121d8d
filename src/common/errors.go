package common

import (
	"errors"
	"fmt"
)

// ErrKind classifies the failures of a bootstrap session.
type ErrKind uint32

const (
	// DecodeError means malformed bytes were received.
	DecodeError ErrKind = iota
	// UnknownMessageType means a frame carried a tag outside the registry.
	UnknownMessageType
	// IncompatibleVersion means the two sides do not speak the same protocol
	// version.
	IncompatibleVersion
	// IntegrityMismatch means a recomputed identifier or fingerprint differs
	// from the one asserted by the remote side.
	IntegrityMismatch
	// Timeout covers per-message and whole-session deadlines.
	Timeout
	// ClockTooFarOff means the remote clock is beyond the configured
	// tolerance.
	ClockTooFarOff
	// ProviderUnavailable means a state provider could not serve a batch.
	ProviderUnavailable
	// ProtocolViolation means a well-formed message arrived out of order.
	ProtocolViolation
	// RemoteError means the remote side aborted the session with an Error
	// message.
	RemoteError
	// NoBootstrapSource means every candidate server failed.
	NoBootstrapSource
)

// String ...
func (k ErrKind) String() string {
	switch k {
	case DecodeError:
		return "DecodeError"
	case UnknownMessageType:
		return "UnknownMessageType"
	case IncompatibleVersion:
		return "IncompatibleVersion"
	case IntegrityMismatch:
		return "IntegrityMismatch"
	case Timeout:
		return "Timeout"
	case ClockTooFarOff:
		return "ClockTooFarOff"
	case ProviderUnavailable:
		return "ProviderUnavailable"
	case ProtocolViolation:
		return "ProtocolViolation"
	case RemoteError:
		return "RemoteError"
	case NoBootstrapSource:
		return "NoBootstrapSource"
	default:
		return "Unknown"
	}
}

// BootstrapErr is the error type returned by every layer of the bootstrap
// protocol. The kind drives the retry policy of the client.
type BootstrapErr struct {
	kind  ErrKind
	msg   string
	cause error
}

// NewBootstrapErr ...
func NewBootstrapErr(kind ErrKind, format string, args ...interface{}) BootstrapErr {
	return BootstrapErr{
		kind: kind,
		msg:  fmt.Sprintf(format, args...),
	}
}

// WrapBootstrapErr attaches a kind to an underlying error.
func WrapBootstrapErr(kind ErrKind, cause error, format string, args ...interface{}) BootstrapErr {
	return BootstrapErr{
		kind:  kind,
		msg:   fmt.Sprintf(format, args...),
		cause: cause,
	}
}

// Kind returns the classification of the error.
func (e BootstrapErr) Kind() ErrKind {
	return e.kind
}

// Error implements the error interface.
func (e BootstrapErr) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap ...
func (e BootstrapErr) Unwrap() error {
	return e.cause
}

// Is matches a bare BootstrapErr of the same kind, as built by Is.
func (e BootstrapErr) Is(target error) bool {
	t, ok := target.(BootstrapErr)
	return ok && t.msg == "" && t.cause == nil && t.kind == e.kind
}

// Is checks that err, or any error it wraps, is a BootstrapErr of kind k.
func Is(err error, k ErrKind) bool {
	return errors.Is(err, BootstrapErr{kind: k})
}

// KindOf returns the kind of a BootstrapErr, and false for any other error.
func KindOf(err error) (ErrKind, bool) {
	var bErr BootstrapErr
	if errors.As(err, &bErr) {
		return bErr.kind, true
	}
	return 0, false
}

// Retryable reports whether an error is recovered automatically, either
// within a session or by moving to another candidate. Only timeouts and
// provider hiccups qualify.
func Retryable(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == Timeout || k == ProviderUnavailable)
}
