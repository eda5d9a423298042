// Package dcerr implements the error taxonomy of spec §7: transient
// transport, permanent send, parse/decrypt, protocol and configuration
// errors. The pipeline (package dcore) uses these to decide whether a
// failure aborts a single message, rejects an API call, or is merely
// logged and skipped.
package dcerr

import "errors"

// Class identifies which of the five error buckets of §7 an error belongs
// to.
type Class int

const (
	ClassTransientTransport Class = iota
	ClassPermanentSend
	ClassParseDecrypt
	ClassProtocol
	ClassConfiguration
)

// Error wraps an underlying cause with a Class, so callers that only care
// about "is this recoverable" don't need a type switch per call site.
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the operation can be retried or resent
// without additional user action: transient transport errors and protocol
// errors (which leave no partial DB mutation, per §7) are recoverable,
// permanent-send and configuration errors are not.
func (e *Error) Recoverable() bool {
	return e.Class == ClassTransientTransport || e.Class == ClassProtocol
}

func New(class Class, err error) *Error {
	return &Error{Class: class, Err: err}
}

func Protocol(msg string) *Error {
	return New(ClassProtocol, errors.New(msg))
}

func Configuration(msg string) *Error {
	return New(ClassConfiguration, errors.New(msg))
}

// Sentinel protocol errors named directly in spec §4.2 so callers can
// compare with errors.Is instead of matching on message text.
var (
	ErrInvalidContact       = errors.New("dcerr: contact not in address book")
	ErrNotAGroup            = errors.New("dcerr: chat is not a group")
	ErrSelfNotInGroup       = errors.New("dcerr: self is not a member of this group")
	ErrVerificationFailed   = errors.New("dcerr: contact is not bidirectionally verified")
	ErrDuplicateMessageID   = errors.New("dcerr: rfc724_mid already stored")
	ErrMalformedUpdate      = errors.New("dcerr: malformed webxdc status update")
	ErrNotWebxdcInstance    = errors.New("dcerr: target message is not a webxdc instance")
	ErrSecurejoinBadState   = errors.New("dcerr: securejoin message received in unexpected state")
)
