// Package mcerr defines the typed error taxonomy returned across the
// client's public API: InvalidKey and Configuration are the only errors
// that can surface before any network activity; Transport, ProtocolError
// and ServerRejected describe what went wrong on the wire; NotFound and
// NotStored are expected protocol-level negatives rather than failures.
package mcerr

import (
	"fmt"

	"github.com/henrikschroder/beitmemcached/errors"
)

// Kind distinguishes the taxonomy buckets without requiring callers to
// type-switch on concrete struct types.
type Kind int

const (
	// InvalidKey means the supplied key failed local validation; no bytes
	// were written to any server.
	InvalidKey Kind = iota
	// Configuration means a constructor argument was invalid.
	Configuration
	// Transport means a connect, read, write or timeout failure occurred.
	Transport
	// ProtocolError means the server's reply could not be parsed, or the
	// connection desynchronised (empty line, malformed framing, leftover
	// bytes on return).
	ProtocolError
	// ServerRejected means the server replied with ERROR, CLIENT_ERROR or
	// SERVER_ERROR.
	ServerRejected
	// NotFound means the server reported the key does not exist.
	NotFound
	// NotStored means a storage command's precondition was not met.
	NotStored
)

func (k Kind) String() string {
	switch k {
	case InvalidKey:
		return "InvalidKey"
	case Configuration:
		return "Configuration"
	case Transport:
		return "Transport"
	case ProtocolError:
		return "ProtocolError"
	case ServerRejected:
		return "ServerRejected"
	case NotFound:
		return "NotFound"
	case NotStored:
		return "NotStored"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned for every taxonomy bucket. It
// embeds errors.DropboxError so callers that already unwrap on that
// interface (stack traces, RootError, IsError) keep working unmodified.
type Error struct {
	errors.DropboxError
	kind Kind
}

// Kind reports which taxonomy bucket this error belongs to.
func (e *Error) Kind() Kind {
	return e.kind
}

func new_(kind Kind, msg string) *Error {
	return &Error{DropboxError: errors.New(msg), kind: kind}
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{DropboxError: errors.Newf(format, args...), kind: kind}
}

func wrap(kind Kind, err error, msg string) *Error {
	return &Error{DropboxError: errors.Wrap(err, msg), kind: kind}
}

// NewInvalidKey reports a key that failed local validation.
func NewInvalidKey(key string, reason string) error {
	return newf(InvalidKey, "invalid key %q: %s", key, reason)
}

// NewConfiguration reports a bad constructor argument.
func NewConfiguration(msg string) error {
	return new_(Configuration, msg)
}

// NewConfigurationf is the Printf-style variant of NewConfiguration.
func NewConfigurationf(format string, args ...interface{}) error {
	return newf(Configuration, format, args...)
}

// WrapTransport wraps a connect/read/write/timeout failure.
func WrapTransport(err error, msg string) error {
	return wrap(Transport, err, msg)
}

// NewProtocolError reports malformed framing or a desynchronised stream.
func NewProtocolError(msg string) error {
	return new_(ProtocolError, msg)
}

// NewProtocolErrorf is the Printf-style variant of NewProtocolError.
func NewProtocolErrorf(format string, args ...interface{}) error {
	return newf(ProtocolError, format, args...)
}

// NewServerRejected wraps a line beginning ERROR, CLIENT_ERROR or
// SERVER_ERROR.
func NewServerRejected(line string) error {
	return newf(ServerRejected, "server rejected command: %s", line)
}

// NewNotFound reports a NOT_FOUND reply.
func NewNotFound(key string) error {
	return newf(NotFound, "key not found: %s", key)
}

// NewNotStored reports a NOT_STORED/EXISTS reply from a storage command.
func NewNotStored(key string) error {
	return newf(NotStored, "item not stored: %s", key)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.kind == kind
}

var _ fmt.Stringer = Kind(0)
