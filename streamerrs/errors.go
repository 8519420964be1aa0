// Package streamerrs defines the error taxonomy shared across the streams
// engine: crypto, encoding, malformed-message, missing-parent, transport and
// state errors. Callers are expected to use errors.As to recover the
// concrete kind rather than matching on strings.
package streamerrs

import (
	"fmt"
)

// CryptoError reports a signature, key-exchange, or sponge guard failure.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto error while attempting to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crypto error while attempting to %s", e.Op)
}

func (e *CryptoError) Unwrap() error { return e.Err }

// NewCrypto builds a CryptoError.
func NewCrypto(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// EncodingError reports a DDML decoding failure: an unknown Oneof tag, a
// size_t or NBytes<N> that doesn't fit the schema, or invalid UTF-8.
type EncodingError struct {
	What  string
	Codec string
	Cause error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%s is not encoded in %s or the encoding is incorrect: %v", e.What, e.Codec, e.Cause)
}

func (e *EncodingError) Unwrap() error { return e.Cause }

// NewEncoding builds an EncodingError.
func NewEncoding(what, codec string, cause error) *EncodingError {
	return &EncodingError{What: what, Codec: codec, Cause: cause}
}

// InvalidSizeError reports a fixed-width field that did not match its
// declared size.
type InvalidSizeError struct {
	What string
	Want int
	Got  uint64
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("%s must be %d bytes long, but is %d bytes long instead", e.What, e.Want, e.Got)
}

// NewInvalidSize builds an InvalidSizeError.
func NewInvalidSize(what string, want int, got uint64) *InvalidSizeError {
	return &InvalidSizeError{What: what, Want: want, Got: got}
}

// MalformedError reports an HDF declaring an unknown frame type or a
// mismatching topic hash, or a duplicate address bound to a different
// snapshot.
type MalformedError struct {
	What   string
	Field  string
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s: missing or invalid %q for %s", e.What, e.Field, e.Detail)
}

// NewMalformed builds a MalformedError.
func NewMalformed(what, field, detail string) *MalformedError {
	return &MalformedError{What: what, Field: field, Detail: detail}
}

// MissingError ("orphan") reports that the parent snapshot required to
// unwrap a linked body is not yet known. It is recoverable: the Messages
// iterator retains the address and blob and retries once the parent
// arrives.
type MissingError struct {
	Address []byte
	Blob    []byte
	Parent  []byte
}

func (e *MissingError) Error() string {
	return "parent snapshot not known when unwrapping linked body (orphan)"
}

// NewMissing builds a MissingError.
func NewMissing(address, blob, parent []byte) *MissingError {
	return &MissingError{Address: address, Blob: blob, Parent: parent}
}

// TransportError reports that an address could not be resolved to exactly
// one blob: not found, ambiguous, or a wrapped transport-native failure.
type TransportError struct {
	Reason  string
	Address fmt.Stringer
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Address != nil {
		return fmt.Sprintf("transport error for address %s: %s", e.Address.String(), e.Reason)
	}
	return fmt.Sprintf("transport error: %s", e.Reason)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// NewTransport builds a TransportError.
func NewTransport(reason string, address fmt.Stringer, cause error) *TransportError {
	return &TransportError{Reason: reason, Address: address, Cause: cause}
}

// IsNotFound reports whether err is a TransportError for a missing address.
func IsNotFound(err error) bool {
	te, ok := err.(*TransportError)
	return ok && te.Reason == "not found"
}

// StateError reports an operation called out of turn: send before announce,
// an author-only call from a subscriber, or a recipient list naming an
// unknown identifier.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
}

// NewState builds a StateError.
func NewState(op, reason string) *StateError {
	return &StateError{Op: op, Reason: reason}
}
