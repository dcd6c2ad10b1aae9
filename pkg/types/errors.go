package types

import (
	"errors"
	"fmt"
)

// Schema errors. Returned (usually wrapped) by the property and schema
// registries; test with errors.Is.
var (
	ErrUnknownType         = errors.New("unknown type")
	ErrUnknownItem         = errors.New("unknown item")
	ErrUnknownPropertyKind = errors.New("unknown property kind")
	ErrInvalidProperty     = errors.New("invalid property descriptor")
	ErrInvalidValue        = errors.New("invalid property value")
	ErrParentCycle         = errors.New("type parent cycle")
	ErrDuplicate           = errors.New("duplicate name or id")
	ErrInvalidQuery        = errors.New("invalid query")
)

// Protocol and transport errors.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrTransport        = errors.New("transport failure")
	ErrNotConnected     = errors.New("channel is not connected")
	ErrSessionClosed    = errors.New("session is closed")
)

// Store errors.
var (
	ErrNoToken         = errors.New("no stored token")
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
	ErrNoSnapshot      = errors.New("no cached snapshot")
)

// HTTPError reports a non-success HTTP outcome of a request operation.
// Callers can use errors.As to extract the status:
//
//	var httpErr *HTTPError
//	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized { ... }
type HTTPError struct {
	// Op names the operation, e.g. "login" or "publish".
	Op string
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Message is the server's human-readable reason, or the status text.
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, e.Message)
}

// ProtocolError reports a server message that cannot be applied: it is
// malformed or references a Type or Item the registry does not hold. The
// registry is left unchanged when one is returned.
type ProtocolError struct {
	// Kind is the msg_type of the offending message, if known.
	Kind string
	// Ref is the unresolvable name or id, if any.
	Ref string
	// Err is the underlying cause, usually one of the sentinel errors.
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("protocol violation in %q message: %v: %q", e.Kind, e.Err, e.Ref)
	}
	return fmt.Sprintf("protocol violation in %q message: %v", e.Kind, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is (or wraps) a *ProtocolError.
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}
