package search

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a search (Normalize, Decode and the
// Searcher methods List, ListWithResult, Page and the Stream iterator) matches
// exactly one of ErrInvalidQuery, ErrTransport or ErrDecode under errors.Is;
// protocol mismatches additionally match ErrProtocolMismatch. NewSearcher
// configuration errors match none of them.
var (
	// ErrInvalidQuery is returned for bad caller input. Never retried.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrTransport wraps failures reported by the transport.
	ErrTransport = errors.New("transport failure")

	// ErrDecode is returned when a response does not match the expected envelope
	// or one of its items cannot be decoded.
	ErrDecode = errors.New("decode error")

	// ErrProtocolMismatch refines ErrDecode: the response has the shape of the other
	// protocol generation.
	ErrProtocolMismatch = errors.New("protocol mismatch")
)

// QueryError describes invalid caller input.
type QueryError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid query: %s", e.Message)
	}
	return fmt.Sprintf("invalid query: %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is match ErrInvalidQuery.
func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

// TransportError wraps an error returned by the transport for one page request.
type TransportError struct {
	Method string
	URL    string
	Page   int
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure on page %d (%s %s): %v", e.Page, e.Method, e.URL, e.Err)
}

// Is matches ErrTransport.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap exposes the transport's own error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports a response page that could not be decoded.
// The whole page is discarded.
type DecodeError struct {
	Version Version
	Page    int
	// Item is the index of the offending item, or -1 for envelope errors.
	Item     int
	Mismatch bool
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s page %d", e.Version, e.Page)
	if e.Item >= 0 {
		msg += fmt.Sprintf(" item %d", e.Item)
	}
	if e.Mismatch {
		msg += " (protocol mismatch)"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches ErrDecode, and ErrProtocolMismatch for mismatches.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode || (e.Mismatch && target == ErrProtocolMismatch)
}

// Unwrap exposes the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrorKind labels an error for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, ErrProtocolMismatch):
		return "protocol_mismatch"
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
