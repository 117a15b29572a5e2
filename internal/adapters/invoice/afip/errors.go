package afip

import (
	"errors"
	"fmt"
)

// ErrTimeout marks an outbound call that did not return within the request
// timeout. Terminal for the invocation; the caller re-invokes the whole
// orchestrator if it wants to retry.
var ErrTimeout = errors.New("afip: request timed out")

// CryptoParseError signals that the configured certificate or private key
// could not be parsed. Permanent for that credential set until the
// configuration is fixed; never retried.
type CryptoParseError struct {
	What string
	Err  error
}

func (e *CryptoParseError) Error() string {
	return fmt.Sprintf("afip: parse %s: %v", e.What, e.Err)
}

func (e *CryptoParseError) Unwrap() error { return e.Err }

// TransportError is a non-2xx answer from the remote service.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("afip: unexpected status %d: %s", e.StatusCode, e.Body)
}

// ProtocolError is a 2xx answer that lacks the fields the protocol promises.
type ProtocolError struct {
	Reason string
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("afip: protocol error: %s: %s", e.Reason, e.Body)
}

// NoResponseNumberError is returned when a last-authorized-number query
// produced no number field. Message carries any embedded response text.
type NoResponseNumberError struct {
	Message string
}

func (e *NoResponseNumberError) Error() string {
	return fmt.Sprintf("afip: response carries no comprobante number: %s", e.Message)
}

// RejectedError is an explicit rejection by the authority: result R with no
// authorization code. Message aggregates all error/observation/event texts.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("afip: authorization rejected: %s", e.Message)
}

// UnparsableResponseError marks a response with neither an authorization
// code nor an expiry, carrying a truncated excerpt for diagnosis.
type UnparsableResponseError struct {
	Excerpt string
}

func (e *UnparsableResponseError) Error() string {
	return fmt.Sprintf("afip: unparsable response: %s", e.Excerpt)
}
