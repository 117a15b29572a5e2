package fiscal

import (
	"errors"
	"fmt"
)

// Precondition failures detected before any cryptographic or network work.
var (
	ErrNotFound                 = errors.New("document not found")
	ErrAlreadyCancelled         = errors.New("document already cancelled")
	ErrConfigIncomplete         = errors.New("fiscal configuration incomplete")
	ErrUnsupportedDocumentType  = errors.New("unsupported document type")
	ErrIncompleteSourceDocument = errors.New("source document missing issue date, terminal or number")
)

// AlreadyInvoicedError is returned when an order already has a non-cancelled
// document, so the caller can stop retrying. It carries the existing
// document's identifying fields.
type AlreadyInvoicedError struct {
	Existing Summary
}

func (e *AlreadyInvoicedError) Error() string {
	return fmt.Sprintf("order already invoiced: %s %d-%d CAE %s",
		e.Existing.Type, e.Existing.PtoVta, e.Existing.Number, e.Existing.CAE)
}

// AuthorityError wraps any protocol-layer failure surfaced at the
// orchestrator boundary. Message embeds the parser's aggregated text when
// the authority answered, or the transport failure otherwise.
type AuthorityError struct {
	Stage   string
	Message string
	Err     error
}

func (e *AuthorityError) Error() string {
	return fmt.Sprintf("authority error during %s: %s", e.Stage, e.Message)
}

func (e *AuthorityError) Unwrap() error { return e.Err }

// PersistenceError marks a document that was authorized by the authority but
// could not be stored locally. The CAE exists and must be reconciled by an
// operator; the document is never re-requested automatically.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("authorized document could not be persisted: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
