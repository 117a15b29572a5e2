package fiscal

import (
	"context"
	"time"
)

// IdentityRepository persists branch fiscal identities and their per-type
// document counters.
type IdentityRepository interface {
	// Get loads the identity for a branch. Returns ErrNotFound when the
	// branch has no fiscal configuration record.
	Get(ctx context.Context, branchID string) (*Identity, error)
	// NextNumber atomically increments and returns the counter for a
	// comprobante type. The increment happens in storage so concurrent
	// terminals never observe the same candidate.
	NextNumber(ctx context.Context, branchID string, cbteTipo int) (int64, error)
	// SetCounter forces the counter for a comprobante type to a known value,
	// used when reconciliation detects drift against the authority.
	SetCounter(ctx context.Context, branchID string, cbteTipo int, number int64) error
	// SaveHealth stores the latest connection-check snapshot on the identity.
	SaveHealth(ctx context.Context, branchID string, snapshot HealthSnapshot) error
}

// DocumentRepository persists issued tax documents.
type DocumentRepository interface {
	Save(ctx context.Context, doc *Document) error
	FindByID(ctx context.Context, id string) (*Document, error)
	// FindActiveByOrder returns the non-cancelled document linked to an
	// order, or nil when the order was never invoiced.
	FindActiveByOrder(ctx context.Context, orderID string) (*Document, error)
	// MaxNumber returns the highest locally stored number for a
	// (branch, comprobante type) pair, 0 when none exist.
	MaxNumber(ctx context.Context, branchID string, cbteTipo int) (int64, error)
	// MarkCancelled flips the cancelled flag on an existing document.
	MarkCancelled(ctx context.Context, id string) error
}

// ErrorLog is the append-only diagnostic log written on protocol or
// persistence failures. List serves the operator read endpoint.
type ErrorLog interface {
	Record(ctx context.Context, rec ErrorRecord) error
	// List returns the most recent entries, newest first, optionally
	// filtered by stage. An empty stage matches everything.
	List(ctx context.Context, stage string, limit int) ([]ErrorRecord, error)
}

// OrderRepository propagates authorization data back onto the originating
// order. Failures here are logged, never fatal: the fiscal document is
// already valid.
type OrderRepository interface {
	AttachAuthorization(ctx context.Context, orderID string, doc *Document) error
}

// Authorization is the outcome of a CAE request, parsed from the authority's
// response. Messages aggregates errors, observations and events even on
// approval; observations accompany approved documents and are never dropped.
type Authorization struct {
	CAE         string
	CAEExpiry   time.Time
	CbteDesde   int64
	CbteHasta   int64
	Result      string
	Messages    string
	RawRequest  string
	RawResponse string
}

// VATLine is a per-rate VAT breakdown entry (AlicIva).
type VATLine struct {
	ID      int
	BaseImp float64
	Importe float64
}

// AssociatedDocument references the invoice a credit note reverses.
type AssociatedDocument struct {
	CbteTipo int
	PtoVta   int
	Number   int64
	CUIT     string
	Date     time.Time
}

// AuthorizationRequest is the structured descriptor sent to the authority
// for a new document.
type AuthorizationRequest struct {
	CbteTipo                 int
	Concepto                 int
	DocTipo                  int
	DocNro                   string
	CbteDesde                int64
	CbteHasta                int64
	Date                     time.Time
	ImpTotal                 float64
	ImpNeto                  float64
	ImpIVA                   float64
	ImpOpEx                  float64
	MonID                    string
	CondicionIVAReceptor     int
	IVA                      []VATLine
	Associated               *AssociatedDocument
}

// Authorizer is the protocol client boundary: query the authority's last
// authorized number and request authorization for a new document. Both calls
// authenticate internally; credentials are never reused across invocations.
type Authorizer interface {
	LastAuthorized(ctx context.Context, identity *Identity, cbteTipo int) (int64, error)
	Authorize(ctx context.Context, identity *Identity, req AuthorizationRequest) (*Authorization, error)
}
