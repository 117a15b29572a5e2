package fiscal

import (
	"context"
	"log/slog"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// Service orchestrates the fiscal use cases: invoice issuance, credit-note
// issuance and the connection health check. Each invocation is an
// independent request-response unit; the only shared mutable state is the
// per-(terminal, type) counter, guarded by the storage layer's atomic
// increment.
type Service struct {
	identities fiscal.IdentityRepository
	documents  fiscal.DocumentRepository
	orders     fiscal.OrderRepository
	errorLog   fiscal.ErrorLog
	authorizer fiscal.Authorizer
	log        *slog.Logger
	now        func() time.Time
}

// NewService creates the fiscal application service.
func NewService(
	identities fiscal.IdentityRepository,
	documents fiscal.DocumentRepository,
	orders fiscal.OrderRepository,
	errorLog fiscal.ErrorLog,
	authorizer fiscal.Authorizer,
	log *slog.Logger,
) *Service {
	return &Service{
		identities: identities,
		documents:  documents,
		orders:     orders,
		errorLog:   errorLog,
		authorizer: authorizer,
		log:        log,
		now:        time.Now,
	}
}

// recordError appends a diagnostic entry; failures to write the log itself
// are only logged, the original error still propagates to the caller.
func (s *Service) recordError(ctx context.Context, stage, message, requestSnapshot, responseSnapshot string) {
	rec := fiscal.ErrorRecord{
		Stage:            stage,
		Message:          message,
		RequestSnapshot:  requestSnapshot,
		ResponseSnapshot: responseSnapshot,
		CreatedAt:        s.now(),
	}
	if err := s.errorLog.Record(ctx, rec); err != nil {
		s.log.Error("failed to write error record", "stage", stage, "error", err)
	}
}

// GetDocument returns a persisted document by id.
func (s *Service) GetDocument(ctx context.Context, id string) (*fiscal.Document, error) {
	return s.documents.FindByID(ctx, id)
}

// GetDocumentByOrder returns the active (non-cancelled) document linked to
// an order. Returns ErrNotFound when the order was never invoiced.
func (s *Service) GetDocumentByOrder(ctx context.Context, orderID string) (*fiscal.Document, error) {
	doc, err := s.documents.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fiscal.ErrNotFound
	}
	return doc, nil
}

const defaultErrorListLimit = 50

// ListErrors returns recent diagnostic entries, newest first, optionally
// filtered by stage.
func (s *Service) ListErrors(ctx context.Context, stage string, limit int) ([]fiscal.ErrorRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultErrorListLimit
	}
	return s.errorLog.List(ctx, stage, limit)
}
