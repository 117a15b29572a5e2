package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_afip/internal/adapters/invoice/afip"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// IssueInvoiceInput describes a new invoice request for an order.
type IssueInvoiceInput struct {
	BranchID                 string
	OrderID                  *string
	Type                     fiscal.DocumentType
	CounterpartyTaxID        string
	CounterpartyName         string
	CounterpartyTaxCondition int
	Items                    []fiscal.LineItem
	Total                    float64
}

// simulatedCAEExpiry mirrors the authority's usual validity window.
const simulatedCAEExpiry = 10 * 24 * time.Hour

// IssueInvoice authorizes and persists a new invoice. On success the
// returned document carries the CAE and its expiry; callers surface both to
// the buyer. When the order already has an active document the call fails
// with AlreadyInvoicedError carrying the existing document's summary, so no
// duplicate is ever requested.
func (s *Service) IssueInvoice(ctx context.Context, in IssueInvoiceInput) (*fiscal.Document, error) {
	if in.Type.IsCreditNote() {
		return nil, fiscal.ErrUnsupportedDocumentType
	}
	cbteTipo, ok := in.Type.CbteTipo()
	if !ok {
		return nil, fiscal.ErrUnsupportedDocumentType
	}
	if in.Total <= 0 {
		return nil, fmt.Errorf("invoice total must be positive, got %.2f", in.Total)
	}

	if in.OrderID != nil {
		existing, err := s.documents.FindActiveByOrder(ctx, *in.OrderID)
		if err != nil {
			return nil, fmt.Errorf("check order invoicing state: %w", err)
		}
		if existing != nil {
			return nil, &fiscal.AlreadyInvoicedError{Existing: existing.Summarize()}
		}
	}

	identity, err := s.loadIdentity(ctx, in.BranchID)
	if err != nil {
		return nil, err
	}

	net, vat := fiscal.SplitVAT(in.Total)

	docTipo := fiscal.DocTipoConsumidorFinal
	docNro := "0"
	if taxID := strings.TrimSpace(in.CounterpartyTaxID); taxID != "" {
		docTipo = fiscal.DocTipoCUIT
		docNro = afip.NormalizeCUIT(taxID)
	}

	issueDate := s.now()
	doc := &fiscal.Document{
		ID:                       uuid.NewString(),
		BranchID:                 in.BranchID,
		Type:                     in.Type,
		CbteTipo:                 cbteTipo,
		PtoVta:                   identity.PtoVta,
		IssueDate:                issueDate,
		CounterpartyDocType:      docTipo,
		CounterpartyTaxID:        in.CounterpartyTaxID,
		CounterpartyName:         in.CounterpartyName,
		CounterpartyTaxCondition: in.CounterpartyTaxCondition,
		NetAmount:                net,
		VATAmount:                vat,
		TotalAmount:              in.Total,
		OrderID:                  in.OrderID,
		CreatedAt:                issueDate,
	}

	if !identity.Production {
		number, err := s.identities.NextNumber(ctx, identity.BranchID, cbteTipo)
		if err != nil {
			return nil, fmt.Errorf("advance local counter: %w", err)
		}
		s.synthesize(doc, number)
	} else {
		number, err := s.nextInvoiceNumber(ctx, identity, cbteTipo)
		if err != nil {
			return nil, s.authorityFailure(ctx, "consultar numeracion", err, "", "")
		}
		doc.Number = number

		auth, err := s.authorize(ctx, identity, buildRequest(doc, net, vat, in.Total, docTipo, docNro, in.CounterpartyTaxCondition, nil))
		if err != nil {
			return nil, err
		}
		applyAuthorization(doc, auth)
	}

	if err := s.persist(ctx, doc); err != nil {
		return nil, err
	}

	if in.OrderID != nil {
		if err := s.orders.AttachAuthorization(ctx, *in.OrderID, doc); err != nil {
			s.log.Error("failed to attach authorization to order",
				"order_id", *in.OrderID, "document_id", doc.ID, "error", err)
		}
	}

	s.log.Info("invoice issued",
		"document_id", doc.ID,
		"branch_id", doc.BranchID,
		"type", doc.Type,
		"number", doc.Number,
		"simulated", doc.Simulated,
	)
	return doc, nil
}

// loadIdentity fetches the branch identity and validates it is usable.
func (s *Service) loadIdentity(ctx context.Context, branchID string) (*fiscal.Identity, error) {
	identity, err := s.identities.Get(ctx, branchID)
	if err != nil {
		if errors.Is(err, fiscal.ErrNotFound) {
			return nil, fiscal.ErrConfigIncomplete
		}
		return nil, fmt.Errorf("load fiscal identity: %w", err)
	}
	if !identity.Complete() {
		return nil, fiscal.ErrConfigIncomplete
	}
	return identity, nil
}

// synthesize fills the authorization fields of a simulated document without
// touching the network.
func (s *Service) synthesize(doc *fiscal.Document, number int64) {
	doc.Number = number
	doc.CAE = fmt.Sprintf("SIM-%d", s.now().Unix())
	doc.CAEExpiry = doc.IssueDate.Add(simulatedCAEExpiry)
	doc.Simulated = true
}

// authorize runs the CAE request and translates protocol failures into the
// orchestrator error taxonomy, recording a diagnostic entry on the way.
func (s *Service) authorize(ctx context.Context, identity *fiscal.Identity, req fiscal.AuthorizationRequest) (*fiscal.Authorization, error) {
	auth, err := s.authorizer.Authorize(ctx, identity, req)
	if err != nil {
		var raw, rawResp string
		if auth != nil {
			raw, rawResp = auth.RawRequest, auth.RawResponse
		}
		return nil, s.authorityFailure(ctx, "solicitar CAE", err, raw, rawResp)
	}
	return auth, nil
}

// errorSnapshotLimit caps the raw request/response stored on an error
// record; whole envelopes can run to megabytes and the log only needs the
// head for diagnosis.
const errorSnapshotLimit = 2000

// authorityFailure records the diagnostic entry, with truncated snapshots of
// the raw exchange, and wraps the protocol error.
func (s *Service) authorityFailure(ctx context.Context, stage string, err error, rawRequest, rawResponse string) error {
	message := err.Error()
	var rejected *afip.RejectedError
	if errors.As(err, &rejected) {
		message = rejected.Message
	}
	s.recordError(ctx, stage, message,
		afip.Truncate(rawRequest, errorSnapshotLimit),
		afip.Truncate(rawResponse, errorSnapshotLimit))
	return &fiscal.AuthorityError{Stage: stage, Message: message, Err: err}
}

// persist saves the authorized document; a failure here means a valid CAE
// exists without a local record, which the error log captures for manual
// reconciliation.
func (s *Service) persist(ctx context.Context, doc *fiscal.Document) error {
	if err := s.documents.Save(ctx, doc); err != nil {
		s.recordError(ctx, "persistir comprobante",
			fmt.Sprintf("document %s %d-%d CAE %s: %v", doc.Type, doc.PtoVta, doc.Number, doc.CAE, err),
			doc.RawRequest, doc.RawResponse)
		return &fiscal.PersistenceError{Err: err}
	}
	if !doc.Simulated {
		s.settleCounter(ctx, doc.BranchID, doc.CbteTipo, doc.Number)
	}
	return nil
}

// applyAuthorization copies the authority's answer onto the document.
func applyAuthorization(doc *fiscal.Document, auth *fiscal.Authorization) {
	doc.CAE = auth.CAE
	doc.CAEExpiry = auth.CAEExpiry
	doc.RawRequest = auth.RawRequest
	doc.RawResponse = auth.RawResponse
}

// buildRequest assembles the protocol descriptor for a single-document,
// products-only, peso-denominated request at the 21% rate.
func buildRequest(doc *fiscal.Document, net, vat, total float64, docTipo int, docNro string, condicionIVA int, assoc *fiscal.AssociatedDocument) fiscal.AuthorizationRequest {
	return fiscal.AuthorizationRequest{
		CbteTipo:             doc.CbteTipo,
		Concepto:             1,
		DocTipo:              docTipo,
		DocNro:               docNro,
		CbteDesde:            doc.Number,
		CbteHasta:            doc.Number,
		Date:                 doc.IssueDate,
		ImpTotal:             total,
		ImpNeto:              net,
		ImpIVA:               vat,
		MonID:                "PES",
		CondicionIVAReceptor: condicionIVA,
		IVA: []fiscal.VATLine{
			{ID: fiscal.AlicIvaID21, BaseImp: net, Importe: vat},
		},
		Associated: assoc,
	}
}
