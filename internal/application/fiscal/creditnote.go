package fiscal

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"3tcapital/ms_facturacion_afip/internal/adapters/invoice/afip"
	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// IssueCreditNote reverses a previously issued invoice in full. The note
// carries the same amounts as the original, references it as an associated
// document, and on success the original is marked cancelled.
func (s *Service) IssueCreditNote(ctx context.Context, invoiceDocumentID string) (*fiscal.Document, error) {
	original, err := s.documents.FindByID(ctx, invoiceDocumentID)
	if err != nil {
		return nil, err
	}
	if original.Cancelled {
		return nil, fiscal.ErrAlreadyCancelled
	}

	noteType, ok := original.Type.CreditNoteType()
	if !ok {
		return nil, fiscal.ErrUnsupportedDocumentType
	}
	noteTipo, _ := noteType.CbteTipo()

	if original.IssueDate.IsZero() || original.PtoVta == 0 || original.Number == 0 {
		return nil, fiscal.ErrIncompleteSourceDocument
	}

	identity, err := s.loadIdentity(ctx, original.BranchID)
	if err != nil {
		return nil, err
	}

	issueDate := s.now()
	doc := &fiscal.Document{
		ID:                       uuid.NewString(),
		BranchID:                 original.BranchID,
		Type:                     noteType,
		CbteTipo:                 noteTipo,
		PtoVta:                   identity.PtoVta,
		IssueDate:                issueDate,
		CounterpartyDocType:      original.CounterpartyDocType,
		CounterpartyTaxID:        original.CounterpartyTaxID,
		CounterpartyName:         original.CounterpartyName,
		CounterpartyTaxCondition: original.CounterpartyTaxCondition,
		NetAmount:                original.NetAmount,
		VATAmount:                original.VATAmount,
		TotalAmount:              original.TotalAmount,
		AssociatedDocumentID:     &original.ID,
		CreatedAt:                issueDate,
	}

	if !identity.Production {
		highest, err := s.documents.MaxNumber(ctx, original.BranchID, noteTipo)
		if err != nil {
			return nil, fmt.Errorf("query local credit-note sequence: %w", err)
		}
		s.synthesize(doc, highest+1)
	} else {
		number, err := s.nextCreditNoteNumber(ctx, identity, noteTipo)
		if err != nil {
			return nil, s.authorityFailure(ctx, "consultar numeracion", err, "", "")
		}
		doc.Number = number

		docNro := afip.NormalizeCUIT(original.CounterpartyTaxID)
		if original.CounterpartyDocType == fiscal.DocTipoConsumidorFinal {
			docNro = "0"
		}
		assoc := &fiscal.AssociatedDocument{
			CbteTipo: original.CbteTipo,
			PtoVta:   original.PtoVta,
			Number:   original.Number,
			CUIT:     identity.CUIT,
			Date:     original.IssueDate,
		}
		auth, err := s.authorize(ctx, identity, buildRequest(doc,
			doc.NetAmount, doc.VATAmount, doc.TotalAmount,
			original.CounterpartyDocType, docNro, original.CounterpartyTaxCondition, assoc))
		if err != nil {
			return nil, err
		}
		applyAuthorization(doc, auth)
	}

	if err := s.persist(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.documents.MarkCancelled(ctx, original.ID); err != nil {
		s.log.Error("failed to mark original document cancelled",
			"document_id", original.ID, "credit_note_id", doc.ID, "error", err)
	}

	s.log.Info("credit note issued",
		"document_id", doc.ID,
		"reverses", original.ID,
		"branch_id", doc.BranchID,
		"type", doc.Type,
		"number", doc.Number,
		"simulated", doc.Simulated,
	)
	return doc, nil
}
