package fiscal

import (
	"context"
	"errors"
	"testing"
	"time"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

func storedInvoice(documents *fakeDocuments) *fiscal.Document {
	doc := &fiscal.Document{
		ID:                  "inv-1",
		BranchID:            "branch-1",
		Type:                fiscal.InvoiceB,
		CbteTipo:            fiscal.CbteTipoFacturaB,
		PtoVta:              3,
		Number:              42,
		IssueDate:           time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		CounterpartyDocType: fiscal.DocTipoConsumidorFinal,
		NetAmount:           1000,
		VATAmount:           210,
		TotalAmount:         1210,
	}
	documents.byID[doc.ID] = doc
	return doc
}

func TestIssueCreditNote_Production(t *testing.T) {
	identities := &fakeIdentities{identity: productionIdentity()}
	documents := newFakeDocuments()
	original := storedInvoice(documents)
	documents.maxByTipo[fiscal.CbteTipoNotaCreditoB] = 6
	errorLog := &fakeErrorLog{}
	authorizer := &fakeAuthorizer{
		lastByTipo: map[int]int64{fiscal.CbteTipoNotaCreditoB: 6},
		auth: &fiscal.Authorization{
			CAE:       "75999999999999",
			CAEExpiry: time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC),
			Result:    "A",
		},
	}
	svc := newTestService(identities, documents, &fakeOrders{}, errorLog, authorizer)

	note, err := svc.IssueCreditNote(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if note.Type != fiscal.CreditNoteB {
		t.Errorf("expected NCB for a B invoice, got %s", note.Type)
	}
	if note.Number != 7 {
		t.Errorf("expected note number 7, got %d", note.Number)
	}
	if note.TotalAmount != original.TotalAmount || note.NetAmount != original.NetAmount || note.VATAmount != original.VATAmount {
		t.Error("expected amounts copied from the original invoice")
	}
	if note.AssociatedDocumentID == nil || *note.AssociatedDocumentID != "inv-1" {
		t.Error("expected note linked to the original document")
	}

	req := authorizer.authorizeReqs[0]
	if req.Associated == nil {
		t.Fatal("expected associated document block in the request")
	}
	if req.Associated.CbteTipo != fiscal.CbteTipoFacturaB || req.Associated.Number != 42 || req.Associated.PtoVta != 3 {
		t.Errorf("associated block references wrong document: %+v", req.Associated)
	}
	if !req.Associated.Date.Equal(original.IssueDate) {
		t.Errorf("associated date should be the original issue date, got %v", req.Associated.Date)
	}

	if len(documents.marked) != 1 || documents.marked[0] != "inv-1" {
		t.Errorf("expected original marked cancelled, got %v", documents.marked)
	}
	if !original.Cancelled {
		t.Error("expected original flagged cancelled")
	}
}

func TestIssueCreditNote_Simulated(t *testing.T) {
	identities := &fakeIdentities{identity: simulatedIdentity()}
	documents := newFakeDocuments()
	storedInvoice(documents)
	authorizer := &fakeAuthorizer{}
	svc := newTestService(identities, documents, &fakeOrders{}, &fakeErrorLog{}, authorizer)

	note, err := svc.IssueCreditNote(context.Background(), "inv-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !note.Simulated {
		t.Error("expected simulated note")
	}
	if authorizer.lastCalls != 0 || len(authorizer.authorizeReqs) != 0 {
		t.Error("simulated credit note must not reach the authority")
	}
	if len(documents.marked) != 1 {
		t.Error("expected original marked cancelled in simulated mode too")
	}
}

func TestIssueCreditNote_Preconditions(t *testing.T) {
	newSvc := func(mutate func(*fiscal.Document)) (*Service, *fakeDocuments) {
		documents := newFakeDocuments()
		doc := storedInvoice(documents)
		if mutate != nil {
			mutate(doc)
		}
		svc := newTestService(&fakeIdentities{identity: productionIdentity()}, documents, &fakeOrders{}, &fakeErrorLog{}, &fakeAuthorizer{lastByTipo: map[int]int64{}})
		return svc, documents
	}

	t.Run("unknown document", func(t *testing.T) {
		svc, _ := newSvc(nil)
		_, err := svc.IssueCreditNote(context.Background(), "missing")
		if !errors.Is(err, fiscal.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("already cancelled", func(t *testing.T) {
		svc, _ := newSvc(func(d *fiscal.Document) { d.Cancelled = true })
		_, err := svc.IssueCreditNote(context.Background(), "inv-1")
		if !errors.Is(err, fiscal.ErrAlreadyCancelled) {
			t.Errorf("expected ErrAlreadyCancelled, got %v", err)
		}
	})

	t.Run("credit note of a credit note", func(t *testing.T) {
		svc, _ := newSvc(func(d *fiscal.Document) { d.Type = fiscal.CreditNoteB })
		_, err := svc.IssueCreditNote(context.Background(), "inv-1")
		if !errors.Is(err, fiscal.ErrUnsupportedDocumentType) {
			t.Errorf("expected ErrUnsupportedDocumentType, got %v", err)
		}
	})

	t.Run("incomplete source", func(t *testing.T) {
		svc, _ := newSvc(func(d *fiscal.Document) { d.Number = 0 })
		_, err := svc.IssueCreditNote(context.Background(), "inv-1")
		if !errors.Is(err, fiscal.ErrIncompleteSourceDocument) {
			t.Errorf("expected ErrIncompleteSourceDocument, got %v", err)
		}
	})
}
