package fiscal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	appfiscal "3tcapital/ms_facturacion_afip/internal/application/fiscal"
	corefiscal "3tcapital/ms_facturacion_afip/internal/core/fiscal"
	"3tcapital/ms_facturacion_afip/internal/testutil"
)

// In-memory implementations of the persistence boundaries, enough to drive
// the real application service through the handler.

type memStore struct {
	identity     *corefiscal.Identity
	docs         map[string]*corefiscal.Document
	byOrder      map[string]*corefiscal.Document
	errorRecords []corefiscal.ErrorRecord
}

func newMemStore() *memStore {
	return &memStore{
		docs:    map[string]*corefiscal.Document{},
		byOrder: map[string]*corefiscal.Document{},
	}
}

func (m *memStore) Get(_ context.Context, branchID string) (*corefiscal.Identity, error) {
	if m.identity == nil || m.identity.BranchID != branchID {
		return nil, corefiscal.ErrNotFound
	}
	return m.identity, nil
}

func (m *memStore) NextNumber(_ context.Context, _ string, cbteTipo int) (int64, error) {
	if m.identity.Counters == nil {
		m.identity.Counters = map[int]int64{}
	}
	m.identity.Counters[cbteTipo]++
	return m.identity.Counters[cbteTipo], nil
}

func (m *memStore) SetCounter(_ context.Context, _ string, cbteTipo int, number int64) error {
	m.identity.Counters[cbteTipo] = number
	return nil
}

func (m *memStore) SaveHealth(_ context.Context, _ string, _ corefiscal.HealthSnapshot) error {
	return nil
}

func (m *memStore) Save(_ context.Context, doc *corefiscal.Document) error {
	m.docs[doc.ID] = doc
	if doc.OrderID != nil {
		m.byOrder[*doc.OrderID] = doc
	}
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*corefiscal.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, corefiscal.ErrNotFound
	}
	return doc, nil
}

func (m *memStore) FindActiveByOrder(_ context.Context, orderID string) (*corefiscal.Document, error) {
	doc, ok := m.byOrder[orderID]
	if !ok || doc.Cancelled {
		return nil, nil
	}
	return doc, nil
}

func (m *memStore) MaxNumber(_ context.Context, _ string, cbteTipo int) (int64, error) {
	var max int64
	for _, doc := range m.docs {
		if doc.CbteTipo == cbteTipo && doc.Number > max {
			max = doc.Number
		}
	}
	return max, nil
}

func (m *memStore) MarkCancelled(_ context.Context, id string) error {
	if doc, ok := m.docs[id]; ok {
		doc.Cancelled = true
	}
	return nil
}

func (m *memStore) Record(_ context.Context, rec corefiscal.ErrorRecord) error {
	m.errorRecords = append(m.errorRecords, rec)
	return nil
}

func (m *memStore) List(_ context.Context, stage string, limit int) ([]corefiscal.ErrorRecord, error) {
	var out []corefiscal.ErrorRecord
	for i := len(m.errorRecords) - 1; i >= 0 && len(out) < limit; i-- {
		if stage == "" || m.errorRecords[i].Stage == stage {
			out = append(out, m.errorRecords[i])
		}
	}
	return out, nil
}

func (m *memStore) AttachAuthorization(_ context.Context, _ string, _ *corefiscal.Document) error {
	return nil
}

type noopAuthorizer struct{}

func (noopAuthorizer) LastAuthorized(_ context.Context, _ *corefiscal.Identity, _ int) (int64, error) {
	return 0, nil
}

func (noopAuthorizer) Authorize(_ context.Context, _ *corefiscal.Identity, req corefiscal.AuthorizationRequest) (*corefiscal.Authorization, error) {
	return &corefiscal.Authorization{CAE: "75000011112222", CbteDesde: req.CbteDesde, Result: "A"}, nil
}

func newTestHandler(store *memStore) *Handler {
	log := testutil.NewNullLogger()
	svc := appfiscal.NewService(store, store, store, store, noopAuthorizer{}, log)
	return NewHandler(svc, log)
}

func simulatedStore() *memStore {
	store := newMemStore()
	store.identity = &corefiscal.Identity{
		BranchID:    "branch-1",
		CUIT:        "30712345678",
		Certificate: "CERT",
		PrivateKey:  "KEY",
		PtoVta:      2,
		Production:  false,
		Counters:    map[int]int64{},
	}
	return store
}

func postJSON(handler http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	req := testutil.CreateRequest(http.MethodPost, path, body, nil)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestHandler_IssueInvoice(t *testing.T) {
	store := simulatedStore()
	handler := newTestHandler(store)

	body := IssueInvoiceRequest{
		BranchID:         "branch-1",
		DocumentType:     "B",
		CounterpartyName: "Consumidor Final",
		Total:            1210,
	}

	w := postJSON(handler.IssueInvoice, "/api/v1/comprobantes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp DocumentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Type != "B" || resp.Number != 1 || !resp.Simulated {
		t.Errorf("unexpected document: %+v", resp)
	}
	if resp.CAE == "" {
		t.Error("expected authorization code in response")
	}
}

func TestHandler_IssueInvoice_Validation(t *testing.T) {
	handler := newTestHandler(simulatedStore())

	tests := []struct {
		name string
		body IssueInvoiceRequest
	}{
		{"missing branch", IssueInvoiceRequest{DocumentType: "B", Total: 100}},
		{"missing type", IssueInvoiceRequest{BranchID: "branch-1", Total: 100}},
		{"zero total", IssueInvoiceRequest{BranchID: "branch-1", DocumentType: "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(handler.IssueInvoice, "/api/v1/comprobantes", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
}

func TestHandler_IssueInvoice_DuplicateOrder(t *testing.T) {
	store := simulatedStore()
	orderID := "order-1"
	existing := &corefiscal.Document{
		ID: "doc-1", Type: corefiscal.InvoiceB, PtoVta: 2, Number: 9,
		CAE: "SIM-1", OrderID: &orderID,
	}
	store.docs[existing.ID] = existing
	store.byOrder[orderID] = existing
	handler := newTestHandler(store)

	body := IssueInvoiceRequest{BranchID: "branch-1", OrderID: &orderID, DocumentType: "B", Total: 100}
	w := postJSON(handler.IssueInvoice, "/api/v1/comprobantes", body)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	resp := testutil.ReadErrorResponse(t, w)
	existingBlock, ok := resp["existing"].(map[string]any)
	if !ok {
		t.Fatalf("expected existing document block, got %v", resp)
	}
	if existingBlock["documentId"] != "doc-1" {
		t.Errorf("expected existing documentId doc-1, got %v", existingBlock["documentId"])
	}
}

func TestHandler_IssueInvoice_Unconfigured(t *testing.T) {
	handler := newTestHandler(newMemStore())

	body := IssueInvoiceRequest{BranchID: "branch-1", DocumentType: "B", Total: 100}
	w := postJSON(handler.IssueInvoice, "/api/v1/comprobantes", body)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unconfigured branch, got %d", w.Code)
	}
}

func TestHandler_IssueCreditNote(t *testing.T) {
	store := simulatedStore()
	handler := newTestHandler(store)

	// Issue an invoice first, then reverse it.
	body := IssueInvoiceRequest{BranchID: "branch-1", DocumentType: "B", Total: 500}
	w := postJSON(handler.IssueInvoice, "/api/v1/comprobantes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("setup invoice failed: %d", w.Code)
	}
	var invoice DocumentResponse
	_ = json.NewDecoder(w.Body).Decode(&invoice)

	w = postJSON(handler.IssueCreditNote, "/api/v1/notas-credito", IssueCreditNoteRequest{InvoiceDocumentID: invoice.ID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	raw := w.Body.Bytes()
	var note DocumentResponse
	_ = json.Unmarshal(raw, &note)
	if note.Type != "NCB" {
		t.Errorf("expected NCB, got %s", note.Type)
	}
	if note.OriginalDocumentID == nil || *note.OriginalDocumentID != invoice.ID {
		t.Error("expected note linked to the invoice")
	}
	var keys map[string]interface{}
	_ = json.Unmarshal(raw, &keys)
	if keys["originalDocumentId"] != invoice.ID {
		t.Errorf("expected originalDocumentId key in payload, got %v", keys)
	}

	// Second reversal conflicts.
	w = postJSON(handler.IssueCreditNote, "/api/v1/notas-credito", IssueCreditNoteRequest{InvoiceDocumentID: invoice.ID})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for already cancelled, got %d", w.Code)
	}
}

func TestHandler_IssueCreditNote_NotFound(t *testing.T) {
	handler := newTestHandler(simulatedStore())

	w := postJSON(handler.IssueCreditNote, "/api/v1/notas-credito", IssueCreditNoteRequest{InvoiceDocumentID: "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_GetDocument(t *testing.T) {
	store := simulatedStore()
	doc := &corefiscal.Document{ID: "doc-1", Type: corefiscal.InvoiceB, Number: 4}
	store.docs[doc.ID] = doc
	handler := newTestHandler(store)

	r := chi.NewRouter()
	r.Get("/api/v1/comprobantes/{id}", handler.GetDocument)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/comprobantes/doc-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/comprobantes/missing", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandler_GetDocumentByOrder(t *testing.T) {
	store := simulatedStore()
	orderID := "order-7"
	doc := &corefiscal.Document{ID: "doc-1", Type: corefiscal.InvoiceB, Number: 4, OrderID: &orderID}
	store.docs[doc.ID] = doc
	store.byOrder[orderID] = doc
	handler := newTestHandler(store)

	r := chi.NewRouter()
	r.Get("/api/v1/ordenes/{orderId}/comprobante", handler.GetDocumentByOrder)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ordenes/order-7/comprobante", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp DocumentResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "doc-1" {
		t.Errorf("expected doc-1, got %q", resp.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ordenes/never-invoiced/comprobante", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for uninvoiced order, got %d", w.Code)
	}
}

func TestHandler_ListErrors(t *testing.T) {
	store := simulatedStore()
	store.errorRecords = []corefiscal.ErrorRecord{
		{ID: "1", Stage: "solicitar CAE", Message: "rechazo 10016"},
		{ID: "2", Stage: "persistir comprobante", Message: "insert failed"},
		{ID: "3", Stage: "solicitar CAE", Message: "timeout"},
	}
	handler := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/errores?stage=solicitar+CAE", nil)
	w := httptest.NewRecorder()
	handler.ListErrors(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Errors []ErrorRecordResponse `json:"errors"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 2 {
		t.Fatalf("expected 2 records, got %d", len(resp.Errors))
	}
	if resp.Errors[0].Message != "timeout" {
		t.Errorf("expected newest first, got %q", resp.Errors[0].Message)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/errores?limit=abc", nil)
	w = httptest.NewRecorder()
	handler.ListErrors(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestHandler_CheckConnection(t *testing.T) {
	handler := newTestHandler(simulatedStore())

	w := postJSON(handler.CheckConnection, "/api/v1/afip/estado", CheckConnectionRequest{BranchID: "branch-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp ConnectionStatusResponse
	testutil.ReadJSONResponse(t, w, &resp)
	if !resp.Success || resp.Status != corefiscal.HealthConnected {
		t.Errorf("expected successful connected check, got %+v", resp)
	}
	if resp.Mode != "simulated" {
		t.Errorf("expected simulated mode, got %q", resp.Mode)
	}
}
