package fiscal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appfiscal "3tcapital/ms_facturacion_afip/internal/application/fiscal"
	corefiscal "3tcapital/ms_facturacion_afip/internal/core/fiscal"
	httperrors "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
)

// Handler bridges HTTP traffic with the fiscal application service.
type Handler struct {
	service *appfiscal.Service
	log     *slog.Logger
}

// NewHandler creates a new fiscal HTTP handler.
func NewHandler(service *appfiscal.Service, log *slog.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// IssueInvoiceRequest is the request body for issuing an invoice.
type IssueInvoiceRequest struct {
	BranchID                 string            `json:"branchId"`
	OrderID                  *string           `json:"orderId,omitempty"`
	DocumentType             string            `json:"documentType"`
	CounterpartyTaxID        string            `json:"counterpartyTaxId"`
	CounterpartyName         string            `json:"counterpartyName"`
	CounterpartyTaxCondition int               `json:"counterpartyTaxCondition"`
	LineItems                []LineItemPayload `json:"lineItems"`
	Total                    float64           `json:"total"`
}

// LineItemPayload is an order line in an invoice request.
type LineItemPayload struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// IssueCreditNoteRequest is the request body for reversing an invoice.
type IssueCreditNoteRequest struct {
	InvoiceDocumentID string `json:"invoiceDocumentId"`
}

// CheckConnectionRequest is the request body for the connection check.
type CheckConnectionRequest struct {
	BranchID string `json:"branchId"`
}

// DocumentResponse is the response shape for an issued or fetched document.
type DocumentResponse struct {
	ID                   string  `json:"documentId"`
	BranchID             string  `json:"branchId"`
	Type                 string  `json:"type"`
	PtoVta               int     `json:"terminalNumber"`
	Number               int64   `json:"number"`
	IssueDate            string  `json:"issueDate"`
	CAE                  string  `json:"authorizationCode"`
	CAEExpiry            string  `json:"authorizationExpiry"`
	NetAmount            float64 `json:"netAmount"`
	VATAmount            float64 `json:"vatAmount"`
	TotalAmount          float64 `json:"totalAmount"`
	Cancelled            bool    `json:"cancelled"`
	OriginalDocumentID   *string `json:"originalDocumentId,omitempty"`
	OrderID              *string `json:"orderId,omitempty"`
	Simulated            bool    `json:"simulated"`
}

// ErrorRecordResponse is a diagnostic entry in the error-log listing.
type ErrorRecordResponse struct {
	ID               string    `json:"id"`
	Stage            string    `json:"stage"`
	Message          string    `json:"message"`
	RequestSnapshot  string    `json:"requestSnapshot,omitempty"`
	ResponseSnapshot string    `json:"responseSnapshot,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ConnectionStatusResponse is the response shape of the connection check.
type ConnectionStatusResponse struct {
	Success     bool             `json:"success"`
	Status      string           `json:"status"`
	Mode        string           `json:"mode"`
	LastNumbers map[string]int64 `json:"lastNumbers,omitempty"`
	Message     string           `json:"message,omitempty"`
	CheckedAt   time.Time        `json:"checkedAt"`
}

// IssueInvoice handles POST /api/v1/comprobantes requests.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	var reqBody IssueInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, h.log)
		return
	}

	if reqBody.BranchID == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"branchId es requerido"}, h.log)
		return
	}
	if reqBody.DocumentType == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"documentType es requerido"}, h.log)
		return
	}
	if reqBody.Total <= 0 {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"total debe ser mayor a cero"}, h.log)
		return
	}

	items := make([]corefiscal.LineItem, 0, len(reqBody.LineItems))
	for _, item := range reqBody.LineItems {
		items = append(items, corefiscal.LineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	doc, err := h.service.IssueInvoice(r.Context(), appfiscal.IssueInvoiceInput{
		BranchID:                 reqBody.BranchID,
		OrderID:                  reqBody.OrderID,
		Type:                     corefiscal.DocumentType(reqBody.DocumentType),
		CounterpartyTaxID:        reqBody.CounterpartyTaxID,
		CounterpartyName:         reqBody.CounterpartyName,
		CounterpartyTaxCondition: reqBody.CounterpartyTaxCondition,
		Items:                    items,
		Total:                    reqBody.Total,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toDocumentResponse(doc), h.log)
}

// IssueCreditNote handles POST /api/v1/notas-credito requests.
func (h *Handler) IssueCreditNote(w http.ResponseWriter, r *http.Request) {
	var reqBody IssueCreditNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, h.log)
		return
	}
	if reqBody.InvoiceDocumentID == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"invoiceDocumentId es requerido"}, h.log)
		return
	}

	doc, err := h.service.IssueCreditNote(r.Context(), reqBody.InvoiceDocumentID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc), h.log)
}

// GetDocument handles GET /api/v1/comprobantes/{id} requests.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"id es requerido"}, h.log)
		return
	}

	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc), h.log)
}

// GetDocumentByOrder handles GET /api/v1/ordenes/{orderId}/comprobante
// requests, returning the active document linked to an order.
func (h *Handler) GetDocumentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"orderId es requerido"}, h.log)
		return
	}

	doc, err := h.service.GetDocumentByOrder(r.Context(), orderID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDocumentResponse(doc), h.log)
}

// ListErrors handles GET /api/v1/errores requests. Supports optional
// "stage" and "limit" query parameters.
func (h *Handler) ListErrors(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"limit debe ser un número"}, h.log)
			return
		}
		limit = parsed
	}

	records, err := h.service.ListErrors(r.Context(), stage, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	out := make([]ErrorRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, ErrorRecordResponse{
			ID:               rec.ID,
			Stage:            rec.Stage,
			Message:          rec.Message,
			RequestSnapshot:  rec.RequestSnapshot,
			ResponseSnapshot: rec.ResponseSnapshot,
			CreatedAt:        rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": out}, h.log)
}

// CheckConnection handles POST /api/v1/afip/estado requests.
func (h *Handler) CheckConnection(w http.ResponseWriter, r *http.Request) {
	var reqBody CheckConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El cuerpo de la petición no es válido"}, h.log)
		return
	}
	if reqBody.BranchID == "" {
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"branchId es requerido"}, h.log)
		return
	}

	snapshot, production, err := h.service.CheckConnection(r.Context(), reqBody.BranchID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	mode := "simulated"
	if production {
		mode = "live"
	}
	writeJSON(w, http.StatusOK, ConnectionStatusResponse{
		Success:     snapshot.Status == corefiscal.HealthConnected,
		Status:      snapshot.Status,
		Mode:        mode,
		LastNumbers: snapshot.LastNumbers,
		Message:     snapshot.Message,
		CheckedAt:   snapshot.CheckedAt,
	}, h.log)
}

// handleError maps application errors to HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *corefiscal.AlreadyInvoicedError
	if errors.As(err, &dup) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":  "La orden ya fue facturada",
			"existing": dup.Existing,
		})
		return
	}

	switch {
	case errors.Is(err, corefiscal.ErrNotFound):
		httperrors.WriteError(w, http.StatusNotFound, "No Encontrado", []string{"El comprobante no existe"}, h.log)
	case errors.Is(err, corefiscal.ErrAlreadyCancelled):
		httperrors.WriteError(w, http.StatusConflict, "Conflicto", []string{"El comprobante ya fue anulado"}, h.log)
	case errors.Is(err, corefiscal.ErrConfigIncomplete):
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Configuración", []string{"La sucursal no tiene configuración fiscal completa"}, h.log)
	case errors.Is(err, corefiscal.ErrUnsupportedDocumentType):
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"Tipo de comprobante no soportado"}, h.log)
	case errors.Is(err, corefiscal.ErrIncompleteSourceDocument):
		httperrors.WriteError(w, http.StatusBadRequest, "Error de Validación", []string{"El comprobante original está incompleto"}, h.log)
	default:
		var authErr *corefiscal.AuthorityError
		if errors.As(err, &authErr) {
			h.log.Error("authority error", "stage", authErr.Stage, "message", authErr.Message)
			httperrors.WriteError(w, http.StatusInternalServerError, "Error del Servicio Fiscal", []string{authErr.Message}, h.log)
			return
		}
		var pErr *corefiscal.PersistenceError
		if errors.As(err, &pErr) {
			h.log.Error("persistence error after authorization", "error", pErr)
			httperrors.WriteError(w, http.StatusInternalServerError, "Error Interno del Servidor", []string{"El comprobante fue autorizado pero no pudo ser registrado"}, h.log)
			return
		}

		h.log.Error("unhandled error", "path", r.URL.Path, "error", err)
		httperrors.WriteError(w, http.StatusInternalServerError, "Error Interno del Servidor", []string{"Ha ocurrido un error interno"}, h.log)
	}
}

func toDocumentResponse(doc *corefiscal.Document) DocumentResponse {
	return DocumentResponse{
		ID:                   doc.ID,
		BranchID:             doc.BranchID,
		Type:                 string(doc.Type),
		PtoVta:               doc.PtoVta,
		Number:               doc.Number,
		IssueDate:            doc.IssueDate.Format("2006-01-02"),
		CAE:                  doc.CAE,
		CAEExpiry:            doc.CAEExpiry.Format("2006-01-02"),
		NetAmount:            doc.NetAmount,
		VATAmount:            doc.VATAmount,
		TotalAmount:          doc.TotalAmount,
		Cancelled:            doc.Cancelled,
		OriginalDocumentID:   doc.AssociatedDocumentID,
		OrderID:              doc.OrderID,
		Simulated:            doc.Simulated,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && log != nil {
		log.Error("failed to encode response", "error", err)
	}
}
