package fiscal

import "time"

// DocumentType identifies the invoice letter or credit-note class handled by
// the service. Each type maps to the numeric comprobante code AFIP expects.
type DocumentType string

const (
	InvoiceA    DocumentType = "A"
	InvoiceB    DocumentType = "B"
	CreditNoteA DocumentType = "NCA"
	CreditNoteB DocumentType = "NCB"
)

// Comprobante type codes as registered with AFIP.
const (
	CbteTipoFacturaA      = 1
	CbteTipoNotaCreditoA  = 3
	CbteTipoFacturaB      = 6
	CbteTipoNotaCreditoB  = 8
	CbteTipoFacturaC      = 11
)

// Counterparty document type codes.
const (
	DocTipoCUIT            = 80
	DocTipoDNI             = 96
	DocTipoConsumidorFinal = 99
)

// CbteTipo returns the numeric comprobante code for the type.
func (t DocumentType) CbteTipo() (int, bool) {
	switch t {
	case InvoiceA:
		return CbteTipoFacturaA, true
	case InvoiceB:
		return CbteTipoFacturaB, true
	case CreditNoteA:
		return CbteTipoNotaCreditoA, true
	case CreditNoteB:
		return CbteTipoNotaCreditoB, true
	}
	return 0, false
}

// CreditNoteType returns the credit-note type that reverses an invoice of
// this type.
func (t DocumentType) CreditNoteType() (DocumentType, bool) {
	switch t {
	case InvoiceA:
		return CreditNoteA, true
	case InvoiceB:
		return CreditNoteB, true
	}
	return "", false
}

// IsCreditNote reports whether the type is a credit-note class.
func (t DocumentType) IsCreditNote() bool {
	return t == CreditNoteA || t == CreditNoteB
}

// HealthCheckTypes lists the comprobante codes queried by the connection
// health check, keyed by the letter shown to operators.
var HealthCheckTypes = map[string]int{
	"A": CbteTipoFacturaA,
	"B": CbteTipoFacturaB,
	"C": CbteTipoFacturaC,
}

// Document is a legally issued tax document (invoice or credit note).
// It is created once after a successful authorization and never mutated,
// except to flip Cancelled when a credit note reverses it.
type Document struct {
	ID                       string
	BranchID                 string
	Type                     DocumentType
	CbteTipo                 int
	PtoVta                   int
	Number                   int64
	IssueDate                time.Time
	CAE                      string
	CAEExpiry                time.Time
	CounterpartyDocType      int
	CounterpartyTaxID        string
	CounterpartyName         string
	CounterpartyTaxCondition int
	NetAmount                float64
	VATAmount                float64
	TotalAmount              float64
	RawRequest               string
	RawResponse              string
	Cancelled                bool
	AssociatedDocumentID     *string
	OrderID                  *string
	Simulated                bool
	CreatedAt                time.Time
}

// Summary carries the identifying fields of an existing document, surfaced
// when a caller retries an order that was already invoiced.
type Summary struct {
	ID     string       `json:"documentId"`
	Type   DocumentType `json:"type"`
	PtoVta int          `json:"terminalNumber"`
	Number int64        `json:"number"`
	CAE    string       `json:"authorizationCode"`
}

// Summarize builds the retry-facing summary of a document.
func (d *Document) Summarize() Summary {
	return Summary{
		ID:     d.ID,
		Type:   d.Type,
		PtoVta: d.PtoVta,
		Number: d.Number,
		CAE:    d.CAE,
	}
}

// LineItem is an order line included in an invoice request. Only the total
// participates in the fiscal amounts; items are kept for the audit trail.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Identity is the fiscal configuration of a branch: the certificate/key pair
// registered with AFIP, the assigned point-of-sale number, and the last-known
// document counters. It is provisioned externally; this service only mutates
// the counters and the health snapshot.
type Identity struct {
	BranchID    string
	CUIT        string
	Certificate string
	PrivateKey  string
	PtoVta      int
	Production  bool
	Counters    map[int]int64
}

// Complete reports whether the identity carries everything issuance needs.
func (i *Identity) Complete() bool {
	return i.Certificate != "" && i.PrivateKey != "" && i.CUIT != "" && i.PtoVta > 0
}

// Health snapshot statuses stored on the identity by the connection check.
const (
	HealthConnected    = "connected"
	HealthError        = "error"
	HealthUnconfigured = "unconfigured"
)

// HealthSnapshot is the operator-facing result of a connection check.
type HealthSnapshot struct {
	Status      string
	LastNumbers map[string]int64
	Message     string
	CheckedAt   time.Time
}

// ErrorRecord is an append-only diagnostic entry written whenever a protocol
// or persistence step fails.
type ErrorRecord struct {
	ID               string
	Stage            string
	Message          string
	RequestSnapshot  string
	ResponseSnapshot string
	CreatedAt        time.Time
}
