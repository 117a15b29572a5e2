package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// DocumentRepository implements fiscal.DocumentRepository on PostgreSQL.
type DocumentRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewDocumentRepository creates the PostgreSQL document repository.
func NewDocumentRepository(pool *pgxpool.Pool, log *slog.Logger) *DocumentRepository {
	return &DocumentRepository{pool: pool, log: log}
}

const documentColumns = `
	id, branch_id, type, cbte_tipo, pto_vta, number, issue_date,
	cae, cae_expiry, counterparty_doc_type, counterparty_tax_id,
	counterparty_name, counterparty_tax_condition,
	net_amount, vat_amount, total_amount,
	raw_request, raw_response, cancelled,
	associated_document_id, order_id, simulated, created_at
`

// Save inserts a newly authorized document. Documents are immutable after
// insert except for the cancelled flag.
func (r *DocumentRepository) Save(ctx context.Context, doc *fiscal.Document) error {
	query := `
		INSERT INTO tax_documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err := r.pool.Exec(ctx, query,
		doc.ID,
		doc.BranchID,
		string(doc.Type),
		doc.CbteTipo,
		doc.PtoVta,
		doc.Number,
		doc.IssueDate,
		doc.CAE,
		doc.CAEExpiry,
		doc.CounterpartyDocType,
		doc.CounterpartyTaxID,
		doc.CounterpartyName,
		doc.CounterpartyTaxCondition,
		doc.NetAmount,
		doc.VATAmount,
		doc.TotalAmount,
		doc.RawRequest,
		doc.RawResponse,
		doc.Cancelled,
		doc.AssociatedDocumentID,
		doc.OrderID,
		doc.Simulated,
		doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert tax document: %w", err)
	}
	return nil
}

// FindByID returns a document by its id, fiscal.ErrNotFound when absent.
func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*fiscal.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM tax_documents WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// FindActiveByOrder returns the non-cancelled document linked to an order,
// or nil when the order was never invoiced.
func (r *DocumentRepository) FindActiveByOrder(ctx context.Context, orderID string) (*fiscal.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM tax_documents
		WHERE order_id = $1 AND NOT cancelled
		ORDER BY created_at DESC
		LIMIT 1
	`

	doc, err := r.scanOne(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, fiscal.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// MaxNumber returns the highest locally stored number for a
// (branch, comprobante type) pair, 0 when none exist.
func (r *DocumentRepository) MaxNumber(ctx context.Context, branchID string, cbteTipo int) (int64, error) {
	query := `
		SELECT COALESCE(MAX(number), 0)
		FROM tax_documents
		WHERE branch_id = $1 AND cbte_tipo = $2
	`

	var max int64
	if err := r.pool.QueryRow(ctx, query, branchID, cbteTipo).Scan(&max); err != nil {
		return 0, fmt.Errorf("query max document number: %w", err)
	}
	return max, nil
}

// MarkCancelled flips the cancelled flag on an existing document.
func (r *DocumentRepository) MarkCancelled(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tax_documents SET cancelled = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark document cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) scanOne(row pgx.Row) (*fiscal.Document, error) {
	var doc fiscal.Document
	var docType string
	err := row.Scan(
		&doc.ID,
		&doc.BranchID,
		&docType,
		&doc.CbteTipo,
		&doc.PtoVta,
		&doc.Number,
		&doc.IssueDate,
		&doc.CAE,
		&doc.CAEExpiry,
		&doc.CounterpartyDocType,
		&doc.CounterpartyTaxID,
		&doc.CounterpartyName,
		&doc.CounterpartyTaxCondition,
		&doc.NetAmount,
		&doc.VATAmount,
		&doc.TotalAmount,
		&doc.RawRequest,
		&doc.RawResponse,
		&doc.Cancelled,
		&doc.AssociatedDocumentID,
		&doc.OrderID,
		&doc.Simulated,
		&doc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fiscal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tax document: %w", err)
	}
	doc.Type = fiscal.DocumentType(docType)
	return &doc, nil
}
