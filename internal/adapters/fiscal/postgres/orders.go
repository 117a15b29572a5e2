package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// OrderRepository implements fiscal.OrderRepository on PostgreSQL. Issued
// authorizations are upserted into order_authorizations so the ordering
// system can read the fiscal outcome of each order without joining the
// documents table.
type OrderRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewOrderRepository creates the PostgreSQL order repository.
func NewOrderRepository(pool *pgxpool.Pool, log *slog.Logger) *OrderRepository {
	return &OrderRepository{pool: pool, log: log}
}

// AttachAuthorization records the document's authorization against its order.
func (r *OrderRepository) AttachAuthorization(ctx context.Context, orderID string, doc *fiscal.Document) error {
	query := `
		INSERT INTO order_authorizations (order_id, document_id, document_type, pto_vta, number, cae, cae_expiry, invoiced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (order_id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			document_type = EXCLUDED.document_type,
			pto_vta = EXCLUDED.pto_vta,
			number = EXCLUDED.number,
			cae = EXCLUDED.cae,
			cae_expiry = EXCLUDED.cae_expiry,
			invoiced_at = EXCLUDED.invoiced_at
	`

	_, err := r.pool.Exec(ctx, query,
		orderID, doc.ID, string(doc.Type), doc.PtoVta, doc.Number, doc.CAE, doc.CAEExpiry)
	if err != nil {
		return fmt.Errorf("attach authorization to order %s: %w", orderID, err)
	}
	return nil
}
