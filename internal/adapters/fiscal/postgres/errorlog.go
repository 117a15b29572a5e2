package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// ErrorLogRepository implements fiscal.ErrorLog on PostgreSQL. Entries are
// append-only; the only read path is the operator listing.
type ErrorLogRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewErrorLogRepository creates the PostgreSQL error log.
func NewErrorLogRepository(pool *pgxpool.Pool, log *slog.Logger) *ErrorLogRepository {
	return &ErrorLogRepository{pool: pool, log: log}
}

// Record appends a diagnostic entry.
func (r *ErrorLogRepository) Record(ctx context.Context, rec fiscal.ErrorRecord) error {
	query := `
		INSERT INTO fiscal_error_log (stage, message, request_snapshot, response_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query, rec.Stage, rec.Message, rec.RequestSnapshot, rec.ResponseSnapshot, rec.CreatedAt); err != nil {
		return fmt.Errorf("insert fiscal error record: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first. An empty stage
// matches every stage.
func (r *ErrorLogRepository) List(ctx context.Context, stage string, limit int) ([]fiscal.ErrorRecord, error) {
	query := `
		SELECT id, stage, message, request_snapshot, response_snapshot, created_at
		FROM fiscal_error_log
		WHERE ($1 = '' OR stage = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("list fiscal error records: %w", err)
	}
	defer rows.Close()

	var records []fiscal.ErrorRecord
	for rows.Next() {
		var rec fiscal.ErrorRecord
		var id int64
		if err := rows.Scan(&id, &rec.Stage, &rec.Message, &rec.RequestSnapshot, &rec.ResponseSnapshot, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fiscal error record: %w", err)
		}
		rec.ID = strconv.FormatInt(id, 10)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fiscal error records: %w", err)
	}
	return records, nil
}
