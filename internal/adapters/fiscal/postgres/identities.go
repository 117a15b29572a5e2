package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"3tcapital/ms_facturacion_afip/internal/core/fiscal"
)

// IdentityRepository implements fiscal.IdentityRepository on PostgreSQL.
// Counters live in a jsonb column keyed by comprobante type; NextNumber
// increments inside a single UPDATE so concurrent terminals never read the
// same candidate.
type IdentityRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewIdentityRepository creates the PostgreSQL identity repository.
func NewIdentityRepository(pool *pgxpool.Pool, log *slog.Logger) *IdentityRepository {
	return &IdentityRepository{pool: pool, log: log}
}

// Get loads the fiscal identity of a branch.
func (r *IdentityRepository) Get(ctx context.Context, branchID string) (*fiscal.Identity, error) {
	query := `
		SELECT branch_id, cuit, certificate, private_key, pto_vta, production, counters
		FROM fiscal_identities
		WHERE branch_id = $1
	`

	var identity fiscal.Identity
	var countersJSON []byte
	err := r.pool.QueryRow(ctx, query, branchID).Scan(
		&identity.BranchID,
		&identity.CUIT,
		&identity.Certificate,
		&identity.PrivateKey,
		&identity.PtoVta,
		&identity.Production,
		&countersJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fiscal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query fiscal identity: %w", err)
	}

	identity.Counters, err = decodeCounters(countersJSON)
	if err != nil {
		return nil, fmt.Errorf("decode counters for branch %s: %w", branchID, err)
	}
	return &identity, nil
}

// NextNumber atomically increments and returns the counter for a comprobante
// type. The jsonb update happens in one statement; under concurrency the row
// lock serializes increments.
func (r *IdentityRepository) NextNumber(ctx context.Context, branchID string, cbteTipo int) (int64, error) {
	key := strconv.Itoa(cbteTipo)
	query := `
		UPDATE fiscal_identities
		SET counters = jsonb_set(
			counters,
			ARRAY[$2],
			to_jsonb(COALESCE((counters->>$2)::bigint, 0) + 1),
			true
		),
		updated_at = now()
		WHERE branch_id = $1
		RETURNING (counters->>$2)::bigint
	`

	var next int64
	err := r.pool.QueryRow(ctx, query, branchID, key).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fiscal.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	return next, nil
}

// SetCounter forces the counter for a comprobante type to a known value.
func (r *IdentityRepository) SetCounter(ctx context.Context, branchID string, cbteTipo int, number int64) error {
	key := strconv.Itoa(cbteTipo)
	query := `
		UPDATE fiscal_identities
		SET counters = jsonb_set(counters, ARRAY[$2], to_jsonb($3::bigint), true),
		    updated_at = now()
		WHERE branch_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, branchID, key, number)
	if err != nil {
		return fmt.Errorf("set counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fiscal.ErrNotFound
	}
	return nil
}

// SaveHealth stores the latest connection-check snapshot on the identity row.
// Branches without an identity row get a stub carrying only the snapshot, so
// operators see unconfigured status for them too.
func (r *IdentityRepository) SaveHealth(ctx context.Context, branchID string, snapshot fiscal.HealthSnapshot) error {
	numbersJSON, err := json.Marshal(snapshot.LastNumbers)
	if err != nil {
		return fmt.Errorf("marshal health numbers: %w", err)
	}

	query := `
		INSERT INTO fiscal_identities (branch_id, health_status, health_numbers, health_message, health_checked_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (branch_id) DO UPDATE SET
			health_status = EXCLUDED.health_status,
			health_numbers = EXCLUDED.health_numbers,
			health_message = EXCLUDED.health_message,
			health_checked_at = EXCLUDED.health_checked_at,
			updated_at = now()
	`

	if _, err := r.pool.Exec(ctx, query, branchID, snapshot.Status, numbersJSON, snapshot.Message, snapshot.CheckedAt); err != nil {
		return fmt.Errorf("save health snapshot: %w", err)
	}
	return nil
}

func decodeCounters(raw []byte) (map[int]int64, error) {
	counters := make(map[int]int64)
	if len(raw) == 0 {
		return counters, nil
	}

	var byKey map[string]int64
	if err := json.Unmarshal(raw, &byKey); err != nil {
		return nil, err
	}
	for key, value := range byKey {
		tipo, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("non-numeric counter key %q", key)
		}
		counters[tipo] = value
	}
	return counters, nil
}
