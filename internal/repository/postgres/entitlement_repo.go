// internal/repository/postgres/entitlement_repo.go
package postgres

import (
	"context"
	"fmt"

	"billing-service/internal/domain/entitlement"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EntitlementRepository struct {
	db *pgxpool.Pool
}

func NewEntitlementRepository(db *pgxpool.Pool) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

// AcquirePairLockWithTx takes a transaction-scoped advisory lock keyed on the
// (tenant, user) pair. Two concurrent recomputations for the same pair
// serialize here instead of interleaving deletes and inserts.
func (r *EntitlementRepository) AcquirePairLockWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, tenantID+":"+userID)
	if err != nil {
		return fmt.Errorf("failed to acquire pair lock: %w", err)
	}
	return nil
}

func (r *EntitlementRepository) ReplaceForUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string, rows []entitlement.Entitlement) error {
	_, err := tx.Exec(ctx, `DELETE FROM entitlements WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete entitlements: %w", err)
	}

	query := `
		INSERT INTO entitlements (
			tenant_id, user_id, feature_code, source, source_ref,
			is_active, valid_from, valid_to, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for i := range rows {
		e := &rows[i]
		_, err := tx.Exec(
			ctx, query,
			tenantID, userID, e.FeatureCode, e.Source, e.SourceRef,
			e.IsActive, e.ValidFrom, e.ValidTo, e.ComputedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entitlement: %w", err)
		}
	}

	return nil
}

func (r *EntitlementRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]entitlement.Entitlement, error) {
	query := `
		SELECT id, tenant_id, user_id, feature_code, source, source_ref,
		       is_active, valid_from, valid_to, computed_at
		FROM entitlements
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY feature_code, source, source_ref
	`

	rows, err := r.db.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	ents := []entitlement.Entitlement{}
	for rows.Next() {
		var e entitlement.Entitlement
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &e.FeatureCode, &e.Source, &e.SourceRef,
			&e.IsActive, &e.ValidFrom, &e.ValidTo, &e.ComputedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		ents = append(ents, e)
	}

	return ents, rows.Err()
}
