// internal/repository/postgres/grant_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-service/internal/domain/grant"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type GrantRepository struct {
	db *pgxpool.Pool
}

func NewGrantRepository(db *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{db: db}
}

const grantColumns = `
	id, tenant_id, user_id, feature_code, valid_from, valid_to, reason,
	granted_by, granted_at, revoked_at, revoked_by, revoke_reason
`

func (r *GrantRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, g *grant.ManualGrant) error {
	query := `
		INSERT INTO manual_grants (
			id, tenant_id, user_id, feature_code, valid_from, valid_to,
			reason, granted_by, granted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(
		ctx, query,
		g.ID, g.TenantID, g.UserID, g.FeatureCode, g.ValidFrom, g.ValidTo,
		g.Reason, g.GrantedBy, g.GrantedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create grant: %w", err)
	}

	return nil
}

func (r *GrantRepository) FindLatestActive(ctx context.Context, tenantID, userID, featureCode string) (*grant.ManualGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM manual_grants
		WHERE tenant_id = $1 AND user_id = $2 AND feature_code = $3 AND revoked_at IS NULL
		ORDER BY granted_at DESC
		LIMIT 1
	`, grantColumns)

	var g grant.ManualGrant
	err := r.db.QueryRow(ctx, query, tenantID, userID, featureCode).Scan(
		&g.ID, &g.TenantID, &g.UserID, &g.FeatureCode, &g.ValidFrom, &g.ValidTo, &g.Reason,
		&g.GrantedBy, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy, &g.RevokeReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find grant: %w", err)
	}

	return &g, nil
}

// RevokeWithTx marks a grant revoked. Revocation is permanent; a row already
// revoked is not touched again.
func (r *GrantRepository) RevokeWithTx(ctx context.Context, tx pgx.Tx, id, revokedBy, reason string, at time.Time) error {
	query := `
		UPDATE manual_grants
		SET revoked_at = $1, revoked_by = $2, revoke_reason = $3
		WHERE id = $4 AND revoked_at IS NULL
	`

	result, err := tx.Exec(ctx, query, at, revokedBy, reason, id)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func (r *GrantRepository) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]grant.ManualGrant, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM manual_grants
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY granted_at
	`, grantColumns)

	rows, err := tx.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants := []grant.ManualGrant{}
	for rows.Next() {
		var g grant.ManualGrant
		err := rows.Scan(
			&g.ID, &g.TenantID, &g.UserID, &g.FeatureCode, &g.ValidFrom, &g.ValidTo, &g.Reason,
			&g.GrantedBy, &g.GrantedAt, &g.RevokedAt, &g.RevokedBy, &g.RevokeReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}

	return grants, rows.Err()
}
