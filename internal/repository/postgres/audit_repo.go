// internal/repository/postgres/audit_repo.go
package postgres

import (
	"context"
	"fmt"

	"billing-service/internal/domain/audit"

	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends one audit line. The table has no update or delete path.
func (r *AuditRepository) Insert(ctx context.Context, rec *audit.Record) error {
	query := `
		INSERT INTO audit_log (id, tenant_id, user_id, actor, action, feature_code, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(
		ctx, query,
		rec.ID, rec.TenantID, rec.UserID, rec.Actor, rec.Action, rec.FeatureCode, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}
