// internal/repository/postgres/tenant_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TenantRepository struct {
	db *pgxpool.Pool
}

func NewTenantRepository(db *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{db: db}
}

// FindByCredentialHash resolves a tenant from the SHA-256 hex digest of a
// presented credential. Only active credentials resolve.
func (r *TenantRepository) FindByCredentialHash(ctx context.Context, hash string) (*tenant.Tenant, error) {
	query := `
		SELECT t.id, t.tenant_id, t.name, t.active, t.created_at, t.updated_at
		FROM tenants t
		JOIN tenant_credentials c ON c.tenant_id = t.id
		WHERE c.credential_hash = $1 AND c.active = TRUE
	`

	var t tenant.Tenant
	err := r.db.QueryRow(ctx, query, hash).Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant by credential: %w", err)
	}

	return &t, nil
}

func (r *TenantRepository) FindByTenantID(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	query := `
		SELECT id, tenant_id, name, active, created_at, updated_at
		FROM tenants
		WHERE tenant_id = $1
	`

	var t tenant.Tenant
	err := r.db.QueryRow(ctx, query, tenantID).Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant: %w", err)
	}

	return &t, nil
}

func (r *TenantRepository) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	query := `
		SELECT id, tenant_id, name, active, created_at, updated_at
		FROM tenants
		WHERE active = TRUE
		ORDER BY tenant_id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []tenant.Tenant{}
	for rows.Next() {
		var t tenant.Tenant
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}

	return tenants, rows.Err()
}
