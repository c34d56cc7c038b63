// internal/domain/tenant/repository.go
package tenant

import "context"

type Repository interface {
	FindByCredentialHash(ctx context.Context, hash string) (*Tenant, error)
	FindByTenantID(ctx context.Context, tenantID string) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
}
