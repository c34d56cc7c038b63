// internal/domain/purchase/repository.go
package purchase

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	FindByProviderChargeID(ctx context.Context, providerChargeID string) (*Purchase, error)
	LockByProviderChargeID(ctx context.Context, tx pgx.Tx, providerChargeID string) (*Purchase, error)
	CreateWithTx(ctx context.Context, tx pgx.Tx, p *Purchase) error
	UpdateWithTx(ctx context.Context, tx pgx.Tx, p *Purchase) error
	ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]Purchase, error)
	ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]Purchase, error)
}
