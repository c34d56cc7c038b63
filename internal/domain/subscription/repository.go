// internal/domain/subscription/repository.go
package subscription

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	FindByProviderID(ctx context.Context, providerSubscriptionID string) (*Subscription, error)
	// LockByProviderID loads the row FOR UPDATE inside the caller's
	// transaction, serializing concurrent processors for the same record.
	LockByProviderID(ctx context.Context, tx pgx.Tx, providerSubscriptionID string) (*Subscription, error)
	CreateWithTx(ctx context.Context, tx pgx.Tx, s *Subscription) error
	UpdateWithTx(ctx context.Context, tx pgx.Tx, s *Subscription) error
	ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]Subscription, error)
	ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]Subscription, error)
}
