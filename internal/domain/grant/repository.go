// internal/domain/grant/repository.go
package grant

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, g *ManualGrant) error
	// FindLatestActive returns the most recent non-revoked grant for the
	// (tenant, user, feature) triple, or xerrors.ErrNotFound.
	FindLatestActive(ctx context.Context, tenantID, userID, featureCode string) (*ManualGrant, error)
	RevokeWithTx(ctx context.Context, tx pgx.Tx, id, revokedBy, reason string, at time.Time) error
	ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]ManualGrant, error)
}
