// internal/domain/catalog/repository.go
package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	FindPriceByProviderID(ctx context.Context, providerPriceID string) (*Price, error)
	FindPriceByProviderIDWithTx(ctx context.Context, tx pgx.Tx, providerPriceID string) (*Price, error)
	// FeatureCodesForPriceWithTx resolves the feature codes unlocked by the
	// product behind a price, inside the caller's transaction.
	FeatureCodesForPriceWithTx(ctx context.Context, tx pgx.Tx, priceID int64) ([]string, error)
}
