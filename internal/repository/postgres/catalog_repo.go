// internal/repository/postgres/catalog_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"billing-service/internal/domain/catalog"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CatalogRepository struct {
	db *pgxpool.Pool
}

func NewCatalogRepository(db *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{db: db}
}

const priceColumns = `
	id, product_id, provider_price_id, amount, currency, cadence,
	purchase_valid_days, active, created_at
`

func scanPrice(row pgx.Row) (*catalog.Price, error) {
	var p catalog.Price
	err := row.Scan(
		&p.ID, &p.ProductID, &p.ProviderPriceID, &p.Amount, &p.Currency, &p.Cadence,
		&p.PurchaseValidDays, &p.Active, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan price: %w", err)
	}
	return &p, nil
}

func (r *CatalogRepository) FindPriceByProviderID(ctx context.Context, providerPriceID string) (*catalog.Price, error) {
	query := fmt.Sprintf(`SELECT %s FROM prices WHERE provider_price_id = $1`, priceColumns)
	return scanPrice(r.db.QueryRow(ctx, query, providerPriceID))
}

func (r *CatalogRepository) FindPriceByProviderIDWithTx(ctx context.Context, tx pgx.Tx, providerPriceID string) (*catalog.Price, error) {
	query := fmt.Sprintf(`SELECT %s FROM prices WHERE provider_price_id = $1`, priceColumns)
	return scanPrice(tx.QueryRow(ctx, query, providerPriceID))
}

// FeatureCodesForPriceWithTx resolves the feature codes of the product
// behind a price. Archived products keep granting to existing references.
func (r *CatalogRepository) FeatureCodesForPriceWithTx(ctx context.Context, tx pgx.Tx, priceID int64) ([]string, error) {
	query := `
		SELECT pr.feature_codes
		FROM products pr
		JOIN prices p ON p.product_id = pr.id
		WHERE p.id = $1
	`

	var codes []string
	err := tx.QueryRow(ctx, query, priceID).Scan(&codes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load feature codes: %w", err)
	}

	return codes, nil
}
