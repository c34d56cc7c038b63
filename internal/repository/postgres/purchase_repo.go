// internal/repository/postgres/purchase_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-service/internal/domain/purchase"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PurchaseRepository struct {
	db *pgxpool.Pool
}

func NewPurchaseRepository(db *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

const purchaseColumns = `
	id, tenant_id, user_id, provider_charge_id, price_id, amount, currency,
	status, refunded_at, valid_from, valid_to, created_at, updated_at
`

func scanPurchase(row pgx.Row) (*purchase.Purchase, error) {
	var p purchase.Purchase
	err := row.Scan(
		&p.ID, &p.TenantID, &p.UserID, &p.ProviderChargeID, &p.PriceID, &p.Amount, &p.Currency,
		&p.Status, &p.RefundedAt, &p.ValidFrom, &p.ValidTo, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan purchase: %w", err)
	}
	return &p, nil
}

func (r *PurchaseRepository) FindByProviderChargeID(ctx context.Context, providerChargeID string) (*purchase.Purchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM purchases WHERE provider_charge_id = $1`, purchaseColumns)
	return scanPurchase(r.db.QueryRow(ctx, query, providerChargeID))
}

func (r *PurchaseRepository) LockByProviderChargeID(ctx context.Context, tx pgx.Tx, providerChargeID string) (*purchase.Purchase, error) {
	query := fmt.Sprintf(`SELECT %s FROM purchases WHERE provider_charge_id = $1 FOR UPDATE`, purchaseColumns)
	return scanPurchase(tx.QueryRow(ctx, query, providerChargeID))
}

func (r *PurchaseRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, p *purchase.Purchase) error {
	query := `
		INSERT INTO purchases (
			tenant_id, user_id, provider_charge_id, price_id, amount, currency,
			status, refunded_at, valid_from, valid_to
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		p.TenantID, p.UserID, p.ProviderChargeID, p.PriceID, p.Amount, p.Currency,
		p.Status, p.RefundedAt, p.ValidFrom, p.ValidTo,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create purchase: %w", err)
	}

	return nil
}

func (r *PurchaseRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, p *purchase.Purchase) error {
	query := `
		UPDATE purchases
		SET status = $1, refunded_at = $2, valid_from = $3, valid_to = $4, updated_at = $5
		WHERE id = $6
	`

	result, err := tx.Exec(ctx, query, p.Status, p.RefundedAt, p.ValidFrom, p.ValidTo, time.Now().UTC(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update purchase: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func (r *PurchaseRepository) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]purchase.Purchase, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM purchases
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY id
	`, purchaseColumns)

	rows, err := tx.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func (r *PurchaseRepository) ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]purchase.Purchase, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM purchases
		WHERE tenant_id = $1 AND updated_at >= $2
		ORDER BY id
	`, purchaseColumns)

	rows, err := r.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	return collectPurchases(rows)
}

func collectPurchases(rows pgx.Rows) ([]purchase.Purchase, error) {
	purchases := []purchase.Purchase{}
	for rows.Next() {
		var p purchase.Purchase
		err := rows.Scan(
			&p.ID, &p.TenantID, &p.UserID, &p.ProviderChargeID, &p.PriceID, &p.Amount, &p.Currency,
			&p.Status, &p.RefundedAt, &p.ValidFrom, &p.ValidTo, &p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}
