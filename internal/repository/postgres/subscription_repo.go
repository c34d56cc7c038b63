// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"billing-service/internal/domain/subscription"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, tenant_id, user_id, provider_subscription_id, price_id, status,
	current_period_start, current_period_end, cancel_at_period_end,
	canceled_at, created_at, updated_at
`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := row.Scan(
		&s.ID, &s.TenantID, &s.UserID, &s.ProviderSubscriptionID, &s.PriceID, &s.Status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.CanceledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &s, nil
}

func (r *SubscriptionRepository) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*subscription.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE provider_subscription_id = $1`, subscriptionColumns)
	return scanSubscription(r.db.QueryRow(ctx, query, providerSubscriptionID))
}

// LockByProviderID loads the row FOR UPDATE so concurrent processors mutating
// the same subscription serialize on it.
func (r *SubscriptionRepository) LockByProviderID(ctx context.Context, tx pgx.Tx, providerSubscriptionID string) (*subscription.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE provider_subscription_id = $1 FOR UPDATE`, subscriptionColumns)
	return scanSubscription(tx.QueryRow(ctx, query, providerSubscriptionID))
}

func (r *SubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			tenant_id, user_id, provider_subscription_id, price_id, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		s.TenantID, s.UserID, s.ProviderSubscriptionID, s.PriceID, s.Status,
		s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd, s.CanceledAt,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (r *SubscriptionRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, current_period_start = $2, current_period_end = $3,
		    cancel_at_period_end = $4, canceled_at = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := tx.Exec(
		ctx, query,
		s.Status, s.CurrentPeriodStart, s.CurrentPeriodEnd,
		s.CancelAtPeriodEnd, s.CanceledAt, time.Now().UTC(), s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func (r *SubscriptionRepository) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]subscription.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY id
	`, subscriptionColumns)

	rows, err := tx.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func (r *SubscriptionRepository) ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]subscription.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE tenant_id = $1 AND updated_at >= $2
		ORDER BY id
	`, subscriptionColumns)

	rows, err := r.db.Query(ctx, query, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]subscription.Subscription, error) {
	subs := []subscription.Subscription{}
	for rows.Next() {
		var s subscription.Subscription
		err := rows.Scan(
			&s.ID, &s.TenantID, &s.UserID, &s.ProviderSubscriptionID, &s.PriceID, &s.Status,
			&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
			&s.CanceledAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
