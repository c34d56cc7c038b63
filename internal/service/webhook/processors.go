// internal/service/webhook/processors.go
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"billing-service/internal/domain/event"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/provider"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// processCheckoutCompleted handles checkout.session.completed for both
// subscription and one-time payment checkouts. Tenant and user association
// comes exclusively from the metadata the checkout component stamped on the
// session; a session without it fails permanently, the processor never
// guesses.
func (s *Service) processCheckoutCompleted(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error) {
	var session provider.CheckoutSession
	if err := json.Unmarshal(env.Data.Object, &session); err != nil {
		return nil, xerrors.Permanent("payload", "checkout session does not parse: %v", err)
	}

	tenantID := session.Metadata["tenant_id"]
	userID := session.Metadata["user_id"]
	if tenantID == "" || userID == "" {
		return nil, xerrors.Permanent("metadata", "session %s is missing tenant_id or user_id metadata", session.ID)
	}

	if _, err := s.tenantRepo.FindByTenantID(ctx, tenantID); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Permanent("metadata", "unknown tenant %s on session %s", tenantID, session.ID)
		}
		return nil, xerrors.Transient("database", err)
	}

	switch session.Mode {
	case "subscription":
		if session.Subscription == nil {
			return nil, xerrors.Permanent("payload", "subscription session %s carries no subscription object", session.ID)
		}
		if err := s.upsertSubscription(ctx, tx, tenantID, userID, session.Subscription); err != nil {
			return nil, err
		}
	case "payment":
		if session.Charge == nil {
			return nil, xerrors.Permanent("payload", "payment session %s carries no charge object", session.ID)
		}
		if err := s.upsertPurchase(ctx, tx, tenantID, userID, session.Charge); err != nil {
			return nil, err
		}
	default:
		return nil, xerrors.Permanent("payload", "unknown checkout mode %q on session %s", session.Mode, session.ID)
	}

	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, tenantID, userID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return []Pair{{TenantID: tenantID, UserID: userID}}, nil
}

func (s *Service) upsertSubscription(ctx context.Context, tx pgx.Tx, tenantID, userID string, remote *provider.Subscription) error {
	status := subscription.Status(remote.Status)
	if !status.Known() {
		return xerrors.Permanent("payload", "unknown subscription status %q", remote.Status)
	}

	price, err := s.catalogRepo.FindPriceByProviderIDWithTx(ctx, tx, remote.PriceID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return xerrors.Permanent("catalog", "unknown price %s on subscription %s", remote.PriceID, remote.ID)
		}
		return xerrors.Transient("database", err)
	}

	existing, err := s.subscriptionRepo.LockByProviderID(ctx, tx, remote.ID)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return xerrors.Transient("database", err)
	}

	if existing == nil {
		sub := &subscription.Subscription{
			TenantID:               tenantID,
			UserID:                 userID,
			ProviderSubscriptionID: remote.ID,
			PriceID:                price.ID,
			Status:                 status,
			CurrentPeriodStart:     provider.UnixTime(remote.CurrentPeriodStart),
			CurrentPeriodEnd:       provider.UnixTime(remote.CurrentPeriodEnd),
			CancelAtPeriodEnd:      remote.CancelAtPeriodEnd,
			CanceledAt:             unixNullTime(remote.CanceledAt),
		}
		if err := s.subscriptionRepo.CreateWithTx(ctx, tx, sub); err != nil {
			if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
				// Lost a race with a concurrent delivery of the same event;
				// the row exists with identical content.
				s.logger.Info("subscription already created concurrently", zap.String("provider_subscription_id", remote.ID))
				return nil
			}
			return xerrors.Transient("database", err)
		}
		return nil
	}

	existing.Status = status
	existing.CurrentPeriodStart = provider.UnixTime(remote.CurrentPeriodStart)
	existing.CurrentPeriodEnd = provider.UnixTime(remote.CurrentPeriodEnd)
	existing.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	existing.CanceledAt = unixNullTime(remote.CanceledAt)
	if err := s.subscriptionRepo.UpdateWithTx(ctx, tx, existing); err != nil {
		return xerrors.Transient("database", err)
	}
	return nil
}

func (s *Service) upsertPurchase(ctx context.Context, tx pgx.Tx, tenantID, userID string, remote *provider.Charge) error {
	price, err := s.catalogRepo.FindPriceByProviderIDWithTx(ctx, tx, remote.PriceID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return xerrors.Permanent("catalog", "unknown price %s on charge %s", remote.PriceID, remote.ID)
		}
		return xerrors.Transient("database", err)
	}

	existing, err := s.purchaseRepo.LockByProviderChargeID(ctx, tx, remote.ID)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return xerrors.Transient("database", err)
	}
	if existing != nil {
		// Re-delivery of a completed checkout; the purchase row is final.
		return nil
	}

	validFrom := time.Now().UTC()
	var validTo sql.NullTime
	if price.PurchaseValidDays.Valid {
		validTo = sql.NullTime{
			Time:  validFrom.AddDate(0, 0, int(price.PurchaseValidDays.Int32)),
			Valid: true,
		}
	}

	p := &purchase.Purchase{
		TenantID:         tenantID,
		UserID:           userID,
		ProviderChargeID: remote.ID,
		PriceID:          price.ID,
		Amount:           remote.Amount,
		Currency:         remote.Currency,
		Status:           purchase.StatusSucceeded,
		ValidFrom:        validFrom,
		ValidTo:          validTo,
	}
	if err := s.purchaseRepo.CreateWithTx(ctx, tx, p); err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			s.logger.Info("purchase already created concurrently", zap.String("provider_charge_id", remote.ID))
			return nil
		}
		return xerrors.Transient("database", err)
	}
	return nil
}

// processInvoicePaymentSucceeded advances the paid subscription's period and
// reactivates past_due/trialing subscriptions. An invoice for a subscription
// this service has never seen is acknowledged; the reconciler will pick the
// record up from the provider side.
func (s *Service) processInvoicePaymentSucceeded(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error) {
	var invoice provider.Invoice
	if err := json.Unmarshal(env.Data.Object, &invoice); err != nil {
		return nil, xerrors.Permanent("payload", "invoice does not parse: %v", err)
	}
	if invoice.SubscriptionID == "" {
		s.logger.Warn("invoice without subscription, skipping", zap.String("invoice_id", invoice.ID))
		return nil, nil
	}

	sub, err := s.subscriptionRepo.LockByProviderID(ctx, tx, invoice.SubscriptionID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("invoice for unknown subscription, skipping",
				zap.String("provider_subscription_id", invoice.SubscriptionID),
			)
			return nil, nil
		}
		return nil, xerrors.Transient("database", err)
	}

	sub.CurrentPeriodStart = provider.UnixTime(invoice.PeriodStart)
	sub.CurrentPeriodEnd = provider.UnixTime(invoice.PeriodEnd)
	if sub.Status == subscription.StatusPastDue || sub.Status == subscription.StatusTrialing {
		sub.Status = subscription.StatusActive
	}
	if err := s.subscriptionRepo.UpdateWithTx(ctx, tx, sub); err != nil {
		return nil, xerrors.Transient("database", err)
	}

	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, sub.TenantID, sub.UserID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return []Pair{{TenantID: sub.TenantID, UserID: sub.UserID}}, nil
}

// processSubscriptionUpdated reflects status, period window and
// cancel_at_period_end from the provider's view of the subscription.
func (s *Service) processSubscriptionUpdated(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error) {
	var remote provider.Subscription
	if err := json.Unmarshal(env.Data.Object, &remote); err != nil {
		return nil, xerrors.Permanent("payload", "subscription does not parse: %v", err)
	}
	if remote.ID == "" {
		return nil, xerrors.Permanent("payload", "subscription event carries no id")
	}

	status := subscription.Status(remote.Status)
	if !status.Known() {
		return nil, xerrors.Permanent("payload", "unknown subscription status %q", remote.Status)
	}

	sub, err := s.subscriptionRepo.LockByProviderID(ctx, tx, remote.ID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("update for unknown subscription, skipping",
				zap.String("provider_subscription_id", remote.ID),
			)
			return nil, nil
		}
		return nil, xerrors.Transient("database", err)
	}

	sub.Status = status
	sub.CurrentPeriodStart = provider.UnixTime(remote.CurrentPeriodStart)
	sub.CurrentPeriodEnd = provider.UnixTime(remote.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	sub.CanceledAt = unixNullTime(remote.CanceledAt)
	if err := s.subscriptionRepo.UpdateWithTx(ctx, tx, sub); err != nil {
		return nil, xerrors.Transient("database", err)
	}

	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, sub.TenantID, sub.UserID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return []Pair{{TenantID: sub.TenantID, UserID: sub.UserID}}, nil
}

// processSubscriptionDeleted marks the subscription canceled at event time.
func (s *Service) processSubscriptionDeleted(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error) {
	var remote provider.Subscription
	if err := json.Unmarshal(env.Data.Object, &remote); err != nil {
		return nil, xerrors.Permanent("payload", "subscription does not parse: %v", err)
	}
	if remote.ID == "" {
		return nil, xerrors.Permanent("payload", "subscription event carries no id")
	}

	sub, err := s.subscriptionRepo.LockByProviderID(ctx, tx, remote.ID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("delete for unknown subscription, skipping",
				zap.String("provider_subscription_id", remote.ID),
			)
			return nil, nil
		}
		return nil, xerrors.Transient("database", err)
	}

	sub.Status = subscription.StatusCanceled
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = sql.NullTime{Time: provider.UnixTime(env.Created), Valid: true}
	if err := s.subscriptionRepo.UpdateWithTx(ctx, tx, sub); err != nil {
		return nil, xerrors.Transient("database", err)
	}

	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, sub.TenantID, sub.UserID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return []Pair{{TenantID: sub.TenantID, UserID: sub.UserID}}, nil
}

// processChargeRefunded marks the purchase refunded at event time.
func (s *Service) processChargeRefunded(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error) {
	var charge provider.Charge
	if err := json.Unmarshal(env.Data.Object, &charge); err != nil {
		return nil, xerrors.Permanent("payload", "charge does not parse: %v", err)
	}
	if charge.ID == "" {
		return nil, xerrors.Permanent("payload", "charge event carries no id")
	}

	p, err := s.purchaseRepo.LockByProviderChargeID(ctx, tx, charge.ID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("refund for unknown charge, skipping", zap.String("provider_charge_id", charge.ID))
			return nil, nil
		}
		return nil, xerrors.Transient("database", err)
	}

	p.Status = purchase.StatusRefunded
	p.RefundedAt = sql.NullTime{Time: provider.UnixTime(env.Created), Valid: true}
	if err := s.purchaseRepo.UpdateWithTx(ctx, tx, p); err != nil {
		return nil, xerrors.Transient("database", err)
	}

	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, p.TenantID, p.UserID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return []Pair{{TenantID: p.TenantID, UserID: p.UserID}}, nil
}

func unixNullTime(ts *int64) sql.NullTime {
	if ts == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: provider.UnixTime(*ts), Valid: true}
}
