// internal/service/reconciler/reconciler.go
package reconciler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/metrics"
	"billing-service/internal/provider"
	entitlementsvc "billing-service/internal/service/entitlement"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service compares local subscription and purchase records against the
// provider's view and repairs drift. The provider is the system of record:
// where the two disagree, remote wins. Every touched (tenant, user) pair
// goes through the same recomputation + eviction path the event processors
// use.
type Service struct {
	db               TxBeginner
	tenantRepo       tenant.Repository
	subscriptionRepo subscription.Repository
	purchaseRepo     purchase.Repository
	catalogRepo      catalog.Repository
	provider         provider.Client
	entitlements     *entitlementsvc.Service
	lookbackDays     int
	logger           *zap.Logger
}

func NewService(
	db TxBeginner,
	tenantRepo tenant.Repository,
	subscriptionRepo subscription.Repository,
	purchaseRepo purchase.Repository,
	catalogRepo catalog.Repository,
	providerClient provider.Client,
	entitlements *entitlementsvc.Service,
	lookbackDays int,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:               db,
		tenantRepo:       tenantRepo,
		subscriptionRepo: subscriptionRepo,
		purchaseRepo:     purchaseRepo,
		catalogRepo:      catalogRepo,
		provider:         providerClient,
		entitlements:     entitlements,
		lookbackDays:     lookbackDays,
		logger:           logger,
	}
}

// TenantSummary reports one tenant's sweep.
type TenantSummary struct {
	TenantID             string   `json:"tenant_id"`
	SubscriptionsChecked int      `json:"subscriptions_checked"`
	PurchasesChecked     int      `json:"purchases_checked"`
	DriftDetected        int      `json:"drift_detected"`
	Corrected            int      `json:"corrected"`
	Errors               []string `json:"errors"`
}

// Summary is the result of one full reconciliation run.
type Summary struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Tenants    []TenantSummary `json:"tenants"`
}

// Run sweeps every active tenant. A failure for one tenant or one record is
// recorded in the summary and never aborts the run.
func (s *Service) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now().UTC()}

	tenants, err := s.tenantRepo.ListActive(ctx)
	if err != nil {
		return nil, xerrors.Transient("database", err)
	}

	for i := range tenants {
		if ctx.Err() != nil {
			break
		}
		ts := s.reconcileTenant(ctx, tenants[i].TenantID)
		summary.Tenants = append(summary.Tenants, ts)
		s.logger.Info("tenant reconciled",
			zap.String("tenant_id", ts.TenantID),
			zap.Int("subscriptions_checked", ts.SubscriptionsChecked),
			zap.Int("purchases_checked", ts.PurchasesChecked),
			zap.Int("drift_detected", ts.DriftDetected),
			zap.Int("corrected", ts.Corrected),
			zap.Int("errors", len(ts.Errors)),
		)
	}

	summary.FinishedAt = time.Now().UTC()
	return summary, nil
}

func (s *Service) reconcileTenant(ctx context.Context, tenantID string) TenantSummary {
	ts := TenantSummary{TenantID: tenantID, Errors: []string{}}
	since := time.Now().UTC().AddDate(0, 0, -s.lookbackDays)

	touched := map[[2]string]struct{}{}

	remoteSubs, err := s.provider.ListSubscriptions(ctx, tenantID, since)
	if err != nil {
		ts.Errors = append(ts.Errors, fmt.Sprintf("list subscriptions: %v", err))
	} else {
		for i := range remoteSubs {
			ts.SubscriptionsChecked++
			pair, drifted, err := s.reconcileSubscription(ctx, tenantID, &remoteSubs[i])
			if err != nil {
				ts.Errors = append(ts.Errors, fmt.Sprintf("subscription %s: %v", remoteSubs[i].ID, err))
				continue
			}
			if drifted {
				ts.DriftDetected++
				ts.Corrected++
				metrics.ReconcileCorrections.Inc()
				touched[pair] = struct{}{}
			}
		}
	}

	remoteCharges, err := s.provider.ListCharges(ctx, tenantID, since)
	if err != nil {
		ts.Errors = append(ts.Errors, fmt.Sprintf("list charges: %v", err))
	} else {
		for i := range remoteCharges {
			ts.PurchasesChecked++
			pair, drifted, err := s.reconcileCharge(ctx, tenantID, &remoteCharges[i])
			if err != nil {
				ts.Errors = append(ts.Errors, fmt.Sprintf("charge %s: %v", remoteCharges[i].ID, err))
				continue
			}
			if drifted {
				ts.DriftDetected++
				ts.Corrected++
				metrics.ReconcileCorrections.Inc()
				touched[pair] = struct{}{}
			}
		}
	}

	for pair := range touched {
		if err := s.entitlements.Recompute(ctx, pair[0], pair[1]); err != nil {
			ts.Errors = append(ts.Errors, fmt.Sprintf("recompute %s/%s: %v", pair[0], pair[1], err))
		}
	}

	return ts
}

// reconcileSubscription returns the touched pair and whether local state was
// corrected. Absent local rows are inserted from the remote record.
func (s *Service) reconcileSubscription(ctx context.Context, tenantID string, remote *provider.Subscription) ([2]string, bool, error) {
	status := subscription.Status(remote.Status)
	if !status.Known() {
		return [2]string{}, false, fmt.Errorf("unknown status %q", remote.Status)
	}

	local, err := s.subscriptionRepo.FindByProviderID(ctx, remote.ID)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return [2]string{}, false, err
	}

	if local == nil {
		userID := remote.Metadata["user_id"]
		if userID == "" {
			return [2]string{}, false, fmt.Errorf("remote subscription carries no user_id metadata")
		}
		price, err := s.catalogRepo.FindPriceByProviderID(ctx, remote.PriceID)
		if err != nil {
			return [2]string{}, false, fmt.Errorf("price %s: %w", remote.PriceID, err)
		}

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
		if err := s.writeInTx(ctx, func(tx pgx.Tx) error {
			return s.subscriptionRepo.CreateWithTx(ctx, tx, sub)
		}); err != nil {
			return [2]string{}, false, err
		}
		return [2]string{tenantID, userID}, true, nil
	}

	if !subscriptionDrifted(local, remote, status) {
		return [2]string{}, false, nil
	}

	local.Status = status
	local.CurrentPeriodStart = provider.UnixTime(remote.CurrentPeriodStart)
	local.CurrentPeriodEnd = provider.UnixTime(remote.CurrentPeriodEnd)
	local.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	local.CanceledAt = unixNullTime(remote.CanceledAt)
	if err := s.writeInTx(ctx, func(tx pgx.Tx) error {
		return s.subscriptionRepo.UpdateWithTx(ctx, tx, local)
	}); err != nil {
		return [2]string{}, false, err
	}

	return [2]string{local.TenantID, local.UserID}, true, nil
}

func (s *Service) reconcileCharge(ctx context.Context, tenantID string, remote *provider.Charge) ([2]string, bool, error) {
	local, err := s.purchaseRepo.FindByProviderChargeID(ctx, remote.ID)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return [2]string{}, false, err
	}

	remoteStatus := chargeStatus(remote)

	if local == nil {
		userID := remote.Metadata["user_id"]
		if userID == "" {
			return [2]string{}, false, fmt.Errorf("remote charge carries no user_id metadata")
		}
		price, err := s.catalogRepo.FindPriceByProviderID(ctx, remote.PriceID)
		if err != nil {
			return [2]string{}, false, fmt.Errorf("price %s: %w", remote.PriceID, err)
		}

		validFrom := provider.UnixTime(remote.Created)
		var validTo sql.NullTime
		if price.PurchaseValidDays.Valid {
			validTo = sql.NullTime{Time: validFrom.AddDate(0, 0, int(price.PurchaseValidDays.Int32)), Valid: true}
		}

		p := &purchase.Purchase{
			TenantID:         tenantID,
			UserID:           userID,
			ProviderChargeID: remote.ID,
			PriceID:          price.ID,
			Amount:           remote.Amount,
			Currency:         remote.Currency,
			Status:           remoteStatus,
			RefundedAt:       unixNullTime(remote.RefundedAt),
			ValidFrom:        validFrom,
			ValidTo:          validTo,
		}
		if err := s.writeInTx(ctx, func(tx pgx.Tx) error {
			return s.purchaseRepo.CreateWithTx(ctx, tx, p)
		}); err != nil {
			return [2]string{}, false, err
		}
		return [2]string{tenantID, userID}, true, nil
	}

	if local.Status == remoteStatus {
		return [2]string{}, false, nil
	}

	local.Status = remoteStatus
	local.RefundedAt = unixNullTime(remote.RefundedAt)
	if err := s.writeInTx(ctx, func(tx pgx.Tx) error {
		return s.purchaseRepo.UpdateWithTx(ctx, tx, local)
	}); err != nil {
		return [2]string{}, false, err
	}

	return [2]string{local.TenantID, local.UserID}, true, nil
}

func (s *Service) writeInTx(ctx context.Context, write func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := write(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func subscriptionDrifted(local *subscription.Subscription, remote *provider.Subscription, status subscription.Status) bool {
	if local.Status != status {
		return true
	}
	if !local.CurrentPeriodStart.Equal(provider.UnixTime(remote.CurrentPeriodStart)) {
		return true
	}
	if !local.CurrentPeriodEnd.Equal(provider.UnixTime(remote.CurrentPeriodEnd)) {
		return true
	}
	if local.CancelAtPeriodEnd != remote.CancelAtPeriodEnd {
		return true
	}
	return false
}

func chargeStatus(remote *provider.Charge) purchase.Status {
	if remote.Refunded {
		return purchase.StatusRefunded
	}
	switch remote.Status {
	case "succeeded":
		return purchase.StatusSucceeded
	case "pending":
		return purchase.StatusPending
	default:
		return purchase.StatusFailed
	}
}

func unixNullTime(ts *int64) sql.NullTime {
	if ts == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: provider.UnixTime(*ts), Valid: true}
}
