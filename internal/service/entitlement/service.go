// internal/service/entitlement/service.go
package entitlement

import (
	"context"
	"time"

	"billing-service/internal/cache"
	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/grant"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/metrics"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// TxBeginner is satisfied by *postgres.DB and by the test fakes.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db               TxBeginner
	subscriptionRepo subscription.Repository
	purchaseRepo     purchase.Repository
	grantRepo        grant.Repository
	catalogRepo      catalog.Repository
	entitlementRepo  entitlement.Repository
	cache            *cache.EntitlementCache
	grace            time.Duration
	logger           *zap.Logger
}

func NewService(
	db TxBeginner,
	subscriptionRepo subscription.Repository,
	purchaseRepo purchase.Repository,
	grantRepo grant.Repository,
	catalogRepo catalog.Repository,
	entitlementRepo entitlement.Repository,
	entCache *cache.EntitlementCache,
	grace time.Duration,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:               db,
		subscriptionRepo: subscriptionRepo,
		purchaseRepo:     purchaseRepo,
		grantRepo:        grantRepo,
		catalogRepo:      catalogRepo,
		entitlementRepo:  entitlementRepo,
		cache:            entCache,
		grace:            grace,
		logger:           logger,
	}
}

// RecomputeWithTx recomputes and replaces the pair's materialized rows inside
// the caller's transaction. The caller owns commit and post-commit cache
// eviction; webhook processors and the reconciler both come through here so
// there is exactly one converging code path.
func (s *Service) RecomputeWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string, now time.Time) ([]entitlement.Entitlement, error) {
	if err := s.entitlementRepo.AcquirePairLockWithTx(ctx, tx, tenantID, userID); err != nil {
		return nil, err
	}

	subs, err := s.subscriptionRepo.ListByUserWithTx(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	purchases, err := s.purchaseRepo.ListByUserWithTx(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.grantRepo.ListByUserWithTx(ctx, tx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	priceFeatures, err := s.loadPriceFeatures(ctx, tx, subs, purchases)
	if err != nil {
		return nil, err
	}

	rows := Compute(Sources{
		Subscriptions: subs,
		Purchases:     purchases,
		Grants:        grants,
		PriceFeatures: priceFeatures,
	}, now, s.grace)

	if err := s.entitlementRepo.ReplaceForUserWithTx(ctx, tx, tenantID, userID, rows); err != nil {
		return nil, err
	}

	metrics.Recomputations.Inc()
	return rows, nil
}

// Recompute runs RecomputeWithTx in its own transaction and evicts the cache
// entry after commit. Used by the reconciler path.
func (s *Service) Recompute(ctx context.Context, tenantID, userID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return xerrors.Transient("database", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.RecomputeWithTx(ctx, tx, tenantID, userID, time.Now().UTC()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return xerrors.Transient("database", err)
	}

	s.cache.Evict(ctx, tenantID, userID)
	return nil
}

// GetEntitlements serves the aggregated view, cache first. Cache errors are
// misses; a database failure is transient and surfaces as such, the read
// never silently degrades to an empty grant set.
func (s *Service) GetEntitlements(ctx context.Context, tenantID, userID string) (*entitlement.View, error) {
	now := time.Now().UTC()

	if view, ok := s.cache.Get(ctx, tenantID, userID); ok {
		view.CheckedAt = now
		return view, nil
	}

	rows, err := s.entitlementRepo.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, xerrors.Transient("database", err)
	}

	view := &entitlement.View{
		TenantID:     tenantID,
		UserID:       userID,
		Entitlements: Aggregate(rows, now),
		CheckedAt:    now,
	}

	s.cache.Set(ctx, view)
	return view, nil
}

// EvictCache exposes post-commit eviction to writers that manage their own
// transactions (the webhook ingestor).
func (s *Service) EvictCache(ctx context.Context, tenantID, userID string) {
	s.cache.Evict(ctx, tenantID, userID)
}

func (s *Service) loadPriceFeatures(ctx context.Context, tx pgx.Tx, subs []subscription.Subscription, purchases []purchase.Purchase) (map[int64][]string, error) {
	features := map[int64][]string{}

	load := func(priceID int64) error {
		if _, ok := features[priceID]; ok {
			return nil
		}
		codes, err := s.catalogRepo.FeatureCodesForPriceWithTx(ctx, tx, priceID)
		if err != nil {
			if xerrors.Is(err, xerrors.ErrNotFound) {
				s.logger.Warn("price without product, skipping", zap.Int64("price_id", priceID))
				features[priceID] = nil
				return nil
			}
			return err
		}
		features[priceID] = codes
		return nil
	}

	for i := range subs {
		if err := load(subs[i].PriceID); err != nil {
			return nil, err
		}
	}
	for i := range purchases {
		if err := load(purchases[i].PriceID); err != nil {
			return nil, err
		}
	}

	return features, nil
}
