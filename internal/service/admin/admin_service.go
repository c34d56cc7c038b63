// internal/service/admin/admin_service.go
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"billing-service/internal/domain/audit"
	"billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/grant"
	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
	entitlementsvc "billing-service/internal/service/entitlement"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements the operator override operations. Both operations write
// an immutable audit line independently of the grant row and funnel through
// the same recomputation + eviction path as the event processors.
type Service struct {
	db           TxBeginner
	tenantRepo   tenant.Repository
	grantRepo    grant.Repository
	auditRepo    audit.Repository
	entitlements *entitlementsvc.Service
	logger       *zap.Logger
}

func NewService(
	db TxBeginner,
	tenantRepo tenant.Repository,
	grantRepo grant.Repository,
	auditRepo audit.Repository,
	entitlements *entitlementsvc.Service,
	logger *zap.Logger,
) *Service {
	return &Service{
		db:           db,
		tenantRepo:   tenantRepo,
		grantRepo:    grantRepo,
		auditRepo:    auditRepo,
		entitlements: entitlements,
		logger:       logger,
	}
}

// Grant inserts a manual grant and returns the resulting aggregated view.
// Granting a feature that already has an active grant is a no-op success
// returning the latest state.
func (s *Service) Grant(ctx context.Context, actor string, req *grant.GrantRequest) (*entitlement.View, error) {
	if req.Reason == "" {
		return nil, fmt.Errorf("%w: reason is required", xerrors.ErrInvalidInput)
	}
	if _, err := s.tenantRepo.FindByTenantID(ctx, req.TenantID); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrNotFound
		}
		return nil, xerrors.Transient("database", err)
	}

	if existing, err := s.grantRepo.FindLatestActive(ctx, req.TenantID, req.UserID, req.FeatureCode); err == nil && existing != nil {
		s.logger.Info("grant already active, returning current state",
			zap.String("tenant_id", req.TenantID),
			zap.String("user_id", req.UserID),
			zap.String("feature_code", req.FeatureCode),
		)
		return s.entitlements.GetEntitlements(ctx, req.TenantID, req.UserID)
	} else if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.Transient("database", err)
	}

	now := time.Now().UTC()
	g := &grant.ManualGrant{
		ID:          ulid.Make().String(),
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		FeatureCode: req.FeatureCode,
		ValidFrom:   now,
		Reason:      req.Reason,
		GrantedBy:   actor,
		GrantedAt:   now,
	}
	if req.ValidFrom != nil {
		g.ValidFrom = req.ValidFrom.UTC()
	}
	if req.ValidTo != nil {
		g.ValidTo = sql.NullTime{Time: req.ValidTo.UTC(), Valid: true}
	}

	if err := s.applyInTx(ctx, req.TenantID, req.UserID, func(tx pgx.Tx) error {
		return s.grantRepo.CreateWithTx(ctx, tx, g)
	}); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req.TenantID, req.UserID, actor, "grant", req.FeatureCode,
		fmt.Sprintf("grant %s: %s", g.ID, req.Reason))

	return s.entitlements.GetEntitlements(ctx, req.TenantID, req.UserID)
}

// Revoke marks the latest non-revoked grant for the triple as revoked.
// Revocation is permanent.
func (s *Service) Revoke(ctx context.Context, actor string, req *grant.RevokeRequest) (*entitlement.View, error) {
	g, err := s.grantRepo.FindLatestActive(ctx, req.TenantID, req.UserID, req.FeatureCode)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrNotFound
		}
		return nil, xerrors.Transient("database", err)
	}

	now := time.Now().UTC()
	if err := s.applyInTx(ctx, req.TenantID, req.UserID, func(tx pgx.Tx) error {
		return s.grantRepo.RevokeWithTx(ctx, tx, g.ID, actor, req.Reason, now)
	}); err != nil {
		return nil, err
	}

	s.writeAudit(ctx, req.TenantID, req.UserID, actor, "revoke", req.FeatureCode,
		fmt.Sprintf("revoke %s: %s", g.ID, req.Reason))

	return s.entitlements.GetEntitlements(ctx, req.TenantID, req.UserID)
}

// applyInTx runs the mutation plus recomputation in one transaction, then
// evicts the cache entry strictly after commit.
func (s *Service) applyInTx(ctx context.Context, tenantID, userID string, mutate func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return xerrors.Transient("database", err)
	}
	defer tx.Rollback(ctx)

	if err := mutate(tx); err != nil {
		return err
	}
	if _, err := s.entitlements.RecomputeWithTx(ctx, tx, tenantID, userID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return xerrors.Transient("database", err)
	}

	s.entitlements.EvictCache(ctx, tenantID, userID)
	return nil
}

func (s *Service) writeAudit(ctx context.Context, tenantID, userID, actor, action, featureCode, detail string) {
	now := time.Now().UTC()
	rec := &audit.Record{
		ID:          ulid.Make().String(),
		TenantID:    tenantID,
		UserID:      userID,
		Actor:       actor,
		Action:      action,
		FeatureCode: featureCode,
		Detail:      detail,
		CreatedAt:   now,
	}
	if err := s.auditRepo.Insert(ctx, rec); err != nil {
		s.logger.Error("failed to write audit record",
			zap.String("action", action),
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
