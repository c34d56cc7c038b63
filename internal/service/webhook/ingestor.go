// internal/service/webhook/ingestor.go
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/event"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/pkg/metrics"
	"billing-service/internal/pkg/signature"
	entitlementsvc "billing-service/internal/service/entitlement"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Pair identifies the (tenant, user) whose entitlements an event touched.
type Pair struct {
	TenantID string
	UserID   string
}

// ProcessorFunc applies one event type's state transition inside tx and
// returns the pairs to evict after commit.
type ProcessorFunc func(ctx context.Context, tx pgx.Tx, env *event.Envelope) ([]Pair, error)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the event ingestor: it verifies signatures, deduplicates by
// provider event id, dispatches to the per-type processor and records the
// outcome on the raw event row.
type Service struct {
	db               TxBeginner
	eventRepo        event.Repository
	tenantRepo       tenant.Repository
	subscriptionRepo subscription.Repository
	purchaseRepo     purchase.Repository
	catalogRepo      catalog.Repository
	entitlements     *entitlementsvc.Service

	signingSecret string
	skewTolerance time.Duration

	registry map[string]ProcessorFunc
	logger   *zap.Logger
}

func NewService(
	db TxBeginner,
	eventRepo event.Repository,
	tenantRepo tenant.Repository,
	subscriptionRepo subscription.Repository,
	purchaseRepo purchase.Repository,
	catalogRepo catalog.Repository,
	entitlements *entitlementsvc.Service,
	signingSecret string,
	skewTolerance time.Duration,
	logger *zap.Logger,
) *Service {
	s := &Service{
		db:               db,
		eventRepo:        eventRepo,
		tenantRepo:       tenantRepo,
		subscriptionRepo: subscriptionRepo,
		purchaseRepo:     purchaseRepo,
		catalogRepo:      catalogRepo,
		entitlements:     entitlements,
		signingSecret:    signingSecret,
		skewTolerance:    skewTolerance,
		logger:           logger,
	}

	// Static registry: event type to processor. Unknown types fall through
	// to persistence + acknowledgement in Ingest.
	s.registry = map[string]ProcessorFunc{
		"checkout.session.completed":    s.processCheckoutCompleted,
		"invoice.payment_succeeded":     s.processInvoicePaymentSucceeded,
		"customer.subscription.updated": s.processSubscriptionUpdated,
		"customer.subscription.deleted": s.processSubscriptionDeleted,
		"charge.refunded":               s.processChargeRefunded,
	}

	return s
}

// VerifySignature checks the signature header against the raw payload.
func (s *Service) VerifySignature(header string, payload []byte, now time.Time) error {
	return signature.Verify(header, payload, s.signingSecret, now, s.skewTolerance)
}

// Ingest persists, deduplicates and processes one verified payload.
//
// Returning nil means the provider should receive 200: the event was
// processed, was a duplicate of a previously succeeded one, or failed
// permanently (retrying cannot help). A TransientError means 503 so the
// provider retries. ErrInvalidInput means the body is not a parseable event.
func (s *Service) Ingest(ctx context.Context, payload []byte) error {
	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("%w: malformed event payload", xerrors.ErrInvalidInput)
	}
	if env.ID == "" || env.Type == "" {
		return fmt.Errorf("%w: event id and type are required", xerrors.ErrInvalidInput)
	}

	raw := &event.RawEvent{
		ProviderEventID: env.ID,
		EventType:       env.Type,
		Payload:         payload,
		ReceivedAt:      time.Now().UTC(),
		Outcome:         event.OutcomePending,
	}

	// The raw event row must exist before any processing: it is the dedup
	// gate and the audit record of delivery.
	if err := s.eventRepo.Insert(ctx, raw); err != nil {
		if !xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			return xerrors.Transient("database", err)
		}

		existing, lookupErr := s.eventRepo.FindByProviderEventID(ctx, env.ID)
		if lookupErr != nil {
			return xerrors.Transient("database", lookupErr)
		}
		if existing.Outcome == event.OutcomeSucceeded {
			s.logger.Info("duplicate event already processed",
				zap.String("event_id", env.ID),
				zap.String("event_type", env.Type),
			)
			metrics.WebhookEvents.WithLabelValues(env.Type, "duplicate").Inc()
			return nil
		}
		// pending or failed: a concurrent delivery or a retry. Processing is
		// idempotent, so run it again.
	}

	return s.process(ctx, &env)
}

func (s *Service) process(ctx context.Context, env *event.Envelope) error {
	processor, ok := s.registry[env.Type]
	if !ok {
		s.logger.Warn("no processor for event type, acknowledging",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
		)
		metrics.WebhookEvents.WithLabelValues(env.Type, "unhandled").Inc()
		return s.markOutcome(ctx, env.ID, event.OutcomeSucceeded, "")
	}

	pairs, err := s.runInTx(ctx, env, processor)
	if err != nil {
		if xerrors.IsPermanent(err) {
			s.logger.Error("permanent failure processing event",
				zap.String("event_id", env.ID),
				zap.String("event_type", env.Type),
				zap.Error(err),
			)
			metrics.WebhookEvents.WithLabelValues(env.Type, "failed_permanent").Inc()
			if markErr := s.markOutcome(ctx, env.ID, event.OutcomeFailedPermanent, err.Error()); markErr != nil {
				return markErr
			}
			return nil
		}

		s.logger.Error("transient failure processing event",
			zap.String("event_id", env.ID),
			zap.String("event_type", env.Type),
			zap.Error(err),
		)
		metrics.WebhookEvents.WithLabelValues(env.Type, "failed_transient").Inc()
		// Best effort: if the outcome write itself fails the row stays
		// pending, which retries the same way.
		_ = s.eventRepo.MarkOutcome(ctx, env.ID, event.OutcomeFailedTransient, err.Error())
		if xerrors.IsTransient(err) {
			return err
		}
		return xerrors.Transient("processor", err)
	}

	// Eviction happens strictly after commit so a racing reader cannot
	// repopulate the cache with pre-commit data. A failed eviction is
	// absorbed by the TTL; the database is already correct.
	for _, p := range pairs {
		s.entitlements.EvictCache(ctx, p.TenantID, p.UserID)
	}

	metrics.WebhookEvents.WithLabelValues(env.Type, "succeeded").Inc()
	return s.markOutcome(ctx, env.ID, event.OutcomeSucceeded, "")
}

func (s *Service) runInTx(ctx context.Context, env *event.Envelope, processor ProcessorFunc) ([]Pair, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, xerrors.Transient("database", err)
	}
	defer tx.Rollback(ctx)

	pairs, err := processor(ctx, tx, env)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, xerrors.Transient("database", err)
	}

	return pairs, nil
}

func (s *Service) markOutcome(ctx context.Context, eventID string, outcome event.Outcome, errMsg string) error {
	if err := s.eventRepo.MarkOutcome(ctx, eventID, outcome, errMsg); err != nil {
		return xerrors.Transient("database", err)
	}
	return nil
}
