// Package testutil provides in-memory fakes for the repository interfaces
// and a stub transaction, so service tests run without PostgreSQL.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"billing-service/internal/domain/audit"
	"billing-service/internal/domain/catalog"
	"billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/event"
	"billing-service/internal/domain/grant"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
	"billing-service/internal/provider"

	"github.com/jackc/pgx/v5"
)

// FakeTx satisfies pgx.Tx for the methods services actually call. Everything
// else panics via the embedded nil interface, which is the desired failure
// mode in tests.
type FakeTx struct {
	pgx.Tx
	Committed  bool
	RolledBack bool
}

func (t *FakeTx) Commit(ctx context.Context) error {
	t.Committed = true
	return nil
}

func (t *FakeTx) Rollback(ctx context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

// FakeDB hands out FakeTx values and remembers them so tests can assert on
// commit behavior.
type FakeDB struct {
	mu  sync.Mutex
	Txs []*FakeTx

	BeginErr error
}

func (d *FakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	tx := &FakeTx{}
	d.Txs = append(d.Txs, tx)
	return tx, nil
}

// ---------- tenants ----------

type FakeTenantRepo struct {
	mu      sync.Mutex
	Tenants []tenant.Tenant
	// CredentialHashes maps credential hash to tenant_id.
	CredentialHashes map[string]string
}

func NewFakeTenantRepo() *FakeTenantRepo {
	return &FakeTenantRepo{CredentialHashes: map[string]string{}}
}

func (r *FakeTenantRepo) AddTenant(t tenant.Tenant, credentialHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tenants = append(r.Tenants, t)
	if credentialHash != "" {
		r.CredentialHashes[credentialHash] = t.TenantID
	}
}

func (r *FakeTenantRepo) FindByCredentialHash(ctx context.Context, hash string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenantID, ok := r.CredentialHashes[hash]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return r.findLocked(tenantID)
}

func (r *FakeTenantRepo) FindByTenantID(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findLocked(tenantID)
}

func (r *FakeTenantRepo) findLocked(tenantID string) (*tenant.Tenant, error) {
	for i := range r.Tenants {
		if r.Tenants[i].TenantID == tenantID {
			t := r.Tenants[i]
			return &t, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *FakeTenantRepo) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []tenant.Tenant{}
	for _, t := range r.Tenants {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---------- catalog ----------

type FakeCatalogRepo struct {
	mu sync.Mutex
	// PricesByProviderID maps provider_price_id to price.
	PricesByProviderID map[string]catalog.Price
	// FeaturesByPriceID maps price id to the product's feature codes.
	FeaturesByPriceID map[int64][]string
}

func NewFakeCatalogRepo() *FakeCatalogRepo {
	return &FakeCatalogRepo{
		PricesByProviderID: map[string]catalog.Price{},
		FeaturesByPriceID:  map[int64][]string{},
	}
}

func (r *FakeCatalogRepo) AddPrice(p catalog.Price, features []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PricesByProviderID[p.ProviderPriceID] = p
	r.FeaturesByPriceID[p.ID] = features
}

func (r *FakeCatalogRepo) FindPriceByProviderID(ctx context.Context, providerPriceID string) (*catalog.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.PricesByProviderID[providerPriceID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &p, nil
}

func (r *FakeCatalogRepo) FindPriceByProviderIDWithTx(ctx context.Context, tx pgx.Tx, providerPriceID string) (*catalog.Price, error) {
	return r.FindPriceByProviderID(ctx, providerPriceID)
}

func (r *FakeCatalogRepo) FeatureCodesForPriceWithTx(ctx context.Context, tx pgx.Tx, priceID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes, ok := r.FeaturesByPriceID[priceID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return codes, nil
}

// ---------- subscriptions ----------

type FakeSubscriptionRepo struct {
	mu     sync.Mutex
	nextID int64
	Subs   map[string]*subscription.Subscription // by provider_subscription_id
}

func NewFakeSubscriptionRepo() *FakeSubscriptionRepo {
	return &FakeSubscriptionRepo{Subs: map[string]*subscription.Subscription{}}
}

func (r *FakeSubscriptionRepo) FindByProviderID(ctx context.Context, id string) (*subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.Subs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *FakeSubscriptionRepo) LockByProviderID(ctx context.Context, tx pgx.Tx, id string) (*subscription.Subscription, error) {
	return r.FindByProviderID(ctx, id)
}

func (r *FakeSubscriptionRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Subs[s.ProviderSubscriptionID]; ok {
		return xerrors.ErrDuplicateEntry
	}
	r.nextID++
	s.ID = r.nextID
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.Subs[s.ProviderSubscriptionID] = &cp
	return nil
}

func (r *FakeSubscriptionRepo) UpdateWithTx(ctx context.Context, tx pgx.Tx, s *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.Subs[s.ProviderSubscriptionID]
	if !ok || stored.ID != s.ID {
		return xerrors.ErrNotFound
	}
	cp := *s
	cp.UpdatedAt = time.Now().UTC()
	r.Subs[s.ProviderSubscriptionID] = &cp
	return nil
}

func (r *FakeSubscriptionRepo) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []subscription.Subscription{}
	for _, s := range r.Subs {
		if s.TenantID == tenantID && s.UserID == userID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FakeSubscriptionRepo) ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []subscription.Subscription{}
	for _, s := range r.Subs {
		if s.TenantID == tenantID && !s.UpdatedAt.Before(since) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------- purchases ----------

type FakePurchaseRepo struct {
	mu        sync.Mutex
	nextID    int64
	Purchases map[string]*purchase.Purchase // by provider_charge_id
}

func NewFakePurchaseRepo() *FakePurchaseRepo {
	return &FakePurchaseRepo{Purchases: map[string]*purchase.Purchase{}}
}

func (r *FakePurchaseRepo) FindByProviderChargeID(ctx context.Context, id string) (*purchase.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.Purchases[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *FakePurchaseRepo) LockByProviderChargeID(ctx context.Context, tx pgx.Tx, id string) (*purchase.Purchase, error) {
	return r.FindByProviderChargeID(ctx, id)
}

func (r *FakePurchaseRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, p *purchase.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Purchases[p.ProviderChargeID]; ok {
		return xerrors.ErrDuplicateEntry
	}
	r.nextID++
	p.ID = r.nextID
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.Purchases[p.ProviderChargeID] = &cp
	return nil
}

func (r *FakePurchaseRepo) UpdateWithTx(ctx context.Context, tx pgx.Tx, p *purchase.Purchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.Purchases[p.ProviderChargeID]
	if !ok || stored.ID != p.ID {
		return xerrors.ErrNotFound
	}
	cp := *p
	cp.UpdatedAt = time.Now().UTC()
	r.Purchases[p.ProviderChargeID] = &cp
	return nil
}

func (r *FakePurchaseRepo) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]purchase.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []purchase.Purchase{}
	for _, p := range r.Purchases {
		if p.TenantID == tenantID && p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FakePurchaseRepo) ListUpdatedSince(ctx context.Context, tenantID string, since time.Time) ([]purchase.Purchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []purchase.Purchase{}
	for _, p := range r.Purchases {
		if p.TenantID == tenantID && !p.UpdatedAt.Before(since) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------- grants ----------

type FakeGrantRepo struct {
	mu     sync.Mutex
	Grants []grant.ManualGrant
}

func NewFakeGrantRepo() *FakeGrantRepo {
	return &FakeGrantRepo{}
}

func (r *FakeGrantRepo) CreateWithTx(ctx context.Context, tx pgx.Tx, g *grant.ManualGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Grants {
		if r.Grants[i].ID == g.ID {
			return xerrors.ErrDuplicateEntry
		}
	}
	r.Grants = append(r.Grants, *g)
	return nil
}

func (r *FakeGrantRepo) FindLatestActive(ctx context.Context, tenantID, userID, featureCode string) (*grant.ManualGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *grant.ManualGrant
	for i := range r.Grants {
		g := &r.Grants[i]
		if g.TenantID != tenantID || g.UserID != userID || g.FeatureCode != featureCode || g.RevokedAt.Valid {
			continue
		}
		if latest == nil || g.GrantedAt.After(latest.GrantedAt) {
			latest = g
		}
	}
	if latest == nil {
		return nil, xerrors.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *FakeGrantRepo) RevokeWithTx(ctx context.Context, tx pgx.Tx, id, revokedBy, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.Grants {
		g := &r.Grants[i]
		if g.ID == id && !g.RevokedAt.Valid {
			g.RevokedAt.Time = at
			g.RevokedAt.Valid = true
			g.RevokedBy.String = revokedBy
			g.RevokedBy.Valid = true
			g.RevokeReason.String = reason
			g.RevokeReason.Valid = reason != ""
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (r *FakeGrantRepo) ListByUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) ([]grant.ManualGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []grant.ManualGrant{}
	for _, g := range r.Grants {
		if g.TenantID == tenantID && g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

// ---------- entitlements ----------

type FakeEntitlementRepo struct {
	mu     sync.Mutex
	Stored map[string][]entitlement.Entitlement // by tenant:user

	ListErr error
}

func NewFakeEntitlementRepo() *FakeEntitlementRepo {
	return &FakeEntitlementRepo{Stored: map[string][]entitlement.Entitlement{}}
}

func pairKey(tenantID, userID string) string {
	return tenantID + ":" + userID
}

func (r *FakeEntitlementRepo) AcquirePairLockWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) error {
	return nil
}

func (r *FakeEntitlementRepo) ReplaceForUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string, rows []entitlement.Entitlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]entitlement.Entitlement, len(rows))
	copy(cp, rows)
	r.Stored[pairKey(tenantID, userID)] = cp
	return nil
}

func (r *FakeEntitlementRepo) ListByUser(ctx context.Context, tenantID, userID string) ([]entitlement.Entitlement, error) {
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.Stored[pairKey(tenantID, userID)]
	cp := make([]entitlement.Entitlement, len(rows))
	copy(cp, rows)
	return cp, nil
}

// ---------- raw events ----------

type FakeEventRepo struct {
	mu     sync.Mutex
	nextID int64
	Events map[string]*event.RawEvent
}

func NewFakeEventRepo() *FakeEventRepo {
	return &FakeEventRepo{Events: map[string]*event.RawEvent{}}
}

func (r *FakeEventRepo) Insert(ctx context.Context, e *event.RawEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.Events[e.ProviderEventID]; ok {
		return xerrors.ErrDuplicateEntry
	}
	r.nextID++
	e.ID = r.nextID
	cp := *e
	r.Events[e.ProviderEventID] = &cp
	return nil
}

func (r *FakeEventRepo) FindByProviderEventID(ctx context.Context, providerEventID string) (*event.RawEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[providerEventID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *FakeEventRepo) MarkOutcome(ctx context.Context, providerEventID string, outcome event.Outcome, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.Events[providerEventID]
	if !ok {
		return xerrors.ErrNotFound
	}
	e.Outcome = outcome
	e.ProcessedAt.Time = time.Now().UTC()
	e.ProcessedAt.Valid = true
	e.AttemptCount++
	e.LastError.String = errMsg
	e.LastError.Valid = errMsg != ""
	return nil
}

// ---------- audit ----------

type FakeAuditRepo struct {
	mu      sync.Mutex
	Records []audit.Record
}

func NewFakeAuditRepo() *FakeAuditRepo {
	return &FakeAuditRepo{}
}

func (r *FakeAuditRepo) Insert(ctx context.Context, rec *audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Records = append(r.Records, *rec)
	return nil
}

// ---------- provider ----------

type FakeProviderClient struct {
	mu            sync.Mutex
	Subscriptions map[string][]provider.Subscription // by tenant id
	Charges       map[string][]provider.Charge

	SubscriptionsErr error
	ChargesErr       error
}

func NewFakeProviderClient() *FakeProviderClient {
	return &FakeProviderClient{
		Subscriptions: map[string][]provider.Subscription{},
		Charges:       map[string][]provider.Charge{},
	}
}

func (c *FakeProviderClient) GetSubscription(ctx context.Context, id string) (*provider.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subs := range c.Subscriptions {
		for i := range subs {
			if subs[i].ID == id {
				cp := subs[i]
				return &cp, nil
			}
		}
	}
	return nil, xerrors.ErrNotFound
}

func (c *FakeProviderClient) GetCharge(ctx context.Context, id string) (*provider.Charge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, charges := range c.Charges {
		for i := range charges {
			if charges[i].ID == id {
				cp := charges[i]
				return &cp, nil
			}
		}
	}
	return nil, xerrors.ErrNotFound
}

func (c *FakeProviderClient) ListSubscriptions(ctx context.Context, tenantID string, since time.Time) ([]provider.Subscription, error) {
	if c.SubscriptionsErr != nil {
		return nil, c.SubscriptionsErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Subscription{}, c.Subscriptions[tenantID]...), nil
}

func (c *FakeProviderClient) ListCharges(ctx context.Context, tenantID string, since time.Time) ([]provider.Charge, error) {
	if c.ChargesErr != nil {
		return nil, c.ChargesErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]provider.Charge{}, c.Charges[tenantID]...), nil
}

// DumpEvents renders stored events for debugging test failures.
func (r *FakeEventRepo) DumpEvents() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for id, e := range r.Events {
		fmt.Fprintf(&b, "%s type=%s outcome=%s attempts=%d\n", id, e.EventType, e.Outcome, e.AttemptCount)
	}
	return b.String()
}
