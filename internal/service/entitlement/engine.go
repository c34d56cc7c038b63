// internal/service/entitlement/engine.go
package entitlement

import (
	"database/sql"
	"sort"
	"time"

	"billing-service/internal/domain/entitlement"
	"billing-service/internal/domain/grant"
	"billing-service/internal/domain/purchase"
	"billing-service/internal/domain/subscription"
)

// Sources carries everything Compute needs, preloaded by the caller, so the
// computation itself is a pure function of its inputs and now.
type Sources struct {
	Subscriptions []subscription.Subscription
	Purchases     []purchase.Purchase
	Grants        []grant.ManualGrant

	// PriceFeatures maps a price id to the feature codes of its product.
	PriceFeatures map[int64][]string
}

// Compute derives the entitlement rows for one (tenant, user) pair. Output
// is deterministic: fixed inputs and now produce byte-identical results on
// repeated invocations.
//
// A subscription contributes while status is active or trialing and
// now < current_period_end (strict); past_due contributes within the grace
// window current_period_end + grace. A purchase contributes while succeeded
// and now is inside [valid_from, valid_to), null valid_to meaning lifetime.
// A grant contributes while not revoked and inside its window.
func Compute(src Sources, now time.Time, grace time.Duration) []entitlement.Entitlement {
	rows := []entitlement.Entitlement{}

	for i := range src.Subscriptions {
		s := &src.Subscriptions[i]

		var validTo time.Time
		switch s.Status {
		case subscription.StatusActive, subscription.StatusTrialing:
			validTo = s.CurrentPeriodEnd
		case subscription.StatusPastDue:
			if grace <= 0 {
				continue
			}
			validTo = s.CurrentPeriodEnd.Add(grace)
		default:
			continue
		}

		if !now.Before(validTo) {
			continue
		}

		for _, code := range src.PriceFeatures[s.PriceID] {
			rows = append(rows, entitlement.Entitlement{
				TenantID:    s.TenantID,
				UserID:      s.UserID,
				FeatureCode: code,
				Source:      entitlement.SourceSubscription,
				SourceRef:   s.ProviderSubscriptionID,
				IsActive:    true,
				ValidFrom:   s.CurrentPeriodStart,
				ValidTo:     sql.NullTime{Time: validTo, Valid: true},
				ComputedAt:  now,
			})
		}
	}

	for i := range src.Purchases {
		p := &src.Purchases[i]
		if p.Status != purchase.StatusSucceeded {
			continue
		}
		if now.Before(p.ValidFrom) {
			continue
		}
		if p.ValidTo.Valid && !now.Before(p.ValidTo.Time) {
			continue
		}

		for _, code := range src.PriceFeatures[p.PriceID] {
			rows = append(rows, entitlement.Entitlement{
				TenantID:    p.TenantID,
				UserID:      p.UserID,
				FeatureCode: code,
				Source:      entitlement.SourcePurchase,
				SourceRef:   p.ProviderChargeID,
				IsActive:    true,
				ValidFrom:   p.ValidFrom,
				ValidTo:     p.ValidTo,
				ComputedAt:  now,
			})
		}
	}

	for i := range src.Grants {
		g := &src.Grants[i]
		if !g.ContributesAt(now) {
			continue
		}

		rows = append(rows, entitlement.Entitlement{
			TenantID:    g.TenantID,
			UserID:      g.UserID,
			FeatureCode: g.FeatureCode,
			Source:      entitlement.SourceManual,
			SourceRef:   g.ID,
			IsActive:    true,
			ValidFrom:   g.ValidFrom,
			ValidTo:     g.ValidTo,
			ComputedAt:  now,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := &rows[i], &rows[j]
		if a.FeatureCode != b.FeatureCode {
			return a.FeatureCode < b.FeatureCode
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.SourceRef < b.SourceRef
	})

	return rows
}

// Aggregate collapses stored rows into the per-feature view: the winning row
// is the one with the latest valid_to (null treated as +infinity), ties
// broken by source precedence manual > purchase > subscription. is_active is
// true iff at least one contributing row qualifies at now.
func Aggregate(rows []entitlement.Entitlement, now time.Time) []entitlement.FeatureEntitlement {
	type bucket struct {
		winner *entitlement.Entitlement
		active bool
	}
	byFeature := map[string]*bucket{}
	order := []string{}

	for i := range rows {
		e := &rows[i]
		b, ok := byFeature[e.FeatureCode]
		if !ok {
			b = &bucket{}
			byFeature[e.FeatureCode] = b
			order = append(order, e.FeatureCode)
		}

		if qualifiesAt(e, now) {
			b.active = true
		}

		if b.winner == nil || beats(e, b.winner) {
			b.winner = e
		}
	}

	sort.Strings(order)

	view := []entitlement.FeatureEntitlement{}
	for _, code := range order {
		b := byFeature[code]
		fe := entitlement.FeatureEntitlement{
			FeatureCode: code,
			IsActive:    b.active,
			ValidFrom:   b.winner.ValidFrom,
			Source:      b.winner.Source,
		}
		if b.winner.ValidTo.Valid {
			t := b.winner.ValidTo.Time
			fe.ValidTo = &t
		}
		view = append(view, fe)
	}

	return view
}

func qualifiesAt(e *entitlement.Entitlement, now time.Time) bool {
	if now.Before(e.ValidFrom) {
		return false
	}
	if e.ValidTo.Valid && !now.Before(e.ValidTo.Time) {
		return false
	}
	return true
}

// beats reports whether a wins over b: later valid_to first (null is
// later than any finite instant), source precedence on ties.
func beats(a, b *entitlement.Entitlement) bool {
	switch {
	case !a.ValidTo.Valid && b.ValidTo.Valid:
		return true
	case a.ValidTo.Valid && !b.ValidTo.Valid:
		return false
	case a.ValidTo.Valid && b.ValidTo.Valid && !a.ValidTo.Time.Equal(b.ValidTo.Time):
		return a.ValidTo.Time.After(b.ValidTo.Time)
	}
	return a.Source.Supersedes(b.Source)
}
