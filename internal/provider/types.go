// internal/provider/types.go
package provider

import "time"

// Subscription is the provider-side view of a recurring obligation.
// Timestamps are unix seconds on the wire.
type Subscription struct {
	ID                 string            `json:"id"`
	PriceID            string            `json:"price_id"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CanceledAt         *int64            `json:"canceled_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Charge is the provider-side view of a one-time payment.
type Charge struct {
	ID         string            `json:"id"`
	PriceID    string            `json:"price_id"`
	Amount     int64             `json:"amount"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"`
	Refunded   bool              `json:"refunded"`
	RefundedAt *int64            `json:"refunded_at,omitempty"`
	Created    int64             `json:"created"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CheckoutSession is the object carried by checkout.session.completed
// notifications. The checkout component stamps tenant_id and user_id into
// Metadata; for mode=subscription the session embeds the subscription it
// created, for mode=payment the charge.
type CheckoutSession struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"` // subscription, payment
	Metadata     map[string]string `json:"metadata,omitempty"`
	Subscription *Subscription     `json:"subscription,omitempty"`
	Charge       *Charge           `json:"charge,omitempty"`
}

// Invoice is the object carried by invoice.payment_succeeded notifications.
type Invoice struct {
	ID             string `json:"id"`
	SubscriptionID string `json:"subscription"`
	PeriodStart    int64  `json:"period_start"`
	PeriodEnd      int64  `json:"period_end"`
}

// UnixTime converts a provider wire timestamp to UTC.
func UnixTime(ts int64) time.Time {
	return time.Unix(ts, 0).UTC()
}
