// internal/domain/subscription/entity.go
package subscription

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusTrialing   Status = "trialing"
	StatusActive     Status = "active"
	StatusPastDue    Status = "past_due"
	StatusCanceled   Status = "canceled"
	StatusUnpaid     Status = "unpaid"
	StatusIncomplete Status = "incomplete"
)

// Known reports whether s is one of the provider statuses this service
// models. Unknown statuses from the wire are rejected as permanent errors.
func (s Status) Known() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCanceled, StatusUnpaid, StatusIncomplete:
		return true
	}
	return false
}

type Subscription struct {
	ID                     int64        `json:"id" db:"id"`
	TenantID               string       `json:"tenant_id" db:"tenant_id"`
	UserID                 string       `json:"user_id" db:"user_id"`
	ProviderSubscriptionID string       `json:"provider_subscription_id" db:"provider_subscription_id"`
	PriceID                int64        `json:"price_id" db:"price_id"`
	Status                 Status       `json:"status" db:"status"`
	CurrentPeriodStart     time.Time    `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd       time.Time    `json:"current_period_end" db:"current_period_end"`
	CancelAtPeriodEnd      bool         `json:"cancel_at_period_end" db:"cancel_at_period_end"`
	CanceledAt             sql.NullTime `json:"canceled_at,omitempty" db:"canceled_at"`
	CreatedAt              time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at" db:"updated_at"`
}
