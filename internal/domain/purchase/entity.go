// internal/domain/purchase/entity.go
package purchase

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type Purchase struct {
	ID               int64        `json:"id" db:"id"`
	TenantID         string       `json:"tenant_id" db:"tenant_id"`
	UserID           string       `json:"user_id" db:"user_id"`
	ProviderChargeID string       `json:"provider_charge_id" db:"provider_charge_id"`
	PriceID          int64        `json:"price_id" db:"price_id"`
	Amount           int64        `json:"amount" db:"amount"`
	Currency         string       `json:"currency" db:"currency"`
	Status           Status       `json:"status" db:"status"`
	RefundedAt       sql.NullTime `json:"refunded_at,omitempty" db:"refunded_at"`
	ValidFrom        time.Time    `json:"valid_from" db:"valid_from"`
	ValidTo          sql.NullTime `json:"valid_to,omitempty" db:"valid_to"` // null = lifetime
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}
