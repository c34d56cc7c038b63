// internal/domain/grant/dto.go
package grant

import "time"

type GrantRequest struct {
	TenantID    string     `json:"tenant_id" binding:"required"`
	UserID      string     `json:"user_id" binding:"required"`
	FeatureCode string     `json:"feature_code" binding:"required"`
	ValidFrom   *time.Time `json:"valid_from,omitempty"`
	ValidTo     *time.Time `json:"valid_to,omitempty"`
	Reason      string     `json:"reason" binding:"required"`
}

type RevokeRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
	FeatureCode string `json:"feature_code" binding:"required"`
	Reason      string `json:"reason,omitempty"`
}
