// internal/service/auth/auth_service.go
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"billing-service/internal/domain/tenant"
	xerrors "billing-service/internal/pkg/errors"
)

// Service resolves bearer credentials to tenants and verifies the admin
// credential. Credentials are random tokens of at least 128 bits; only their
// SHA-256 digests are stored, and every comparison is constant-time.
type Service struct {
	tenantRepo  tenant.Repository
	adminAPIKey string
}

func NewService(tenantRepo tenant.Repository, adminAPIKey string) *Service {
	return &Service{tenantRepo: tenantRepo, adminAPIKey: adminAPIKey}
}

// HashCredential returns the SHA-256 hex digest stored for a credential.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two strings without leaking a timing signal on
// the position of the first differing byte.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ResolveTenant maps a presented credential to its tenant. Unknown
// credentials are unauthorized; credentials of deactivated tenants are
// forbidden.
func (s *Service) ResolveTenant(ctx context.Context, credential string) (*tenant.Tenant, error) {
	if credential == "" {
		return nil, xerrors.ErrUnauthorized
	}

	t, err := s.tenantRepo.FindByCredentialHash(ctx, HashCredential(credential))
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrUnauthorized
		}
		return nil, xerrors.Transient("database", err)
	}

	if !t.Active {
		return nil, xerrors.ErrForbidden
	}

	return t, nil
}

// VerifyAdmin checks the presented credential against the configured admin
// secret and returns an actor identifier for audit lines.
func (s *Service) VerifyAdmin(credential string) (string, error) {
	if s.adminAPIKey == "" {
		return "", xerrors.Transient("config", fmt.Errorf("admin credential not configured"))
	}
	if credential == "" || !ConstantTimeEqual(HashCredential(s.adminAPIKey), HashCredential(credential)) {
		return "", xerrors.ErrUnauthorized
	}
	return "admin:" + HashCredential(s.adminAPIKey)[:8], nil
}
