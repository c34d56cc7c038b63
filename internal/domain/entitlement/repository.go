// internal/domain/entitlement/repository.go
package entitlement

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type Repository interface {
	// AcquirePairLockWithTx takes the (tenant, user) advisory lock for the
	// remainder of the transaction so concurrent recomputations for the same
	// pair cannot interleave deletes and inserts.
	AcquirePairLockWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string) error
	// ReplaceForUserWithTx deletes the pair's materialized rows and inserts
	// the new set, one statement per row, inside the caller's transaction.
	ReplaceForUserWithTx(ctx context.Context, tx pgx.Tx, tenantID, userID string, rows []Entitlement) error
	ListByUser(ctx context.Context, tenantID, userID string) ([]Entitlement, error)
}
