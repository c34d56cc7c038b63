// internal/domain/event/repository.go
package event

import "context"

type Repository interface {
	// Insert persists the raw event with outcome pending. Returns
	// xerrors.ErrDuplicateEntry when the provider_event_id already exists.
	Insert(ctx context.Context, e *RawEvent) error
	FindByProviderEventID(ctx context.Context, providerEventID string) (*RawEvent, error)
	// MarkOutcome records the processing result and bumps attempt_count.
	MarkOutcome(ctx context.Context, providerEventID string, outcome Outcome, errMsg string) error
}
