// internal/repository/postgres/event_repo.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"billing-service/internal/domain/event"
	xerrors "billing-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Insert persists the raw event before any processing happens. The unique
// constraint on provider_event_id is the dedup gate: a second delivery maps
// to xerrors.ErrDuplicateEntry.
func (r *EventRepository) Insert(ctx context.Context, e *event.RawEvent) error {
	query := `
		INSERT INTO raw_events (provider_event_id, event_type, payload, received_at, processing_outcome)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.db.QueryRow(
		ctx, query,
		e.ProviderEventID, e.EventType, e.Payload, e.ReceivedAt, e.Outcome,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return xerrors.ErrDuplicateEntry
		}
		return fmt.Errorf("failed to insert raw event: %w", err)
	}

	return nil
}

func (r *EventRepository) FindByProviderEventID(ctx context.Context, providerEventID string) (*event.RawEvent, error) {
	query := `
		SELECT id, provider_event_id, event_type, payload, received_at,
		       processed_at, processing_outcome, attempt_count, last_error
		FROM raw_events
		WHERE provider_event_id = $1
	`

	var e event.RawEvent
	err := r.db.QueryRow(ctx, query, providerEventID).Scan(
		&e.ID, &e.ProviderEventID, &e.EventType, &e.Payload, &e.ReceivedAt,
		&e.ProcessedAt, &e.Outcome, &e.AttemptCount, &e.LastError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find raw event: %w", err)
	}

	return &e, nil
}

func (r *EventRepository) MarkOutcome(ctx context.Context, providerEventID string, outcome event.Outcome, errMsg string) error {
	query := `
		UPDATE raw_events
		SET processing_outcome = $1, processed_at = $2, attempt_count = attempt_count + 1, last_error = $3
		WHERE provider_event_id = $4
	`

	_, err := r.db.Exec(
		ctx, query,
		outcome, time.Now().UTC(),
		sql.NullString{String: errMsg, Valid: errMsg != ""},
		providerEventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event outcome: %w", err)
	}

	return nil
}
