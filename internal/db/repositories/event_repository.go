// event_repository.go implements EventRepository, which persists lifecycle events
// and serves an account's recent history.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/PoyrazK/Mini-AWS/internal/db/models"
)

// EventRepository handles lifecycle event database operations
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateEvent inserts an event. Metadata is stored as JSONB.
func (r *EventRepository) CreateEvent(ctx context.Context, ev *models.Event) error {
	var metadata []byte
	if len(ev.Metadata) > 0 {
		var err error
		if metadata, err = json.Marshal(ev.Metadata); err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, account_id, type, resource_type, resource_id, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.AccountID, ev.Type, ev.ResourceType, ev.ResourceID, ev.Message, metadata, ev.CreatedAt,
	)
	return err
}

// eventRow mirrors the events table; metadata is decoded separately.
type eventRow struct {
	models.Event
	RawMetadata []byte `db:"metadata"`
}

// ListRecentEvents returns up to limit events of an account, newest first.
func (r *EventRepository) ListRecentEvents(ctx context.Context, accountID string, limit int) ([]models.Event, error) {
	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, type, resource_type, resource_id, message, metadata, created_at
		FROM events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]models.Event, 0, len(rows))
	for _, row := range rows {
		ev := row.Event
		if len(row.RawMetadata) > 0 {
			if err := json.Unmarshal(row.RawMetadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of event %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
