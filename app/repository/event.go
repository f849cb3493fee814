package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/vibast-solutions/ms-go-payment-retries/app/entity"
)

// EventRepository is the durable event journal. The auto-increment id is the event
// sequence number.
type EventRepository struct {
	db DBTX
}

func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event *entity.Event) error {
	var metaData interface{}
	if len(event.MetaData) > 0 {
		raw, err := json.Marshal(event.MetaData)
		if err != nil {
			return err
		}
		metaData = string(raw)
	}

	query := `
		INSERT INTO retry_events (
			event_id, event_type, tenant_id, entity_id, account_id, object_type, metadata_json, occurred_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.ID,
		string(event.Type),
		event.TenantID,
		event.EntityID,
		nullableString(event.Account),
		event.Object,
		metaData,
		event.Timestamp,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.Sequence = uint64(id)
	return nil
}

func (r *EventRepository) Since(ctx context.Context, sequence uint64, limit int) ([]*entity.Event, error) {
	query := `
		SELECT id, event_id, event_type, tenant_id, entity_id, account_id, object_type, metadata_json, occurred_at
		FROM retry_events
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, sequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*entity.Event, 0)
	for rows.Next() {
		var (
			event     entity.Event
			eventType string
			accountID sql.NullString
			metaData  sql.NullString
		)
		if err := rows.Scan(&event.Sequence, &event.ID, &eventType, &event.TenantID, &event.EntityID, &accountID, &event.Object, &metaData, &event.Timestamp); err != nil {
			return nil, err
		}
		event.Type = entity.EventType(eventType)
		event.Account = stringFromNull(accountID)
		if metaData.Valid && metaData.String != "" {
			if err := json.Unmarshal([]byte(metaData.String), &event.MetaData); err != nil {
				return nil, err
			}
		}
		items = append(items, &event)
	}
	return items, rows.Err()
}
