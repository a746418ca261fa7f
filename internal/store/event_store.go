package store

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianrx/fulfillment/internal/domain"
)

// AppendMonitor observes successful appends (metrics + structured log).
type AppendMonitor interface {
	EventAppended(ctx context.Context, rec domain.StoredEvent)
}

// EventQuery filters the event log for keyset-paginated reads. AfterID
// is the exclusive cursor: the last stored id already seen.
type EventQuery struct {
	AggregateType string
	EventTypes    []string
	AfterID       int64
	ToID          int64 // inclusive upper bound; 0 means unbounded
	Limit         int
}

// AppendEvent validates and persists a new event at the tail of the
// log, returning the row with its store-assigned id. The log is
// append-only: no update or delete exists anywhere in this package.
func (s *PostgresStore) AppendEvent(ctx context.Context, rec domain.StoredEvent) (*domain.StoredEvent, error) {
	if rec.AggregateUUID == "" {
		return nil, &domain.ValidationError{Field: "aggregate_uuid", Reason: "is required"}
	}
	if rec.EventType == "" {
		return nil, &domain.ValidationError{Field: "event_type", Reason: "is required"}
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if rec.EventData == nil {
		rec.EventData = map[string]any{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}

	var stored domain.StoredEvent
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (aggregate_uuid, aggregate_type, event_type, event_data, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, aggregate_uuid, aggregate_type, event_type, event_data, metadata, occurred_at
	`, rec.AggregateUUID, rec.AggregateType, rec.EventType, rec.EventData, rec.Metadata, rec.OccurredAt).Scan(
		&stored.ID, &stored.AggregateUUID, &stored.AggregateType,
		&stored.EventType, &stored.EventData, &stored.Metadata, &stored.OccurredAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting event: %w", err)
	}

	if s.monitor != nil {
		s.monitor.EventAppended(ctx, stored)
	}

	return &stored, nil
}

// ListEventsAfter returns up to Limit events matching the query in
// ascending id order. Keyset pagination: callers pass the last seen id
// back as AfterID, so concurrent appends during a long walk can neither
// skip nor duplicate rows.
func (s *PostgresStore) ListEventsAfter(ctx context.Context, q EventQuery) ([]domain.StoredEvent, error) {
	query := `SELECT id, aggregate_uuid, aggregate_type, event_type, event_data, metadata, occurred_at
		FROM events WHERE id > $1`
	args := []interface{}{q.AfterID}
	argIdx := 2

	if q.ToID > 0 {
		query += fmt.Sprintf(" AND id <= $%d", argIdx)
		args = append(args, q.ToID)
		argIdx++
	}
	if q.AggregateType != "" {
		query += fmt.Sprintf(" AND aggregate_type = $%d", argIdx)
		args = append(args, q.AggregateType)
		argIdx++
	}
	if len(q.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, q.EventTypes)
		argIdx++
	}

	query += " ORDER BY id ASC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []domain.StoredEvent
	for rows.Next() {
		var e domain.StoredEvent
		err := rows.Scan(&e.ID, &e.AggregateUUID, &e.AggregateType, &e.EventType, &e.EventData, &e.Metadata, &e.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
