package eventbus

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// EventStore persists routed events. The bus writes events of priority
// HIGH and above, dead-letter failures, and serves the read APIs from it.
type EventStore interface {
	// Save upserts on event_id. errorMessage is empty unless the event
	// failed routing.
	Save(ctx context.Context, e *Event, errorMessage string) error
	// GetEvents returns persisted events of a category created at or
	// after since, newest first.
	GetEvents(ctx context.Context, category Category, since time.Time) ([]*Event, error)
	// GetEventsBySource returns persisted events from a source created at
	// or after since, newest first.
	GetEventsBySource(ctx context.Context, source string, since time.Time) ([]*Event, error)
	// DeleteExpired removes events whose TTL elapsed before now and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type eventRow struct {
	payload   []byte
	headers   []byte
	createdMs int64
	expiresMs int64
}

func marshalEventRow(e *Event) (eventRow, error) {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return eventRow{}, err
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	return eventRow{
		payload:   payload,
		headers:   headers,
		createdMs: e.CreatedAt.UnixMilli(),
		expiresMs: e.ExpiresAt.UnixMilli(),
	}, nil
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var e Event
	var category, priority, state string
	var payload, headers []byte
	var createdMs, expiresMs int64
	var correlationID, traceID sql.NullString

	if err := rows.Scan(&e.EventID, &category, &e.Source, &e.EventType, &payload,
		&priority, &state, &e.RetryCount, &createdMs, &expiresMs, &headers,
		&correlationID, &traceID); err != nil {
		return nil, err
	}
	e.Category = ParseCategory(category)
	e.Priority = ParsePriority(priority)
	e.State = ParseState(state)
	e.Payload = payload
	e.CreatedAt = time.UnixMilli(createdMs).UTC()
	e.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	e.CorrelationID = correlationID.String
	e.TraceID = traceID.String
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &e.Headers)
	}
	return &e, nil
}
