package eventbus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresEventStore persists events in postgres with JSONB columns.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates the store and runs its migration.
func NewPostgresEventStore(db *sql.DB) (*PostgresEventStore, error) {
	s := &PostgresEventStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate events: %w", err)
	}
	return s, nil
}

func (s *PostgresEventStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		source TEXT NOT NULL,
		event_type TEXT,
		payload JSONB,
		priority TEXT NOT NULL,
		state TEXT NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		expires_at BIGINT NOT NULL,
		headers JSONB,
		correlation_id TEXT,
		trace_id TEXT,
		processed_at BIGINT,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_category_created ON events(category, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_source_created ON events(source, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_expires ON events(expires_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresEventStore) Save(ctx context.Context, e *Event, errorMessage string) error {
	row, err := marshalEventRow(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	var processedAt any
	if e.State == StateProcessed || e.State == StateFailed {
		processedAt = time.Now().UTC().UnixMilli()
	}
	query := `
	INSERT INTO events (event_id, category, source, event_type, payload, priority,
		state, retry_count, created_at, expires_at, headers, correlation_id,
		trace_id, processed_at, error_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (event_id) DO UPDATE SET
		state = EXCLUDED.state,
		retry_count = EXCLUDED.retry_count,
		processed_at = EXCLUDED.processed_at,
		error_message = EXCLUDED.error_message`
	_, err = s.db.ExecContext(ctx, query,
		e.EventID, string(e.Category), e.Source, e.EventType, row.payload,
		string(e.Priority), string(e.State), e.RetryCount, row.createdMs,
		row.expiresMs, row.headers, e.CorrelationID, e.TraceID,
		processedAt, nullIfEmpty(errorMessage))
	if err != nil {
		return fmt.Errorf("save event %s: %w", e.EventID, err)
	}
	return nil
}

const pgSelectEvents = `
	SELECT event_id, category, source, event_type, payload, priority, state,
		retry_count, created_at, expires_at, headers, correlation_id, trace_id
	FROM events`

func (s *PostgresEventStore) GetEvents(ctx context.Context, category Category, since time.Time) ([]*Event, error) {
	query := pgSelectEvents + ` WHERE category = $1 AND created_at >= $2 ORDER BY created_at DESC`
	return s.query(ctx, query, string(category), since.UnixMilli())
}

func (s *PostgresEventStore) GetEventsBySource(ctx context.Context, source string, since time.Time) ([]*Event, error) {
	query := pgSelectEvents + ` WHERE source = $1 AND created_at >= $2 ORDER BY created_at DESC`
	return s.query(ctx, query, source, since.UnixMilli())
}

func (s *PostgresEventStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE expires_at < $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresEventStore) query(ctx context.Context, query string, args ...any) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

var _ EventStore = (*PostgresEventStore)(nil)
var _ EventStore = (*SQLiteEventStore)(nil)
