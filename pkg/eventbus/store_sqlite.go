package eventbus

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteEventStore persists events in an embedded sqlite database. Used in
// lite mode and in tests.
type SQLiteEventStore struct {
	db *sql.DB
}

// NewSQLiteEventStore creates the store and runs its migration.
func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate events: %w", err)
	}
	return s, nil
}

func (s *SQLiteEventStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		source TEXT NOT NULL,
		event_type TEXT,
		payload JSON,
		priority TEXT NOT NULL,
		state TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		headers JSON,
		correlation_id TEXT,
		trace_id TEXT,
		processed_at INTEGER,
		error_message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_category_created ON events(category, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_source_created ON events(source, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_expires ON events(expires_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteEventStore) Save(ctx context.Context, e *Event, errorMessage string) error {
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
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		state = excluded.state,
		retry_count = excluded.retry_count,
		processed_at = excluded.processed_at,
		error_message = excluded.error_message`
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

const sqliteSelectEvents = `
	SELECT event_id, category, source, event_type, payload, priority, state,
		retry_count, created_at, expires_at, headers, correlation_id, trace_id
	FROM events`

func (s *SQLiteEventStore) GetEvents(ctx context.Context, category Category, since time.Time) ([]*Event, error) {
	query := sqliteSelectEvents + ` WHERE category = ? AND created_at >= ? ORDER BY created_at DESC`
	return s.query(ctx, query, string(category), since.UnixMilli())
}

func (s *SQLiteEventStore) GetEventsBySource(ctx context.Context, source string, since time.Time) ([]*Event, error) {
	query := sqliteSelectEvents + ` WHERE source = ? AND created_at >= ? ORDER BY created_at DESC`
	return s.query(ctx, query, source, since.UnixMilli())
}

func (s *SQLiteEventStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired events: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteEventStore) query(ctx context.Context, query string, args ...any) ([]*Event, error) {
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

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
