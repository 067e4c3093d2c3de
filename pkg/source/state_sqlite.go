package source

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStateStore keeps source cursors in an embedded sqlite database.
// Used in lite mode and in tests.
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore creates the store and runs its migration.
func NewSQLiteStateStore(db *sql.DB) (*SQLiteStateStore, error) {
	s := &SQLiteStateStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate source state: %w", err)
	}
	return s, nil
}

func (s *SQLiteStateStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS regulatory_source_state (
		source_id TEXT NOT NULL,
		state_key TEXT NOT NULL,
		state_value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (source_id, state_key)
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStateStore) Save(ctx context.Context, sourceID, key, value string) error {
	query := `
	INSERT INTO regulatory_source_state (source_id, state_key, state_value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(source_id, state_key) DO UPDATE SET
		state_value = excluded.state_value,
		updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query, sourceID, key, value, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save state %s/%s: %w", sourceID, key, err)
	}
	return nil
}

func (s *SQLiteStateStore) Load(ctx context.Context, sourceID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_value FROM regulatory_source_state WHERE source_id = ? AND state_key = ?`,
		sourceID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load state %s/%s: %w", sourceID, key, err)
	}
	return value, true, nil
}

var _ StateStore = (*SQLiteStateStore)(nil)
