package source

import "context"

// StateStore persists per-source cursor state as (source_id, key) -> value.
// Writes are atomic single upserts; cursors survive restarts.
type StateStore interface {
	Save(ctx context.Context, sourceID, key, value string) error
	// Load returns the stored value and whether it was present.
	Load(ctx context.Context, sourceID, key string) (string, bool, error)
}
