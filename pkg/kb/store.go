package kb

import (
	"context"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// ChangeStore is the relational persistence behind the knowledge base.
type ChangeStore interface {
	// Upsert writes a change row keyed on change_id. Conflicts update the
	// life-cycle and analysis columns.
	Upsert(ctx context.Context, c *model.RegulatoryChange) error
	// Get returns the stored change or nil when absent.
	Get(ctx context.Context, changeID string) (*model.RegulatoryChange, error)
	// Clear truncates the table.
	Clear(ctx context.Context) error
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timeFromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func timePtrFromMs(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := timeFromMs(*ms)
	return &t
}
