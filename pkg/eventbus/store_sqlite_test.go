package eventbus

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteEventStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewSQLiteEventStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e, err := NewEvent(CategoryRegulatoryChange, "sec_edgar", "filing", map[string]string{"cik": "320193"}, PriorityHigh)
	require.NoError(t, err)
	e.State = StateProcessed
	e.Headers["form"] = "8-K"
	e.CorrelationID = "corr-1"

	require.NoError(t, store.Save(ctx, e, ""))

	got, err := store.GetEvents(ctx, CategoryRegulatoryChange, e.CreatedAt.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, e.EventID, got[0].EventID)
	require.Equal(t, PriorityHigh, got[0].Priority)
	require.Equal(t, StateProcessed, got[0].State)
	require.Equal(t, "8-K", got[0].Headers["form"])
	require.Equal(t, "corr-1", got[0].CorrelationID)
	require.JSONEq(t, `{"cik":"320193"}`, string(got[0].Payload))
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	e, err := NewEvent(CategorySystemError, "bus", "failure", nil, PriorityCritical)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, e, ""))

	e.State = StateFailed
	e.RetryCount = MaxRetries
	require.NoError(t, store.Save(ctx, e, "retries exhausted"))

	got, err := store.GetEvents(ctx, CategorySystemError, e.CreatedAt.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, StateFailed, got[0].State)
	require.Equal(t, MaxRetries, got[0].RetryCount)
}

func TestSQLiteStoreGetEventsBySource(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, source := range []string{"fca", "fca", "ecb"} {
		e, err := NewEvent(CategoryRegulatoryChange, source, "update", nil, PriorityNormal)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, e, ""))
	}

	got, err := store.GetEventsBySource(ctx, "fca", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSQLiteStoreSinceCutoff(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old, err := NewEvent(CategoryDataIngestion, "batch", "", nil, PriorityLow)
	require.NoError(t, err)
	old.CreatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.Save(ctx, old, ""))

	recent, err := NewEvent(CategoryDataIngestion, "batch", "", nil, PriorityLow)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, recent, ""))

	got, err := store.GetEvents(ctx, CategoryDataIngestion, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, recent.EventID, got[0].EventID)
}

func TestSQLiteStoreDeleteExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	expired, err := NewEvent(CategorySystemHealthCheck, "probe", "", nil, PriorityLow)
	require.NoError(t, err)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Save(ctx, expired, ""))

	live, err := NewEvent(CategorySystemHealthCheck, "probe", "", nil, PriorityLow)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, live, ""))

	n, err := store.DeleteExpired(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := store.GetEvents(ctx, CategorySystemHealthCheck, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, live.EventID, got[0].EventID)
}
