package eventbus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e, err := NewEvent(CategoryRegulatoryChange, "sec_edgar", "filing", map[string]string{"k": "v"}, PriorityHigh)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(e.EventID, "evt-"))
	require.Equal(t, StateCreated, e.State)
	require.Equal(t, DefaultTTL, e.ExpiresAt.Sub(e.CreatedAt))
	require.JSONEq(t, `{"k":"v"}`, string(e.Payload))
}

func TestParseCategoryUnknown(t *testing.T) {
	require.Equal(t, CategoryRegulatoryChange, ParseCategory("REGULATORY_CHANGE_DETECTED"))
	require.Equal(t, CategorySystemError, ParseCategory("NOT_A_CATEGORY"))
	require.Equal(t, CategorySystemError, ParseCategory(""))
}

func TestParsePriorityUnknown(t *testing.T) {
	require.Equal(t, PriorityUrgent, ParsePriority("URGENT"))
	require.Equal(t, PriorityNormal, ParsePriority("whatever"))
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, PriorityUrgent}
	for i := 1; i < len(ordered); i++ {
		require.Greater(t, ordered[i].Rank(), ordered[i-1].Rank())
	}
}

func TestParseStateUnknown(t *testing.T) {
	require.Equal(t, StateArchived, ParseState("ARCHIVED"))
	require.Equal(t, StateCreated, ParseState("bogus"))
}

func TestEventIsExpired(t *testing.T) {
	e, err := NewEvent(CategorySystemHealthCheck, "test", "", nil, PriorityLow)
	require.NoError(t, err)
	require.False(t, e.IsExpired(e.CreatedAt))
	require.True(t, e.IsExpired(e.ExpiresAt.Add(time.Second)))
}

func TestEventCloneIsDeep(t *testing.T) {
	e, err := NewEvent(CategoryDataIngestion, "test", "batch", map[string]int{"n": 1}, PriorityNormal)
	require.NoError(t, err)
	e.Headers["tenant"] = "acme"

	cp := e.Clone()
	cp.Headers["tenant"] = "other"
	cp.Payload[2] = 'x'

	require.Equal(t, "acme", e.Headers["tenant"])
	require.JSONEq(t, `{"n":1}`, string(e.Payload))
}
