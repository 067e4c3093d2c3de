package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const ecbFixtureOne = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
	<title>ECB Press</title>
	<item>
		<title>ECB raises key interest rates</title>
		<link>https://example.com/ecb/1</link>
		<description>Governing Council decision on monetary policy</description>
		<pubDate>Thu, 20 Aug 2026 14:45:00 GMT</pubDate>
	</item>
</channel></rss>`

const ecbFixtureTwo = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
	<title>ECB Press</title>
	<item>
		<title>ECB raises key interest rates</title>
		<link>https://example.com/ecb/1</link>
		<description>Governing Council decision on monetary policy</description>
		<pubDate>Thu, 20 Aug 2026 14:45:00 GMT</pubDate>
	</item>
	<item>
		<title>New supervisory reporting framework</title>
		<link>https://example.com/ecb/2</link>
		<description>Reporting requirements for significant institutions</description>
		<pubDate>Fri, 21 Aug 2026 09:00:00 GMT</pubDate>
	</item>
</channel></rss>`

func TestECBDeduplicatesByTitleAndLink(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		if calls.Add(1) <= 2 {
			// Initialize's connectivity probe plus the first cycle.
			_, _ = w.Write([]byte(ecbFixtureOne))
			return
		}
		_, _ = w.Write([]byte(ecbFixtureTwo))
	}))
	defer srv.Close()

	src := NewECBSource(ECBConfig{FeedURL: srv.URL}, testClient(), testStateStore(t), model.NewIDGenerator(), nil)
	ctx := context.Background()
	require.NoError(t, src.Initialize(ctx))

	changes, err := src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "ECB raises key interest rates", changes[0].Title)
	require.Equal(t, "ECB", changes[0].Metadata.RegulatoryBody)
	require.Equal(t, "press_release", changes[0].Metadata.DocumentType)

	// Second cycle sees the old item plus one new one.
	changes, err = src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "New supervisory reporting framework", changes[0].Title)
}

func TestECBSeenSetSurvivesRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(ecbFixtureOne))
	}))
	defer srv.Close()

	state := testStateStore(t)
	ctx := context.Background()

	first := NewECBSource(ECBConfig{FeedURL: srv.URL}, testClient(), state, model.NewIDGenerator(), nil)
	require.NoError(t, first.Initialize(ctx))
	changes, err := first.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)

	second := NewECBSource(ECBConfig{FeedURL: srv.URL}, testClient(), state, model.NewIDGenerator(), nil)
	require.NoError(t, second.Initialize(ctx))
	changes, err = second.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)
}
