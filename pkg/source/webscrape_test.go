package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub006/pkg/detector"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const pageV1 = `<html><body>
<h1>Basel III Capital Requirements</h1>
<article>Minimum capital ratio requirement is 8% for all institutions.</article>
</body></html>`

const pageV2 = `<html><body>
<h1>Basel III Capital Requirements</h1>
<article>Minimum capital ratio requirement is 10.5% effective January 2027.</article>
</body></html>`

func TestWebScrapingDetectsContentChange(t *testing.T) {
	var robotsFetched atomic.Bool
	var version atomic.Int64
	version.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsFetched.Store(true)
			_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
			return
		}
		if version.Load() == 1 {
			_, _ = w.Write([]byte(pageV1))
			return
		}
		_, _ = w.Write([]byte(pageV2))
	}))
	defer srv.Close()

	src, err := NewWebScrapingSource(WebScrapingConfig{
		SourceID:  "basel_page",
		TargetURL: srv.URL + "/basel",
	}, testClient(), testStateStore(t), model.NewIDGenerator(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, src.Initialize(ctx))
	require.True(t, robotsFetched.Load())

	// First cycle establishes the baseline.
	changes, err := src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)

	// Unchanged page, no change.
	changes, err = src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)

	version.Store(2)
	changes, err = src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "Basel III Capital Requirements", changes[0].Title)
	require.Equal(t, srv.URL+"/basel", changes[0].ContentURL)
}

const detPageV1 = `<html><body>
<h1>SEC Capital Rule</h1>
<article>The SEC requires a minimum capital ratio of 8 percent for registered broker-dealers.</article>
</body></html>`

const detPageV2 = `<html><body>
<h1>SEC Capital Rule</h1>
<article>The SEC requires a minimum capital ratio of 10 percent and a new conservation buffer for registered broker-dealers.</article>
</body></html>`

func TestWebScrapingWithDetectorPipeline(t *testing.T) {
	var version atomic.Int64
	version.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		if version.Load() == 1 {
			_, _ = w.Write([]byte(detPageV1))
			return
		}
		_, _ = w.Write([]byte(detPageV2))
	}))
	defer srv.Close()

	src, err := NewWebScrapingSource(WebScrapingConfig{
		SourceID:  "sec_page",
		TargetURL: srv.URL + "/rule",
	}, testClient(), testStateStore(t), model.NewIDGenerator(), nil)
	require.NoError(t, err)
	src.SetDetector(detector.New(detector.Config{}, nil, nil))

	ctx := context.Background()
	require.NoError(t, src.Initialize(ctx))

	// First cycle seeds both the content hash and the detector baseline.
	changes, err := src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)

	version.Store(2)
	changes, err = src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, "Capital Requirements Update", changes[0].Title)
	require.Equal(t, "sec_page", changes[0].SourceID)
	require.Contains(t, changes[0].Metadata.Keywords, "structural_change")
	require.NotEmpty(t, changes[0].Metadata.CustomFields["impact_score"])
}

func TestWebScrapingConfigValidation(t *testing.T) {
	_, err := NewWebScrapingSource(WebScrapingConfig{SourceID: "x"}, testClient(), nil, model.NewIDGenerator(), nil)
	require.Error(t, err)

	_, err = NewWebScrapingSource(WebScrapingConfig{TargetURL: "https://example.com"}, testClient(), nil, model.NewIDGenerator(), nil)
	require.Error(t, err)
}
