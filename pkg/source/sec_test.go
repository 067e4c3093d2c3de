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

const secFixture = `{
	"filings": [
		{"accessionNumber": "0000320193-26-000001", "formType": "8-K",
		 "filingDate": "2026-08-20", "companyName": "Apple Inc.",
		 "description": "Current report on capital requirements",
		 "linkToHtml": "https://example.com/1"},
		{"accessionNumber": "0000320193-26-000002", "formType": "10-Q",
		 "filingDate": "2026-08-21", "companyName": "Apple Inc.",
		 "description": "Quarterly report", "linkToHtml": "https://example.com/2"},
		{"accessionNumber": "0000320193-26-000003", "formType": "4",
		 "filingDate": "2026-08-21", "companyName": "Apple Inc.",
		 "description": "Insider transaction", "linkToHtml": "https://example.com/3"}
	]
}`

func TestSECEdgarCheckForChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/filings/current", r.URL.Path)
		require.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(secFixture))
	}))
	defer srv.Close()

	src := NewSECEdgarSource(SECEdgarConfig{BaseURL: srv.URL, APIKey: "test-key"},
		testClient(), testStateStore(t), model.NewIDGenerator(), nil)
	ctx := context.Background()
	require.NoError(t, src.Initialize(ctx))

	changes, err := src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2, "form type 4 is not tracked")

	require.Equal(t, "8-K filing: Apple Inc.", changes[0].Title)
	require.Equal(t, "SEC", changes[0].Metadata.RegulatoryBody)
	require.Equal(t, SeverityHigh, changes[0].Metadata.CustomFields["severity"])
	require.Equal(t, SeverityMedium, changes[1].Metadata.CustomFields["severity"])
	require.Equal(t, model.StatusDetected, changes[0].Status)

	// A second cycle over the same payload yields nothing.
	changes, err = src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestSECEdgarCursorSurvivesRestart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(secFixture))
	}))
	defer srv.Close()

	state := testStateStore(t)
	ctx := context.Background()

	first := NewSECEdgarSource(SECEdgarConfig{BaseURL: srv.URL}, testClient(), state, model.NewIDGenerator(), nil)
	require.NoError(t, first.Initialize(ctx))
	changes, err := first.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	second := NewSECEdgarSource(SECEdgarConfig{BaseURL: srv.URL}, testClient(), state, model.NewIDGenerator(), nil)
	require.NoError(t, second.Initialize(ctx))
	changes, err = second.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes, "restarted source resumes from the persisted cursor")
}

func TestSECEdgarNon2xxRecordsFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"filings": []}`))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewSECEdgarSource(SECEdgarConfig{BaseURL: srv.URL}, testClient(), nil, model.NewIDGenerator(), nil)
	ctx := context.Background()

	changes, err := src.CheckForChanges(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)
	require.Zero(t, src.ConsecutiveFailures())

	_, err = src.CheckForChanges(ctx)
	require.Error(t, err)
	require.Equal(t, 1, src.ConsecutiveFailures())

	_, err = src.CheckForChanges(ctx)
	require.Error(t, err)
	require.Equal(t, 2, src.ConsecutiveFailures())
}

func TestSECCursorOrdering(t *testing.T) {
	cur := secCursor{FilingDate: "2026-08-20", Accession: "0001-26-000005"}

	require.True(t, cur.newer("2026-08-21", "0001-26-000001"), "later date wins regardless of accession")
	require.True(t, cur.newer("2026-08-20", "0001-26-000006"))
	require.False(t, cur.newer("2026-08-20", "0001-26-000005"), "equal pair is not newer")
	require.False(t, cur.newer("2026-08-19", "0001-26-000009"))

	require.Equal(t, cur, parseSECCursor(cur.String()))
	require.Equal(t, secCursor{Accession: "0001-26-000005"}, parseSECCursor("0001-26-000005"))
}
