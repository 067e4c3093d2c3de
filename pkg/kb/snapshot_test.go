package kb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := New(Config{}, nil, nil)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	c := testChange("c1", "Capital Requirements Update", "SEC", now)
	require.NoError(t, c.SetAnalysis(&model.ChangeAnalysis{
		ImpactLevel:      model.ImpactHigh,
		ExecutiveSummary: "Minimum ratio raised",
		RiskScores:       map[string]float64{"capital": 0.9},
	}))
	require.NoError(t, src.Store(ctx, c))
	require.NoError(t, src.Store(ctx, testChange("c2", "Liquidity Update", "FCA", now)))

	data, err := src.ExportJSON()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Equal(t, SnapshotVersion, doc["schema_version"])

	dst := New(Config{}, nil, nil)
	n, err := dst.ImportJSON(ctx, data)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := dst.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, model.StatusAnalyzed, got.Status)
	require.NotNil(t, got.Analysis)
	require.Equal(t, model.ImpactHigh, got.Analysis.ImpactLevel)
	require.InDelta(t, 0.9, got.Analysis.RiskScores["capital"], 1e-9)

	// Imported changes are searchable.
	require.Len(t, dst.Search("liquidity", SearchFilters{}, 0), 1)
}

func TestSnapshotExportIsCanonical(t *testing.T) {
	k := New(Config{}, nil, nil)
	ctx := context.Background()
	require.NoError(t, k.Store(ctx, testChange("c1", "Change", "SEC", time.Now().UTC())))

	data, err := k.ExportJSON()
	require.NoError(t, err)
	// JCS output carries no insignificant whitespace.
	require.NotContains(t, string(data), "\n")
	require.NotContains(t, string(data), ": ")
}

func TestImportRejectsMajorVersionMismatch(t *testing.T) {
	k := New(Config{}, nil, nil)
	snap := `{"schema_version": "2.0.0", "exported_at": "2026-08-24T00:00:00Z", "changes": []}`
	_, err := k.ImportJSON(context.Background(), []byte(snap))
	require.ErrorContains(t, err, "incompatible")
}

func TestImportRejectsInvalidSchema(t *testing.T) {
	k := New(Config{}, nil, nil)
	ctx := context.Background()

	_, err := k.ImportJSON(ctx, []byte(`{"schema_version": "1.0.0"}`))
	require.ErrorContains(t, err, "invalid snapshot")

	_, err = k.ImportJSON(ctx, []byte(`{"schema_version": "1.0.0", "exported_at": "x",
		"changes": [{"change_id": "", "source_id": "s", "title": "t",
		"status": "DETECTED", "detected_at": "2026-01-01T00:00:00Z"}]}`))
	require.ErrorContains(t, err, "invalid snapshot")

	_, err = k.ImportJSON(ctx, []byte(`not json`))
	require.Error(t, err)
}

func TestSaveAndLoadSnapshotFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), SnapshotFileName)
	ctx := context.Background()

	src := New(Config{}, nil, nil)
	require.NoError(t, src.Store(ctx, testChange("c1", "Change", "SEC", time.Now().UTC())))
	require.NoError(t, src.SaveSnapshot(path))

	dst := New(Config{}, nil, nil)
	require.NoError(t, dst.LoadSnapshot(ctx, path))
	got, err := dst.Get(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// Missing file is not an error.
	require.NoError(t, dst.LoadSnapshot(ctx, filepath.Join(t.TempDir(), "absent.json")))
}
