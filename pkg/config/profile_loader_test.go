package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaigenticai/Regulens-sub006/pkg/config"
)

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "source_sec.yaml", `
source_id: sec_edgar
kind: sec_edgar
active: true
base_url: https://efts.sec.gov
api_key: test-key
check_interval_sec: 300
`)
	writeProfile(t, dir, "source_finra.yaml", `
source_id: finra_notices
source_name: FINRA Notices
kind: custom_feed
active: true
feed_type: json
feed_url: https://www.finra.org/api/notices
items_json_path: notices
default_severity: MEDIUM
`)
	// Ignored: does not match the source_*.yaml glob.
	writeProfile(t, dir, "other.yaml", `kind: sec_edgar`)

	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)

	sec := profiles["sec_edgar"]
	require.NotNil(t, sec)
	assert.Equal(t, "sec_edgar", sec.Kind)
	assert.Equal(t, "https://efts.sec.gov", sec.BaseURL)
	assert.Equal(t, 300*time.Second, sec.CheckInterval())
	assert.True(t, sec.Active)

	finra := profiles["finra_notices"]
	require.NotNil(t, finra)
	assert.Equal(t, "custom_feed", finra.Kind)
	assert.Equal(t, "notices", finra.ItemsJSONPath)
	assert.Zero(t, finra.CheckInterval(), "unset interval defers to the source default")
}

func TestProfileIDFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "source_ecb.yaml", `
kind: ecb
active: true
`)
	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.NotNil(t, profiles["ecb"])
}

func TestProfileValidation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"unknown kind", "source_id: x\nkind: carrier_pigeon\n"},
		{"sec without base_url", "source_id: x\nkind: sec_edgar\n"},
		{"custom_feed without feed_url", "source_id: x\nkind: custom_feed\nfeed_type: rss\n"},
		{"web_scraping without target_url", "source_id: x\nkind: web_scraping\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeProfile(t, dir, "source_x.yaml", tc.content)
			_, err := config.LoadAllProfiles(dir)
			assert.Error(t, err)
		})
	}
}
