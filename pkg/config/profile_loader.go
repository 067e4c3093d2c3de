package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceProfile describes one regulatory source in a profiles directory.
// Built-in sources (sec_edgar, fca, ecb) take their endpoint settings here;
// custom_feed and web_scraping profiles are fully config-driven.
type SourceProfile struct {
	SourceID   string `yaml:"source_id" json:"source_id"`
	SourceName string `yaml:"source_name,omitempty" json:"source_name,omitempty"`
	Kind       string `yaml:"kind" json:"kind"` // sec_edgar | fca | ecb | custom_feed | web_scraping
	Active     bool   `yaml:"active" json:"active"`

	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	APIKey  string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	FeedURL string `yaml:"feed_url,omitempty" json:"feed_url,omitempty"`

	FeedType          string `yaml:"feed_type,omitempty" json:"feed_type,omitempty"`
	ItemsJSONPath     string `yaml:"items_json_path,omitempty" json:"items_json_path,omitempty"`
	DefaultChangeType string `yaml:"default_change_type,omitempty" json:"default_change_type,omitempty"`
	DefaultSeverity   string `yaml:"default_severity,omitempty" json:"default_severity,omitempty"`

	TargetURL       string `yaml:"target_url,omitempty" json:"target_url,omitempty"`
	TitleSelector   string `yaml:"title_selector,omitempty" json:"title_selector,omitempty"`
	ContentSelector string `yaml:"content_selector,omitempty" json:"content_selector,omitempty"`

	CheckIntervalSec int `yaml:"check_interval_sec,omitempty" json:"check_interval_sec,omitempty"`
}

// CheckInterval returns the configured polling interval, or zero when the
// profile leaves it to the source default.
func (p *SourceProfile) CheckInterval() time.Duration {
	return time.Duration(p.CheckIntervalSec) * time.Second
}

// Validate checks the fields required for the profile's kind.
func (p *SourceProfile) Validate() error {
	if p.SourceID == "" {
		return fmt.Errorf("profile missing source_id")
	}
	switch p.Kind {
	case "sec_edgar", "fca":
		if p.BaseURL == "" {
			return fmt.Errorf("profile %s: %s requires base_url", p.SourceID, p.Kind)
		}
	case "ecb":
		// feed_url optional, defaults to the public press feed
	case "custom_feed":
		if p.FeedURL == "" || p.FeedType == "" {
			return fmt.Errorf("profile %s: custom_feed requires feed_url and feed_type", p.SourceID)
		}
	case "web_scraping":
		if p.TargetURL == "" {
			return fmt.Errorf("profile %s: web_scraping requires target_url", p.SourceID)
		}
	default:
		return fmt.Errorf("profile %s: unknown kind %q", p.SourceID, p.Kind)
	}
	return nil
}

// LoadAllProfiles loads all source_*.yaml files from the profiles
// directory, keyed by source_id.
func LoadAllProfiles(profilesDir string) (map[string]*SourceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "source_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*SourceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile SourceProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.SourceID == "" {
			// Extract ID from filename: source_sec.yaml -> sec
			base := filepath.Base(path)
			profile.SourceID = strings.TrimSuffix(strings.TrimPrefix(base, "source_"), ".yaml")
		}
		if err := profile.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}

		profiles[profile.SourceID] = &profile
	}

	return profiles, nil
}
