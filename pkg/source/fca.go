package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
	"github.com/gaigenticai/Regulens-sub006/pkg/httpx"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const (
	fcaDefaultInterval = 300 * time.Second
	fcaCursorKey       = "last_update_timestamp"
)

// FCAConfig configures the FCA regulatory-updates source.
type FCAConfig struct {
	BaseURL string
	APIKey  string
}

// FCASource polls the FCA regulatory-updates endpoint. The cursor is the
// ISO8601 timestamp of the newest processed update; timestamps are parsed
// to instants so mixed UTC offsets still order correctly, with a
// lexicographic fallback for unparseable values.
type FCASource struct {
	BaseSource
	cfg    FCAConfig
	client *httpx.Client
	ids    *model.IDGenerator

	cursor string
}

type fcaUpdate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Type        string `json:"type"`
	Timestamp   string `json:"timestamp"`
}

type fcaUpdatesResponse struct {
	Updates []fcaUpdate `json:"updates"`
}

// NewFCASource creates the FCA source.
func NewFCASource(cfg FCAConfig, client *httpx.Client, state StateStore, ids *model.IDGenerator, logger *slog.Logger) *FCASource {
	return &FCASource{
		BaseSource: NewBaseSource("fca", "UK Financial Conduct Authority", fcaDefaultInterval, state, logger),
		cfg:        cfg,
		client:     client,
		ids:        ids,
	}
}

func (s *FCASource) Initialize(ctx context.Context) error {
	s.cursor = s.loadState(ctx, fcaCursorKey, "")
	if !s.TestConnectivity(ctx) {
		return fmt.Errorf("fca unreachable at %s", s.cfg.BaseURL)
	}
	return nil
}

func (s *FCASource) updatesURL() string {
	return strings.TrimSuffix(s.cfg.BaseURL, "/") + "/api/regulatory-updates"
}

func (s *FCASource) requestHeaders() map[string]string {
	if s.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + s.cfg.APIKey}
}

func (s *FCASource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.updatesURL(), s.requestHeaders())
	return err == nil && resp.StatusCode < 500
}

func (s *FCASource) Configuration() map[string]any {
	cfg := s.baseConfiguration()
	cfg["base_url"] = s.cfg.BaseURL
	cfg["api_key_set"] = s.cfg.APIKey != ""
	return cfg
}

// CheckForChanges fetches updates and emits one change per update strictly
// newer than the cursor.
func (s *FCASource) CheckForChanges(ctx context.Context) ([]*model.RegulatoryChange, error) {
	defer s.MarkChecked(time.Now())

	resp, err := s.client.Get(ctx, s.updatesURL(), s.requestHeaders())
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch updates: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch updates: status %d", resp.StatusCode)
	}

	var payload fcaUpdatesResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("decode updates: %w", err)
	}

	var changes []*model.RegulatoryChange
	maxTimestamp := s.cursor
	for _, update := range payload.Updates {
		if !timestampNewer(update.Timestamp, s.cursor) {
			continue
		}
		changes = append(changes, s.buildChange(update))
		if timestampNewer(update.Timestamp, maxTimestamp) {
			maxTimestamp = update.Timestamp
		}
	}

	if maxTimestamp != s.cursor {
		s.cursor = maxTimestamp
		s.persistState(ctx, fcaCursorKey, maxTimestamp)
	}
	s.RecordSuccess()
	return changes, nil
}

// timestampNewer compares two ISO8601 timestamps as instants, falling back
// to lexicographic order when either fails to parse. An empty cursor is
// older than everything.
func timestampNewer(candidate, cursor string) bool {
	if cursor == "" {
		return candidate != ""
	}
	ct, cerr := time.Parse(time.RFC3339, candidate)
	bt, berr := time.Parse(time.RFC3339, cursor)
	if cerr == nil && berr == nil {
		return ct.After(bt)
	}
	return candidate > cursor
}

func (s *FCASource) buildChange(update fcaUpdate) *model.RegulatoryChange {
	text := update.Title + " " + update.Description
	return &model.RegulatoryChange{
		ChangeID:   s.ids.NextChangeID(),
		SourceID:   s.SourceID(),
		Title:      update.Title,
		ContentURL: update.URL,
		Metadata: model.ChangeMetadata{
			RegulatoryBody: "FCA",
			DocumentType:   fcaDocumentType(update.Type),
			Keywords:       docparse.ExtractKeywords(text),
			CustomFields: map[string]string{
				"update_type": update.Type,
				"timestamp":   update.Timestamp,
				"severity":    fcaSeverity(update.Type),
			},
		},
		Status:     model.StatusDetected,
		DetectedAt: time.Now().UTC(),
	}
}

func fcaDocumentType(updateType string) string {
	if updateType == "" {
		return "regulatory_update"
	}
	return updateType
}

func fcaSeverity(updateType string) string {
	switch strings.ToLower(updateType) {
	case "emergency", "rule_change":
		return SeverityHigh
	case "policy", "guidance":
		return SeverityMedium
	default:
		return SeverityLow
	}
}
