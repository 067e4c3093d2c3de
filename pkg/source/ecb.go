package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
	"github.com/gaigenticai/Regulens-sub006/pkg/httpx"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const (
	ecbDefaultFeedURL  = "https://www.ecb.europa.eu/rss/press.xml"
	ecbDefaultInterval = 900 * time.Second
	ecbSeenKey         = "seen_item_hashes"

	// seenHashLimit bounds the persisted dedup set; RSS feeds are
	// windowed, so old hashes can never reappear.
	seenHashLimit = 500
)

// ECBConfig configures the ECB press-release source.
type ECBConfig struct {
	FeedURL string
}

// ECBSource polls the ECB press RSS feed and deduplicates items by
// sha256(title+link).
type ECBSource struct {
	BaseSource
	feedURL string
	client  *httpx.Client
	parser  *docparse.Parser
	ids     *model.IDGenerator

	seen      map[string]struct{}
	seenOrder []string
}

// NewECBSource creates the ECB source.
func NewECBSource(cfg ECBConfig, client *httpx.Client, state StateStore, ids *model.IDGenerator, logger *slog.Logger) *ECBSource {
	feedURL := cfg.FeedURL
	if feedURL == "" {
		feedURL = ecbDefaultFeedURL
	}
	return &ECBSource{
		BaseSource: NewBaseSource("ecb", "European Central Bank", ecbDefaultInterval, state, logger),
		feedURL:    feedURL,
		client:     client,
		parser:     docparse.NewParser(docparse.Options{}, logger),
		ids:        ids,
		seen:       make(map[string]struct{}),
	}
}

func (s *ECBSource) Initialize(ctx context.Context) error {
	s.loadSeen(ctx)
	if !s.TestConnectivity(ctx) {
		return fmt.Errorf("ecb feed unreachable at %s", s.feedURL)
	}
	return nil
}

func (s *ECBSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.feedURL, nil)
	return err == nil && resp.StatusCode < 500
}

func (s *ECBSource) Configuration() map[string]any {
	cfg := s.baseConfiguration()
	cfg["feed_url"] = s.feedURL
	cfg["seen_items"] = len(s.seen)
	return cfg
}

// CheckForChanges fetches the feed and emits one change per unseen item.
func (s *ECBSource) CheckForChanges(ctx context.Context) ([]*model.RegulatoryChange, error) {
	defer s.MarkChecked(time.Now())

	resp, err := s.client.Get(ctx, s.feedURL, nil)
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}

	md, err := s.parser.Parse(resp.Body, resp.Headers.Get("Content-Type"))
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	var changes []*model.RegulatoryChange
	added := false
	for _, item := range md.Items {
		h := itemHash(item.Title, item.Link)
		if _, dup := s.seen[h]; dup {
			continue
		}
		s.remember(h)
		added = true
		changes = append(changes, s.buildChange(item))
	}

	if added {
		s.persistSeen(ctx)
	}
	s.RecordSuccess()
	return changes, nil
}

func (s *ECBSource) buildChange(item docparse.FeedItem) *model.RegulatoryChange {
	text := item.Title + " " + item.Description
	return &model.RegulatoryChange{
		ChangeID:   s.ids.NextChangeID(),
		SourceID:   s.SourceID(),
		Title:      item.Title,
		ContentURL: item.Link,
		Metadata: model.ChangeMetadata{
			RegulatoryBody: "ECB",
			DocumentType:   "press_release",
			Keywords:       docparse.ExtractKeywords(text),
			CustomFields: map[string]string{
				"published": item.PublishedRaw,
				"severity":  SeverityMedium,
			},
		},
		Status:     model.StatusDetected,
		DetectedAt: time.Now().UTC(),
	}
}

func itemHash(title, link string) string {
	sum := sha256.Sum256([]byte(title + link))
	return hex.EncodeToString(sum[:])
}

func (s *ECBSource) remember(h string) {
	s.seen[h] = struct{}{}
	s.seenOrder = append(s.seenOrder, h)
	for len(s.seenOrder) > seenHashLimit {
		delete(s.seen, s.seenOrder[0])
		s.seenOrder = s.seenOrder[1:]
	}
}

func (s *ECBSource) loadSeen(ctx context.Context) {
	raw := s.loadState(ctx, ecbSeenKey, "")
	if raw == "" {
		return
	}
	var hashes []string
	if err := json.Unmarshal([]byte(raw), &hashes); err != nil {
		return
	}
	for _, h := range hashes {
		s.remember(h)
	}
}

func (s *ECBSource) persistSeen(ctx context.Context) {
	raw, err := json.Marshal(s.seenOrder)
	if err != nil {
		return
	}
	s.persistState(ctx, ecbSeenKey, string(raw))
}
