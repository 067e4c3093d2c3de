package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/detector"
	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
	"github.com/gaigenticai/Regulens-sub006/pkg/httpx"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const (
	webScrapeDefaultInterval = 300 * time.Second
	webScrapeHashKey         = "content_hash"
)

// WebScrapingConfig describes a scraped HTML target.
type WebScrapingConfig struct {
	SourceID        string
	SourceName      string
	TargetURL       string
	TitleSelector   string // XPath, default //h1
	ContentSelector string // XPath, default //article
	CheckInterval   time.Duration
}

// WebScrapingSource polls a single HTML page and emits a change when the
// extracted content hash moves. robots.txt is fetched once at initialize
// time for the operator's information; the source does not enforce it.
type WebScrapingSource struct {
	BaseSource
	cfg    WebScrapingConfig
	client *httpx.Client
	parser *docparse.Parser
	ids    *model.IDGenerator
	det    *detector.Detector

	lastHash string
}

// NewWebScrapingSource creates a scraping source from configuration.
func NewWebScrapingSource(cfg WebScrapingConfig, client *httpx.Client, state StateStore, ids *model.IDGenerator, logger *slog.Logger) (*WebScrapingSource, error) {
	if cfg.SourceID == "" || cfg.TargetURL == "" {
		return nil, fmt.Errorf("web scraping source requires source_id and target_url")
	}
	if cfg.SourceName == "" {
		cfg.SourceName = cfg.SourceID
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = webScrapeDefaultInterval
	}
	return &WebScrapingSource{
		BaseSource: NewBaseSource(cfg.SourceID, cfg.SourceName, cfg.CheckInterval, state, logger),
		cfg:        cfg,
		client:     client,
		parser: docparse.NewParser(docparse.Options{
			TitleSelector:   cfg.TitleSelector,
			ContentSelector: cfg.ContentSelector,
		}, logger),
		ids: ids,
	}, nil
}

// SetDetector attaches the diff pipeline. When set, a hash move runs the
// structural detector over the page text instead of emitting one generic
// change.
func (s *WebScrapingSource) SetDetector(d *detector.Detector) {
	s.det = d
}

func (s *WebScrapingSource) Initialize(ctx context.Context) error {
	s.lastHash = s.loadState(ctx, webScrapeHashKey, "")
	s.checkRobots(ctx)
	if !s.TestConnectivity(ctx) {
		return fmt.Errorf("target unreachable at %s", s.cfg.TargetURL)
	}
	return nil
}

// checkRobots fetches /robots.txt from the target host and logs whether it
// restricts crawling. Informational only.
func (s *WebScrapingSource) checkRobots(ctx context.Context) {
	u, err := url.Parse(s.cfg.TargetURL)
	if err != nil {
		return
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"
	resp, err := s.client.Get(ctx, robotsURL, nil)
	if err != nil || resp.StatusCode != 200 {
		s.logger.Info("no robots.txt available", "url", robotsURL)
		return
	}
	body := string(resp.Body)
	if strings.Contains(body, "Disallow: /") {
		s.logger.Warn("robots.txt restricts crawling", "url", robotsURL)
		return
	}
	s.logger.Info("robots.txt permits crawling", "url", robotsURL)
}

func (s *WebScrapingSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.cfg.TargetURL, nil)
	return err == nil && resp.StatusCode < 500
}

func (s *WebScrapingSource) Configuration() map[string]any {
	cfg := s.baseConfiguration()
	cfg["target_url"] = s.cfg.TargetURL
	cfg["title_selector"] = s.cfg.TitleSelector
	cfg["content_selector"] = s.cfg.ContentSelector
	return cfg
}

// CheckForChanges fetches the page and emits a single change when its
// extracted content differs from the last observed version.
func (s *WebScrapingSource) CheckForChanges(ctx context.Context) ([]*model.RegulatoryChange, error) {
	defer s.MarkChecked(time.Now())

	resp, err := s.client.Get(ctx, s.cfg.TargetURL, nil)
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	md, err := s.parser.Parse(resp.Body, "text/html")
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("parse page: %w", err)
	}

	sum := sha256.Sum256([]byte(md.Title + "\n" + md.Summary))
	hash := hex.EncodeToString(sum[:])
	if hash == s.lastHash {
		s.RecordSuccess()
		return nil, nil
	}
	firstObservation := s.lastHash == ""
	s.lastHash = hash
	s.persistState(ctx, webScrapeHashKey, hash)
	s.RecordSuccess()

	if s.det != nil {
		res := s.det.Detect(s.SourceID(), docparse.StripHTML(string(resp.Body)), model.ChangeMetadata{
			RegulatoryBody: md.RegulatoryBody,
			DocumentType:   md.DocumentType,
			DocumentNumber: md.DocumentNumber,
		})
		return res.DetectedChanges, nil
	}

	// The first fetch establishes the baseline; nothing changed yet.
	if firstObservation {
		return nil, nil
	}
	return []*model.RegulatoryChange{s.buildChange(md)}, nil
}

func (s *WebScrapingSource) buildChange(md docparse.DocumentMetadata) *model.RegulatoryChange {
	title := md.Title
	if title == "" {
		title = "Content change on " + s.cfg.TargetURL
	}
	return &model.RegulatoryChange{
		ChangeID:   s.ids.NextChangeID(),
		SourceID:   s.SourceID(),
		Title:      title,
		ContentURL: s.cfg.TargetURL,
		Metadata: model.ChangeMetadata{
			RegulatoryBody: md.RegulatoryBody,
			DocumentType:   md.DocumentType,
			DocumentNumber: md.DocumentNumber,
			Keywords:       md.Keywords,
			CustomFields: map[string]string{
				"severity": SeverityLow,
			},
		},
		Status:     model.StatusDetected,
		DetectedAt: time.Now().UTC(),
	}
}
