// Package docparse extracts structured metadata from regulatory documents.
// It dispatches on content type to HTML (XPath), RSS/Atom XML, JSON feed and
// plain-text parsers. Parse failures are reported as errors alongside an
// empty metadata value; callers keep their polling cycles alive and the
// parser counts the failure.
package docparse

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// FeedItem is one entry of a feed-shaped document (RSS item, Atom entry or
// JSON feed element).
type FeedItem struct {
	Title        string
	Description  string
	Link         string
	Type         string
	Severity     string
	PublishedRaw string
	Published    time.Time
}

// DocumentMetadata is the structured output of a parse.
type DocumentMetadata struct {
	Title          string
	Summary        string
	RegulatoryBody string
	DocumentType   string
	DocumentNumber string
	EffectiveDate  *time.Time
	Keywords       []string
	Items          []FeedItem
}

// Options configures parser behavior.
type Options struct {
	// ItemsPath selects the array of items inside JSON documents.
	// Dot-separated; default "items".
	ItemsPath string
	// TitleSelector and ContentSelector are XPath expressions applied to
	// HTML documents. Defaults //h1 and //article.
	TitleSelector   string
	ContentSelector string
}

// Parser turns raw document bytes into DocumentMetadata.
type Parser struct {
	opts       Options
	logger     *slog.Logger
	parseError atomic.Int64
}

// NewParser creates a parser. A nil logger falls back to slog.Default.
func NewParser(opts Options, logger *slog.Logger) *Parser {
	if opts.ItemsPath == "" {
		opts.ItemsPath = "items"
	}
	if opts.TitleSelector == "" {
		opts.TitleSelector = "//h1"
	}
	if opts.ContentSelector == "" {
		opts.ContentSelector = "//article"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{opts: opts, logger: logger.With("component", "docparse")}
}

// ErrorCount reports how many parses have failed since construction.
func (p *Parser) ErrorCount() int64 { return p.parseError.Load() }

// Parse dispatches on contentType and returns extracted metadata. On
// unrecoverable input the returned metadata is empty and the error non-nil;
// the internal error counter is incremented either way.
func (p *Parser) Parse(content []byte, contentType string) (DocumentMetadata, error) {
	ct := normalizeContentType(contentType)

	var md DocumentMetadata
	var err error
	switch {
	case strings.Contains(ct, "html"):
		md, err = p.parseHTML(content)
	case strings.Contains(ct, "xml") || strings.Contains(ct, "rss") || strings.Contains(ct, "atom"):
		md, err = p.parseFeed(content)
	case strings.Contains(ct, "json"):
		md, err = p.parseJSON(content)
	default:
		md, err = p.parseText(content)
	}
	if err != nil {
		p.parseError.Add(1)
		p.logger.Warn("parse failed", "content_type", ct, "error", err)
		return DocumentMetadata{}, fmt.Errorf("parse %s: %w", ct, err)
	}
	return md, nil
}

// ExtractTitle returns only the title of the document.
func (p *Parser) ExtractTitle(content []byte, contentType string) string {
	md, err := p.Parse(content, contentType)
	if err != nil {
		return ""
	}
	return md.Title
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if ct == "" {
		return "text/plain"
	}
	return ct
}
