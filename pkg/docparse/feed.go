package docparse

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	PubDate     string `xml:"pubDate"`
	Category    string `xml:"category"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Links     []atomLink `xml:"link"`
	Updated   string     `xml:"updated"`
	Published string     `xml:"published"`
}

type feedDoc struct {
	XMLName xml.Name
	Title   string `xml:"title"` // atom feed title
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

// feedTimeLayouts are tried in order when parsing item timestamps.
var feedTimeLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFeedTime parses a feed timestamp against the known layouts.
// The zero time is returned when nothing matches.
func ParseFeedTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range feedTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (p *Parser) parseFeed(content []byte) (DocumentMetadata, error) {
	var doc feedDoc
	if err := xml.Unmarshal(content, &doc); err != nil {
		return DocumentMetadata{}, fmt.Errorf("xml parse: %w", err)
	}

	md := DocumentMetadata{}
	switch strings.ToLower(doc.XMLName.Local) {
	case "feed": // Atom
		md.Title = strings.TrimSpace(doc.Title)
		for _, e := range doc.Entries {
			desc := e.Summary
			if desc == "" {
				desc = e.Content
			}
			raw := e.Published
			if raw == "" {
				raw = e.Updated
			}
			md.Items = append(md.Items, FeedItem{
				Title:        strings.TrimSpace(e.Title),
				Description:  StripHTML(desc),
				Link:         atomEntryLink(e.Links),
				PublishedRaw: raw,
				Published:    ParseFeedTime(raw),
			})
		}
	case "rss", "rdf":
		md.Title = strings.TrimSpace(doc.Channel.Title)
		for _, it := range doc.Channel.Items {
			md.Items = append(md.Items, FeedItem{
				Title:        strings.TrimSpace(it.Title),
				Description:  StripHTML(it.Description),
				Link:         strings.TrimSpace(it.Link),
				Type:         strings.TrimSpace(it.Category),
				PublishedRaw: it.PubDate,
				Published:    ParseFeedTime(it.PubDate),
			})
		}
	default:
		return DocumentMetadata{}, fmt.Errorf("unrecognized feed root element %q", doc.XMLName.Local)
	}

	var text strings.Builder
	text.WriteString(md.Title)
	for _, it := range md.Items {
		text.WriteString(" ")
		text.WriteString(it.Title)
		text.WriteString(" ")
		text.WriteString(it.Description)
	}
	p.fillTextExtracts(&md, text.String())
	return md, nil
}

// atomEntryLink prefers the alternate link, then the first.
func atomEntryLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}
