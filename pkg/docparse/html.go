package docparse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

var (
	scriptBlockRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleBlockRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	htmlCommentRe  = regexp.MustCompile(`(?s)<!--.*?-->`)
	whitespaceRuns = regexp.MustCompile(`\s+`)
)

var htmlEntities = []struct{ entity, repl string }{
	{"&nbsp;", " "},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&quot;", `"`},
}

// StripHTML removes script/style blocks and comments, decodes the common
// entities and collapses whitespace. Used both for plain extraction and by
// the detector's normalization phase.
func StripHTML(content string) string {
	content = scriptBlockRe.ReplaceAllString(content, " ")
	content = styleBlockRe.ReplaceAllString(content, " ")
	content = htmlCommentRe.ReplaceAllString(content, " ")
	for _, e := range htmlEntities {
		content = strings.ReplaceAll(content, e.entity, e.repl)
	}
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(content, " "))
}

func (p *Parser) parseHTML(content []byte) (DocumentMetadata, error) {
	cleaned := scriptBlockRe.ReplaceAllString(string(content), " ")
	cleaned = styleBlockRe.ReplaceAllString(cleaned, " ")

	doc, err := htmlquery.Parse(strings.NewReader(cleaned))
	if err != nil {
		return DocumentMetadata{}, fmt.Errorf("html parse: %w", err)
	}

	md := DocumentMetadata{
		Title: p.queryText(doc, p.opts.TitleSelector),
	}
	body := p.queryText(doc, p.opts.ContentSelector)
	if body == "" {
		// No <article>; fall back to the whole stripped document.
		body = StripHTML(cleaned)
	}
	if md.Title == "" {
		md.Title = p.queryText(doc, "//title")
	}
	md.Summary = truncate(body, 500)

	p.fillTextExtracts(&md, md.Title+" "+body)
	return md, nil
}

// queryText evaluates an XPath expression and returns the trimmed inner
// text of the first match. Invalid expressions are logged, never fatal.
func (p *Parser) queryText(doc *html.Node, expr string) string {
	node, err := htmlquery.Query(doc, expr)
	if err != nil {
		p.logger.Warn("bad xpath selector", "selector", expr, "error", err)
		return ""
	}
	if node == nil {
		return ""
	}
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(htmlquery.InnerText(node), " "))
}

// fillTextExtracts runs the specialized extractors over free text and fills
// the metadata fields that are still empty.
func (p *Parser) fillTextExtracts(md *DocumentMetadata, text string) {
	if md.RegulatoryBody == "" {
		md.RegulatoryBody = ExtractRegulatoryBody(text)
	}
	if md.DocumentType == "" {
		md.DocumentType = ExtractDocumentType(text)
	}
	if md.DocumentNumber == "" {
		md.DocumentNumber = ExtractDocumentNumber(text)
	}
	if md.EffectiveDate == nil {
		md.EffectiveDate = ExtractEffectiveDate(text)
	}
	if len(md.Keywords) == 0 {
		md.Keywords = ExtractKeywords(text)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
