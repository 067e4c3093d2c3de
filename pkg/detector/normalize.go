package detector

import (
	"log/slog"
	"regexp"
	"strings"
)

// defaultIgnoredPatterns strip volatile boilerplate before hashing or
// diffing: timestamps, page numbers, copyright lines, version markers,
// script/style blocks and HTML comments.
var defaultIgnoredPatterns = []string{
	`(?i)(?:last\s+)?(?:updated|modified|generated)(?:\s+on)?[:\s]+[\d/:\-\s,APMapm]+`,
	`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:?\d{2})?`,
	`(?i)page\s+\d+\s+of\s+\d+`,
	`(?i)copyright\s+(?:©\s*)?\d{4}[^\n]*`,
	`©\s*\d{4}[^\n]*`,
	`(?i)(?:version|revision|rev\.?)\s*[:#]?\s*[\d.]+`,
	`(?is)<script\b[^>]*>.*?</script>`,
	`(?is)<style\b[^>]*>.*?</style>`,
	`(?s)<!--.*?-->`,
}

var wsRuns = regexp.MustCompile(`[ \t]+`)

// normalizer applies the ignored-pattern list and collapses whitespace.
// Patterns that fail to compile are logged and skipped, never fatal.
type normalizer struct {
	patterns []*regexp.Regexp
}

func newNormalizer(extra []string, logger *slog.Logger) *normalizer {
	all := append(append([]string{}, defaultIgnoredPatterns...), extra...)
	n := &normalizer{}
	for _, p := range all {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("skipping ignored pattern", "pattern", p, "error", err)
			continue
		}
		n.patterns = append(n.patterns, re)
	}
	return n
}

// normalize strips ignored patterns and collapses whitespace. Line
// structure is preserved so the structural phase can split on newlines.
func (n *normalizer) normalize(content string) string {
	for _, re := range n.patterns {
		content = re.ReplaceAllString(content, " ")
	}
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(wsRuns.ReplaceAllString(line, " "))
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// contentLines splits normalized content into non-empty trimmed lines.
func contentLines(content string) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
