package docparse

import (
	"regexp"
	"strings"
	"time"
)

// regulatoryBodies maps canonical body names to the aliases counted when
// scoring a document. Highest count wins; ties break on table order.
var regulatoryBodies = []struct {
	name    string
	aliases []string
}{
	{"SEC", []string{"sec", "securities and exchange commission", "edgar"}},
	{"FCA", []string{"fca", "financial conduct authority"}},
	{"ECB", []string{"ecb", "european central bank"}},
	{"FINRA", []string{"finra", "financial industry regulatory authority"}},
	{"CFTC", []string{"cftc", "commodity futures trading commission"}},
	{"OCC", []string{"occ", "office of the comptroller of the currency", "comptroller of the currency"}},
	{"FDIC", []string{"fdic", "federal deposit insurance corporation"}},
	{"FRB", []string{"frb", "federal reserve", "federal reserve board"}},
	{"EBA", []string{"eba", "european banking authority"}},
	{"ESMA", []string{"esma", "european securities and markets authority"}},
	{"BCBS", []string{"bcbs", "basel committee", "basel committee on banking supervision"}},
	{"PRA", []string{"pra", "prudential regulation authority"}},
}

// ExtractRegulatoryBody scores the fixed body table by counting
// case-insensitive alias occurrences and returns the highest scorer,
// or "Unknown" when nothing matches.
func ExtractRegulatoryBody(text string) string {
	lower := strings.ToLower(text)
	best := "Unknown"
	bestScore := 0
	for _, body := range regulatoryBodies {
		score := 0
		for _, alias := range body.aliases {
			score += countWord(lower, alias)
		}
		if score > bestScore {
			bestScore = score
			best = body.name
		}
	}
	return best
}

// documentTypes maps canonical types to their trigger terms.
var documentTypes = []struct {
	name  string
	terms []string
}{
	{"rule", []string{"rule", "final rule", "proposed rule", "rulemaking"}},
	{"guidance", []string{"guidance", "guideline", "interpretive"}},
	{"order", []string{"order", "cease and desist"}},
	{"release", []string{"release", "press release"}},
	{"report", []string{"report", "annual report", "study"}},
	{"policy", []string{"policy", "policy statement"}},
	{"directive", []string{"directive"}},
	{"standard", []string{"standard", "technical standard"}},
}

// ExtractDocumentType scores the fixed type table the same way as
// regulatory bodies; default is "general".
func ExtractDocumentType(text string) string {
	lower := strings.ToLower(text)
	best := "general"
	bestScore := 0
	for _, dt := range documentTypes {
		score := 0
		for _, term := range dt.terms {
			score += countWord(lower, term)
		}
		if score > bestScore {
			bestScore = score
			best = dt.name
		}
	}
	return best
}

// documentNumberRes are tried in order; the first capture wins.
var documentNumberRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Release\s+No\.?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)File\s+No\.?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)Document\s+No\.?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)Ref[.:]?\s*([A-Z0-9/-]+)`),
	regexp.MustCompile(`(?i)Docket\s+No\.?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)Case\s+No\.?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)RIN\s+([0-9A-Z-]+)`),
	regexp.MustCompile(`(?i)FR\s+Doc\.?\s*([0-9-]+)`),
}

// ExtractDocumentNumber applies the ordered regex list and returns the
// first match, or the empty string.
func ExtractDocumentNumber(text string) string {
	for _, re := range documentNumberRes {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimRight(m[1], ".,;")
		}
	}
	return ""
}

// datePatternRes locate date-shaped substrings; the match is then parsed
// against dateLayouts in order.
var datePatternRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)effective\s+(?:date[:\s]+|on\s+|as\s+of\s+)?([A-Za-z]+\s+\d{1,2},?\s+\d{4})`),
	regexp.MustCompile(`(?i)effective\s+(?:date[:\s]+|on\s+|as\s+of\s+)?(\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`),
	regexp.MustCompile(`(?i)effective\s+(?:date[:\s]+|on\s+|as\s+of\s+)?(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`([A-Z][a-z]+\s+\d{1,2},\s+\d{4})`),
	regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(\d{1,2}[/-]\d{1,2}[/-]\d{4})`),
}

var dateLayouts = []string{
	"01/02/2006",
	"01-02-2006",
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"01/02/06",
	"January 2, 2006",
	"January 2 2006",
}

// ExtractEffectiveDate finds a date-shaped substring and parses it against
// the layout list in order. Returns nil when nothing parses; never guesses.
func ExtractEffectiveDate(text string) *time.Time {
	for _, re := range datePatternRes {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, candidate); err == nil {
				return &t
			}
		}
	}
	return nil
}

// regulatoryVocabulary is the fixed term list intersected against content
// during keyword extraction. Multi-word terms are matched as phrases.
var regulatoryVocabulary = []string{
	"capital requirements", "capital ratio", "capital adequacy", "tier 1",
	"liquidity", "liquidity coverage", "net stable funding",
	"reporting requirements", "disclosure", "quarterly report", "annual report",
	"risk management", "stress test", "risk assessment", "operational risk",
	"credit risk", "market risk", "compliance", "enforcement", "penalty",
	"sanction", "violation", "deadline", "effective date", "implementation",
	"amendment", "regulation", "regulatory", "supervision", "supervisory",
	"prudential", "basel", "solvency", "leverage ratio", "margin",
	"derivatives", "securities", "filing", "audit", "anti-money laundering",
	"aml", "kyc", "governance", "remuneration", "resolution", "recovery",
}

var (
	capitalizedPhraseRe = regexp.MustCompile(`\b(?:[A-Z][a-z]+\s+){1,3}[A-Z][a-z]+\b`)
	numericPatternRes   = []*regexp.Regexp{
		regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:%|percent|per\s+cent)\b`),
		regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s*(?:million|billion|trillion))?`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
		regexp.MustCompile(`(?i)\b\d+\s+(?:days?|months?|years?|basis\s+points?)\b`),
	}
)

// ExtractKeywords intersects the content against the regulatory vocabulary,
// then adds capitalized multi-word phrases and numeric patterns. Order is
// first occurrence; duplicates are dropped.
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]struct{})
	var out []string
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			return
		}
		key := strings.ToLower(kw)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}

	for _, term := range regulatoryVocabulary {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	for _, phrase := range capitalizedPhraseRe.FindAllString(text, -1) {
		add(phrase)
	}
	for _, re := range numericPatternRes {
		for _, m := range re.FindAllString(text, -1) {
			add(m)
		}
	}
	return out
}

// countWord counts non-overlapping occurrences of term in text bounded by
// non-alphanumerics, so "sec" does not match inside "section".
func countWord(text, term string) int {
	count := 0
	for i := 0; ; {
		j := strings.Index(text[i:], term)
		if j < 0 {
			break
		}
		start := i + j
		end := start + len(term)
		if boundary(text, start-1) && boundary(text, end) {
			count++
		}
		i = end
	}
	return count
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9')
}
