package detector

import (
	"math"
	"regexp"
	"strings"

	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
)

var (
	tokenRe = regexp.MustCompile(`\b\w+\b`)

	// Header shapes recognized by the structural-similarity pass:
	// Markdown headings, "Section N", Roman numerals, "N." items and
	// ALL-CAPS lines.
	headerRes = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^#{1,6}\s+.+$`),
		regexp.MustCompile(`(?mi)^section\s+\d+[.:]?\s*.*$`),
		regexp.MustCompile(`(?m)^[IVXLCDM]+\.\s+.+$`),
		regexp.MustCompile(`(?m)^\d+\.\s+.+$`),
		regexp.MustCompile(`(?m)^[A-Z][A-Z0-9 ,;:'()-]{3,}$`),
	}
)

// semanticScore is the weighted dissimilarity between baseline and new
// content, clamped to [0,1]:
//
//	0.35·(1−jaccard keywords) + 0.35·(1−cosine tf)
//	+ 0.20·(1−structural similarity) + 0.10·min(1, Δlen/len_base)
func semanticScore(baseline, newContent string) float64 {
	kwJaccard := jaccard(keywordSet(baseline), keywordSet(newContent))
	tfCosine := cosineTF(baseline, newContent)
	structural := jaccard(headerSet(baseline), headerSet(newContent))

	lenBase := float64(len(baseline))
	if lenBase < 1 {
		lenBase = 1
	}
	lengthDelta := math.Min(1, math.Abs(float64(len(newContent))-float64(len(baseline)))/lenBase)

	score := 0.35*(1-kwJaccard) + 0.35*(1-tfCosine) + 0.20*(1-structural) + 0.10*lengthDelta
	return clamp01(score)
}

func keywordSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range docparse.ExtractKeywords(content) {
		set[strings.ToLower(kw)] = struct{}{}
	}
	return set
}

func headerSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, re := range headerRes {
		for _, h := range re.FindAllString(content, -1) {
			set[strings.TrimSpace(h)] = struct{}{}
		}
	}
	return set
}

// jaccard over two sets; two empty sets are identical (1.0).
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

// cosineTF computes cosine similarity over token-frequency vectors of
// lowercased tokens longer than two characters.
func cosineTF(a, b string) float64 {
	fa := termFreq(a)
	fb := termFreq(b)
	if len(fa) == 0 && len(fb) == 0 {
		return 1
	}
	var dot, na, nb float64
	for t, ca := range fa {
		if cb, ok := fb[t]; ok {
			dot += float64(ca) * float64(cb)
		}
		na += float64(ca) * float64(ca)
	}
	for _, cb := range fb {
		nb += float64(cb) * float64(cb)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termFreq(content string) map[string]int {
	freq := make(map[string]int)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(content), -1) {
		if len(tok) > 2 {
			freq[tok]++
		}
	}
	return freq
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
