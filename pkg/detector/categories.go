package detector

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// changeCategories in priority order: the first category whose keyword list
// matches a chunk wins.
var changeCategories = []struct {
	name     string
	keywords []string
}{
	{"capital_requirements", []string{"capital", "tier 1", "tier 2", "buffer", "leverage ratio", "solvency", "own funds"}},
	{"reporting_requirements", []string{"report", "reporting", "disclosure", "filing", "submit", "quarterly", "annual"}},
	{"risk_management", []string{"risk", "stress test", "exposure", "hedg", "mitigation", "scenario"}},
	{"compliance_obligations", []string{"compliance", "obligation", "must", "required", "shall", "mandatory"}},
	{"timeline_changes", []string{"deadline", "effective date", "extension", "postpone", "phase-in", "transition period"}},
	{"enforcement", []string{"enforcement", "penalty", "fine", "sanction", "violation", "cease and desist"}},
	{"liquidity_requirements", []string{"liquidity", "lcr", "nsfr", "funding ratio", "liquid assets"}},
	{"general_regulatory", nil}, // catch-all
}

// categorizeChunk returns the first matching category for a chunk's
// combined text.
func categorizeChunk(chunk DiffChunk) string {
	text := strings.ToLower(strings.Join(chunk.DeletedLines, " ") + " " + strings.Join(chunk.InsertedLines, " "))
	for _, cat := range changeCategories {
		for _, kw := range cat.keywords {
			if strings.Contains(text, kw) {
				return cat.name
			}
		}
	}
	return "general_regulatory"
}

var titleCaser = cases.Title(language.English)

// categoryTitle renders "capital_requirements" with 3 chunks as
// "Capital Requirements Update (3 changes)".
func categoryTitle(category string, chunkCount int) string {
	words := titleCaser.String(strings.ReplaceAll(category, "_", " "))
	if chunkCount > 1 {
		return fmt.Sprintf("%s Update (%d changes)", words, chunkCount)
	}
	return words + " Update"
}
