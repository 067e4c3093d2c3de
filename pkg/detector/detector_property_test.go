//go:build property
// +build property

package detector

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDiffReconstruction verifies the edit script is lossless.
// Property: replaying diffLines(a, b) reproduces both a and b.
func TestDiffReconstruction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("edit script reproduces both sides", prop.ForAll(
		func(a, b []string) bool {
			script := diffLines(a, b)
			gotA, gotB := applyScript(script)
			return equalLines(a, gotA) && equalLines(b, gotB)
		},
		gen.SliceOf(gen.OneConstOf("alpha", "beta", "gamma", "delta", "")),
		gen.SliceOf(gen.OneConstOf("alpha", "beta", "gamma", "delta", "")),
	))

	properties.Property("identical inputs yield no chunks", prop.ForAll(
		func(a []string) bool {
			return len(groupChunks(diffLines(a, a))) == 0
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestSemanticScoreRange verifies the score stays in [0,1] for any pair.
func TestSemanticScoreRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("score bounded", prop.ForAll(
		func(a, b string) bool {
			s := semanticScore(a, b)
			return s >= 0 && s <= 1
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.Property("self comparison scores zero", prop.ForAll(
		func(a string) bool {
			return semanticScore(a, a) < 0.001
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestNormalizeWhitespaceInvariant verifies normalized output never carries
// tabs, double spaces or surrounding whitespace.
func TestNormalizeWhitespaceInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	n := newNormalizer(nil, slog.Default())

	properties.Property("whitespace collapsed", prop.ForAll(
		func(content string) bool {
			out := n.normalize(content)
			return out == strings.TrimSpace(out) &&
				!strings.Contains(out, "\t") &&
				!strings.Contains(out, "  ")
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
