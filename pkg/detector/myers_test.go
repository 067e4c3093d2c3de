package detector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// applyScript replays an edit script and returns the two sides it encodes.
func applyScript(script []edit) (a, b []string) {
	for _, e := range script {
		switch e.op {
		case opMatch:
			a = append(a, e.line)
			b = append(b, e.line)
		case opDelete:
			a = append(a, e.line)
		case opInsert:
			b = append(b, e.line)
		}
	}
	return a, b
}

func TestDiffLinesIdentical(t *testing.T) {
	lines := []string{"alpha", "beta", "gamma"}
	script := diffLines(lines, lines)
	require.Len(t, script, 3)
	for _, e := range script {
		require.Equal(t, opMatch, e.op)
	}
}

func TestDiffLinesEmptySides(t *testing.T) {
	require.Empty(t, diffLines(nil, nil))

	script := diffLines(nil, []string{"a", "b"})
	a, b := applyScript(script)
	require.Empty(t, a)
	require.Equal(t, []string{"a", "b"}, b)

	script = diffLines([]string{"a", "b"}, nil)
	a, b = applyScript(script)
	require.Equal(t, []string{"a", "b"}, a)
	require.Empty(t, b)
}

func TestDiffLinesReconstructsBothSides(t *testing.T) {
	baseline := []string{"one", "two", "three", "four", "five"}
	updated := []string{"one", "2", "three", "five", "six"}

	script := diffLines(baseline, updated)
	a, b := applyScript(script)
	require.Equal(t, baseline, a)
	require.Equal(t, updated, b)
}

func TestLCSDiffReconstructsBothSides(t *testing.T) {
	baseline := []string{"x", "y", "z"}
	updated := []string{"y", "z", "w"}

	script := lcsDiff(baseline, updated)
	a, b := applyScript(script)
	require.Equal(t, baseline, a)
	require.Equal(t, updated, b)
}

func TestGroupChunksRanges(t *testing.T) {
	baseline := []string{"keep", "old line", "keep2", "tail"}
	updated := []string{"keep", "new line", "keep2", "tail", "appended"}

	chunks := groupChunks(diffLines(baseline, updated))
	require.Len(t, chunks, 2)

	// The replacement hunk.
	require.Equal(t, []string{"old line"}, chunks[0].DeletedLines)
	require.Equal(t, []string{"new line"}, chunks[0].InsertedLines)
	require.Equal(t, 1, chunks[0].BaselineStart)
	require.Equal(t, 2, chunks[0].BaselineEnd)

	// The pure append.
	require.Empty(t, chunks[1].DeletedLines)
	require.Equal(t, []string{"appended"}, chunks[1].InsertedLines)
}

func TestGroupChunksNoChanges(t *testing.T) {
	lines := []string{"a", "b"}
	require.Empty(t, groupChunks(diffLines(lines, lines)))
}
