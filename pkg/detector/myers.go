package detector

// Myers O(ND) diff over lines, with an LCS dynamic-programming fallback
// when the V array saturates. The edit script is a flat sequence of
// match/delete/insert operations which groupChunks folds into contiguous
// DiffChunk hunks.

type editOp int

const (
	opMatch editOp = iota
	opDelete
	opInsert
)

type edit struct {
	op   editOp
	line string
}

// DiffChunk is a contiguous non-match region of the edit script. The atomic
// unit of significance scoring.
type DiffChunk struct {
	BaselineStart int
	BaselineEnd   int
	NewStart      int
	NewEnd        int
	DeletedLines  []string
	InsertedLines []string
	Significance  float64
}

// diffLines computes the edit script between a and b. Myers first; LCS on
// saturation of the V array.
func diffLines(a, b []string) []edit {
	if script, ok := myersDiff(a, b); ok {
		return script
	}
	return lcsDiff(a, b)
}

// myersDiff implements the O(ND) greedy algorithm. The V array is sized
// 2*(n+m)+1. Returns ok=false when d exceeds the budget, signalling the
// caller to fall back.
func myersDiff(a, b []string) ([]edit, bool) {
	n, m := len(a), len(b)
	maxD := n + m
	if maxD == 0 {
		return nil, true
	}
	size := 2*maxD + 1
	offset := maxD

	v := make([]int, size)
	trace := make([][]int, 0, maxD+1)

	var dFinal int
	found := false
search:
	for d := 0; d <= maxD; d++ {
		snapshot := make([]int, size)
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1] // down: insert
			} else {
				x = v[offset+k-1] + 1 // right: delete
			}
			y := x - k
			for x < n && y < m && a[x] == b[y] {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				dFinal = d
				found = true
				break search
			}
		}
	}
	if !found {
		return nil, false
	}
	return backtrack(a, b, trace, dFinal, offset), true
}

// backtrack walks the trace from (n,m) to (0,0) and emits the edit script
// in forward order.
func backtrack(a, b []string, trace [][]int, dFinal, offset int) []edit {
	var rev []edit
	x, y := len(a), len(b)

	for d := dFinal; d > 0; d-- {
		v := trace[d]
		k := x - y

		var prevK int
		if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := v[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			rev = append(rev, edit{opMatch, a[x]})
		}
		if x == prevX {
			y--
			rev = append(rev, edit{opInsert, b[y]})
		} else {
			x--
			rev = append(rev, edit{opDelete, a[x]})
		}
	}
	for x > 0 && y > 0 {
		x--
		y--
		rev = append(rev, edit{opMatch, a[x]})
	}
	for y > 0 {
		y--
		rev = append(rev, edit{opInsert, b[y]})
	}
	for x > 0 {
		x--
		rev = append(rev, edit{opDelete, a[x]})
	}

	script := make([]edit, len(rev))
	for i := range rev {
		script[i] = rev[len(rev)-1-i]
	}
	return script
}

// lcsDiff is the quadratic DP fallback.
func lcsDiff(a, b []string) []edit {
	n, m := len(a), len(b)
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var script []edit
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			script = append(script, edit{opMatch, a[i]})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			script = append(script, edit{opDelete, a[i]})
			i++
		default:
			script = append(script, edit{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		script = append(script, edit{opDelete, a[i]})
	}
	for ; j < m; j++ {
		script = append(script, edit{opInsert, b[j]})
	}
	return script
}

// groupChunks folds contiguous non-match runs of the edit script into
// DiffChunk hunks carrying index ranges on both sides.
func groupChunks(script []edit) []DiffChunk {
	var chunks []DiffChunk
	var cur *DiffChunk
	ai, bi := 0, 0

	flush := func() {
		if cur != nil {
			cur.BaselineEnd = ai
			cur.NewEnd = bi
			chunks = append(chunks, *cur)
			cur = nil
		}
	}

	for _, e := range script {
		switch e.op {
		case opMatch:
			flush()
			ai++
			bi++
		case opDelete:
			if cur == nil {
				cur = &DiffChunk{BaselineStart: ai, NewStart: bi}
			}
			cur.DeletedLines = append(cur.DeletedLines, e.line)
			ai++
		case opInsert:
			if cur == nil {
				cur = &DiffChunk{BaselineStart: ai, NewStart: bi}
			}
			cur.InsertedLines = append(cur.InsertedLines, e.line)
			bi++
		}
	}
	flush()
	return chunks
}
