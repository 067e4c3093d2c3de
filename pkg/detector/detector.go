// Package detector implements the multi-phase change detection pipeline:
// normalization, hash comparison, Myers structural diff with chunk
// significance scoring, semantic similarity, and category classification.
// Each phase can prove equivalence and short-circuit the rest.
package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// Detection methods reported in DetectionResult.Method.
const (
	MethodHashBased      = "hash_based"
	MethodStructural     = "structural_analysis"
	MethodSkippedShort   = "skipped_short_content"
	MethodSemantic       = "semantic_analysis"
	MethodError          = "error"
	MethodNoBaseline     = "initial_baseline"
	significanceCutoff   = 0.1
	defaultMinContentLen = 50
)

// highPriorityBodies get relaxed significance gating.
var highPriorityBodies = map[string]struct{}{
	"SEC": {}, "FCA": {}, "ECB": {}, "FINRA": {}, "CFTC": {}, "FDIC": {}, "FRB": {},
}

// Config controls the detector.
type Config struct {
	MinContentLength int
	IgnoredPatterns  []string // extra regexes stripped before hashing/diffing
}

// DetectionResult is the outcome of one detection run.
type DetectionResult struct {
	HasChanges      bool
	DetectedChanges []*model.RegulatoryChange
	Chunks          []DiffChunk
	Method          string
	Confidence      float64
	SemanticScore   float64
	ProcessingTime  time.Duration
}

type baselineEntry struct {
	hash     string
	content  string
	metadata model.ChangeMetadata
	updated  time.Time
}

// Detector runs the detection pipeline and owns per-source baselines.
type Detector struct {
	cfg    Config
	logger *slog.Logger
	norm   *normalizer
	ids    *model.IDGenerator

	mu        sync.Mutex
	baselines map[string]*baselineEntry

	statsMu        sync.Mutex
	detections     int64
	noChangeRuns   int64
	falsePositives int64
	hashHits       int64
	methodCounts   map[string]int64
}

// New creates a detector. Nil logger falls back to slog.Default; nil ID
// generator gets a fresh per-instance one.
func New(cfg Config, ids *model.IDGenerator, logger *slog.Logger) *Detector {
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = defaultMinContentLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "detector")
	if ids == nil {
		ids = model.NewIDGenerator()
	}
	return &Detector{
		cfg:          cfg,
		logger:       logger,
		norm:         newNormalizer(cfg.IgnoredPatterns, logger),
		ids:          ids,
		baselines:    make(map[string]*baselineEntry),
		methodCounts: make(map[string]int64),
	}
}

// UpdateBaseline stores content as the new baseline for a source.
func (d *Detector) UpdateBaseline(sourceID, content string, meta model.ChangeMetadata) {
	normalized := d.norm.normalize(content)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baselines[sourceID] = &baselineEntry{
		hash:     contentHash(normalized),
		content:  content,
		metadata: meta,
		updated:  time.Now().UTC(),
	}
}

// BaselineContent returns the stored baseline for a source, or "".
func (d *Detector) BaselineContent(sourceID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.baselines[sourceID]; ok {
		return b.content
	}
	return ""
}

// Detect compares new content against the stored baseline for sourceID and
// updates the baseline when the run succeeds.
func (d *Detector) Detect(sourceID, newContent string, meta model.ChangeMetadata) *DetectionResult {
	baseline := d.BaselineContent(sourceID)
	res := d.DetectChanges(sourceID, baseline, newContent, meta)
	if res.Method != MethodError {
		d.UpdateBaseline(sourceID, newContent, meta)
	}
	return res
}

// DetectChanges runs the full pipeline on an explicit baseline/new pair.
func (d *Detector) DetectChanges(sourceID, baselineContent, newContent string, meta model.ChangeMetadata) (res *DetectionResult) {
	start := time.Now()
	defer func() {
		res.ProcessingTime = time.Since(start)
		d.recordRun(res)
	}()

	// The pipeline must never take the monitor down.
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("detector panic", "source_id", sourceID, "panic", r)
			res = &DetectionResult{Method: MethodError, Confidence: 0}
		}
	}()

	normBase := d.norm.normalize(baselineContent)
	normNew := d.norm.normalize(newContent)

	// Phase 2: short-content guard.
	if len(normNew) < d.cfg.MinContentLength {
		return &DetectionResult{Method: MethodSkippedShort, Confidence: 1}
	}

	// First sighting establishes a baseline without emitting changes.
	if strings.TrimSpace(normBase) == "" {
		return &DetectionResult{Method: MethodNoBaseline, Confidence: 1}
	}

	// Phase 3: hash equality.
	baseHash := contentHash(normBase)
	newHash := contentHash(normNew)
	if baseHash == newHash {
		d.statsMu.Lock()
		d.hashHits++
		d.statsMu.Unlock()
		return &DetectionResult{Method: MethodHashBased, Confidence: 1}
	}

	// Phase 4: structural diff.
	baseLines := contentLines(normBase)
	newLines := contentLines(normNew)
	chunks := groupChunks(diffLines(baseLines, newLines))

	var surviving []DiffChunk
	for _, c := range chunks {
		c.Significance = chunkSignificance(c)
		if c.Significance > significanceCutoff {
			surviving = append(surviving, c)
		}
	}
	if len(surviving) == 0 {
		d.statsMu.Lock()
		d.falsePositives++
		d.statsMu.Unlock()
		return &DetectionResult{Method: MethodStructural, Confidence: 0.5, Chunks: chunks}
	}

	// Phase 5: semantic similarity.
	semantic := semanticScore(normBase, normNew)

	// Phase 7: significance gating.
	if !d.significant(surviving, meta.RegulatoryBody) {
		return &DetectionResult{Method: MethodStructural, Confidence: 0.5, Chunks: surviving, SemanticScore: semantic}
	}

	// Phase 6: categorize and emit one change per category.
	changes := d.emitChanges(sourceID, surviving, meta)

	// Phase 8: confidence.
	structural := structuralConfidence(surviving)
	confidence := clamp01(0.6*structural + 0.4*semantic)

	return &DetectionResult{
		HasChanges:      true,
		DetectedChanges: changes,
		Chunks:          surviving,
		Method:          MethodSemantic,
		Confidence:      confidence,
		SemanticScore:   semantic,
	}
}

// chunkSignificance = 0.4·volume + 0.4·keyword density + 0.2·change type.
func chunkSignificance(c DiffChunk) float64 {
	volume := math.Min(1, float64(len(c.DeletedLines)+len(c.InsertedLines))/10)

	text := strings.Join(c.DeletedLines, " ") + " " + strings.Join(c.InsertedLines, " ")
	density := math.Min(1, float64(len(docparse.ExtractKeywords(text)))/5)

	changeType := 0.5
	if len(c.DeletedLines) > 0 && len(c.InsertedLines) > 0 {
		changeType = 0.8
	}
	return clamp01(0.4*volume + 0.4*density + 0.2*changeType)
}

// significant applies the multi-factor gate. High-priority bodies get
// relaxed thresholds.
func (d *Detector) significant(chunks []DiffChunk, body string) bool {
	totalChars := 0
	maxChunkChars := 0
	keywordCount := 0
	for _, c := range chunks {
		text := strings.Join(c.DeletedLines, "\n") + strings.Join(c.InsertedLines, "\n")
		totalChars += len(text)
		if len(text) > maxChunkChars {
			maxChunkChars = len(text)
		}
		keywordCount += len(docparse.ExtractKeywords(text))
	}

	if _, high := highPriorityBodies[strings.ToUpper(body)]; high {
		return len(chunks) >= 1 && (totalChars > 50 || keywordCount >= 1)
	}
	return len(chunks) >= 5 ||
		maxChunkChars > 100 ||
		totalChars > 500 ||
		keywordCount >= 3
}

func structuralConfidence(chunks []DiffChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range chunks {
		sum += c.Significance
	}
	avg := sum / float64(len(chunks))
	return avg * (0.7 + 0.3*math.Min(1, float64(len(chunks))/5))
}

// emitChanges groups chunks by category and creates one RegulatoryChange
// per category with the aggregate impact score in a custom field.
func (d *Detector) emitChanges(sourceID string, chunks []DiffChunk, meta model.ChangeMetadata) []*model.RegulatoryChange {
	byCategory := make(map[string][]DiffChunk)
	var order []string
	for _, c := range chunks {
		cat := categorizeChunk(c)
		if _, seen := byCategory[cat]; !seen {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], c)
	}

	changes := make([]*model.RegulatoryChange, 0, len(order))
	for _, cat := range order {
		group := byCategory[cat]
		impact := 0.0
		var text strings.Builder
		for _, c := range group {
			impact += c.Significance
			text.WriteString(strings.Join(c.InsertedLines, "\n"))
			text.WriteString("\n")
		}
		impact /= float64(len(group))

		keywords := docparse.ExtractKeywords(text.String())
		keywords = append(keywords, "structural_change", cat)
		if impact > 0.7 {
			keywords = append(keywords, "high_impact")
		}

		custom := map[string]string{
			"impact_score": strconv.FormatFloat(impact, 'f', 3, 64),
			"chunk_count":  strconv.Itoa(len(group)),
		}
		for k, v := range meta.CustomFields {
			custom[k] = v
		}

		changes = append(changes, &model.RegulatoryChange{
			ChangeID:   d.ids.NextChangeID(),
			SourceID:   sourceID,
			Title:      categoryTitle(cat, len(group)),
			Status:     model.StatusDetected,
			DetectedAt: time.Now().UTC(),
			Metadata: model.ChangeMetadata{
				RegulatoryBody:   meta.RegulatoryBody,
				DocumentType:     meta.DocumentType,
				DocumentNumber:   meta.DocumentNumber,
				Keywords:         keywords,
				AffectedEntities: append([]string(nil), meta.AffectedEntities...),
				CustomFields:     custom,
			},
		})
	}
	return changes
}

// Stats reports detection counters.
func (d *Detector) Stats() map[string]any {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	methods := make(map[string]int64, len(d.methodCounts))
	for k, v := range d.methodCounts {
		methods[k] = v
	}
	return map[string]any{
		"detections":      d.detections,
		"no_change_runs":  d.noChangeRuns,
		"false_positives": d.falsePositives,
		"hash_hits":       d.hashHits,
		"methods":         methods,
	}
}

func (d *Detector) recordRun(res *DetectionResult) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.methodCounts[res.Method]++
	if res.HasChanges {
		d.detections++
	} else {
		d.noChangeRuns++
	}
}

// contentHash is the SHA-256 hex digest of the content. JSON documents are
// canonicalized (RFC 8785) first so key order and spacing differences do
// not register as changes.
func contentHash(content string) string {
	data := []byte(content)
	trimmed := strings.TrimSpace(content)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid([]byte(trimmed)) {
		if canonical, err := jcs.Transform([]byte(trimmed)); err == nil {
			data = canonical
		}
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// String implements fmt.Stringer for diagnostics.
func (r *DetectionResult) String() string {
	return fmt.Sprintf("method=%s changes=%d confidence=%.2f", r.Method, len(r.DetectedChanges), r.Confidence)
}
