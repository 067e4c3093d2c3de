package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// PostgresChangeStore persists changes in postgres with native array and
// JSONB columns.
type PostgresChangeStore struct {
	db *sql.DB
}

// NewPostgresChangeStore creates the store and runs its migration.
func NewPostgresChangeStore(db *sql.DB) (*PostgresChangeStore, error) {
	s := &PostgresChangeStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate regulatory_changes: %w", err)
	}
	return s, nil
}

func (s *PostgresChangeStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS regulatory_changes (
		change_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content_url TEXT,
		regulatory_body TEXT,
		document_type TEXT,
		document_number TEXT,
		keywords TEXT[],
		affected_entities TEXT[],
		custom_fields JSONB,
		status TEXT NOT NULL,
		detected_at BIGINT NOT NULL,
		analyzed_at BIGINT,
		distributed_at BIGINT,
		impact_level TEXT,
		executive_summary TEXT,
		affected_domains INT[],
		required_actions TEXT[],
		compliance_deadlines TEXT[],
		risk_scores JSONB,
		analysis_timestamp BIGINT
	);
	CREATE INDEX IF NOT EXISTS idx_changes_body ON regulatory_changes(regulatory_body);
	CREATE INDEX IF NOT EXISTS idx_changes_impact ON regulatory_changes(impact_level);
	CREATE INDEX IF NOT EXISTS idx_changes_status ON regulatory_changes(status);
	CREATE INDEX IF NOT EXISTS idx_changes_detected ON regulatory_changes(detected_at);
	CREATE INDEX IF NOT EXISTS idx_changes_keywords ON regulatory_changes USING GIN (keywords);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresChangeStore) Upsert(ctx context.Context, c *model.RegulatoryChange) error {
	custom, err := json.Marshal(c.Metadata.CustomFields)
	if err != nil {
		return fmt.Errorf("marshal custom_fields for %s: %w", c.ChangeID, err)
	}

	var impactLevel, execSummary any
	var domains, actions, deadlines any
	var riskScores any
	var analysisTS any
	if c.Analysis != nil {
		impactLevel = string(c.Analysis.ImpactLevel)
		execSummary = c.Analysis.ExecutiveSummary
		domains = pq.Array(intsTo64(c.Analysis.AffectedDomains))
		actions = pq.Array(c.Analysis.RequiredActions)
		deadlines = pq.Array(c.Analysis.ComplianceDeadlines)
		raw, err := json.Marshal(c.Analysis.RiskScores)
		if err != nil {
			return fmt.Errorf("marshal risk_scores for %s: %w", c.ChangeID, err)
		}
		riskScores = raw
		analysisTS = c.Analysis.AnalysisTimestamp.UTC().UnixMilli()
	} else {
		domains = pq.Array([]int64(nil))
		actions = pq.Array([]string(nil))
		deadlines = pq.Array([]string(nil))
	}

	query := `
	INSERT INTO regulatory_changes (change_id, source_id, title, content_url,
		regulatory_body, document_type, document_number, keywords,
		affected_entities, custom_fields, status, detected_at, analyzed_at,
		distributed_at, impact_level, executive_summary, affected_domains,
		required_actions, compliance_deadlines, risk_scores, analysis_timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (change_id) DO UPDATE SET
		status = EXCLUDED.status,
		analyzed_at = EXCLUDED.analyzed_at,
		distributed_at = EXCLUDED.distributed_at,
		impact_level = EXCLUDED.impact_level,
		executive_summary = EXCLUDED.executive_summary,
		affected_domains = EXCLUDED.affected_domains,
		required_actions = EXCLUDED.required_actions,
		compliance_deadlines = EXCLUDED.compliance_deadlines,
		risk_scores = EXCLUDED.risk_scores,
		analysis_timestamp = EXCLUDED.analysis_timestamp`
	_, err = s.db.ExecContext(ctx, query,
		c.ChangeID, c.SourceID, c.Title, c.ContentURL,
		c.Metadata.RegulatoryBody, c.Metadata.DocumentType, c.Metadata.DocumentNumber,
		pq.Array(c.Metadata.Keywords), pq.Array(c.Metadata.AffectedEntities),
		custom, string(c.Status), c.DetectedAt.UTC().UnixMilli(),
		msOrNil(c.AnalyzedAt), msOrNil(c.DistributedAt), impactLevel, execSummary,
		domains, actions, deadlines, riskScores, analysisTS)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", c.ChangeID, err)
	}
	return nil
}

func (s *PostgresChangeStore) Get(ctx context.Context, changeID string) (*model.RegulatoryChange, error) {
	query := `
	SELECT change_id, source_id, title, content_url, regulatory_body,
		document_type, document_number, keywords, affected_entities,
		custom_fields, status, detected_at, analyzed_at, distributed_at,
		impact_level, executive_summary, affected_domains, required_actions,
		compliance_deadlines, risk_scores, analysis_timestamp
	FROM regulatory_changes WHERE change_id = $1`

	var c model.RegulatoryChange
	var contentURL, body, docType, docNumber sql.NullString
	var keywords, entities pq.StringArray
	var custom []byte
	var status string
	var detectedMs int64
	var analyzedMs, distributedMs, analysisMs *int64
	var impactLevel, execSummary sql.NullString
	var domains pq.Int64Array
	var actions, deadlines pq.StringArray
	var riskScores []byte

	err := s.db.QueryRowContext(ctx, query, changeID).Scan(
		&c.ChangeID, &c.SourceID, &c.Title, &contentURL, &body,
		&docType, &docNumber, &keywords, &entities, &custom, &status,
		&detectedMs, &analyzedMs, &distributedMs, &impactLevel, &execSummary,
		&domains, &actions, &deadlines, &riskScores, &analysisMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", changeID, err)
	}

	c.ContentURL = contentURL.String
	c.Metadata.RegulatoryBody = body.String
	c.Metadata.DocumentType = docType.String
	c.Metadata.DocumentNumber = docNumber.String
	c.Metadata.Keywords = keywords
	c.Metadata.AffectedEntities = entities
	unmarshalInto(custom, &c.Metadata.CustomFields)
	c.Status = model.ChangeStatus(status)
	c.DetectedAt = timeFromMs(detectedMs)
	c.AnalyzedAt = timePtrFromMs(analyzedMs)
	c.DistributedAt = timePtrFromMs(distributedMs)

	if impactLevel.Valid {
		a := &model.ChangeAnalysis{
			ImpactLevel:      model.ImpactLevel(impactLevel.String),
			ExecutiveSummary: execSummary.String,
			AffectedDomains:  ints64To(domains),
			RequiredActions:  actions,
			ComplianceDeadlines: deadlines,
		}
		unmarshalInto(riskScores, &a.RiskScores)
		if analysisMs != nil {
			a.AnalysisTimestamp = timeFromMs(*analysisMs)
		}
		c.Analysis = a
	}
	return &c, nil
}

func (s *PostgresChangeStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE regulatory_changes`)
	if err != nil {
		return fmt.Errorf("clear regulatory_changes: %w", err)
	}
	return nil
}

func intsTo64(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func ints64To(in []int64) []int {
	if len(in) == 0 {
		return nil
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

var _ ChangeStore = (*PostgresChangeStore)(nil)
