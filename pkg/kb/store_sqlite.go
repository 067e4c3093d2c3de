package kb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// SQLiteChangeStore persists changes in an embedded sqlite database.
// Array and map columns are stored as JSON text. Used in lite mode.
type SQLiteChangeStore struct {
	db *sql.DB
}

// NewSQLiteChangeStore creates the store and runs its migration.
func NewSQLiteChangeStore(db *sql.DB) (*SQLiteChangeStore, error) {
	s := &SQLiteChangeStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate regulatory_changes: %w", err)
	}
	return s, nil
}

func (s *SQLiteChangeStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS regulatory_changes (
		change_id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content_url TEXT,
		regulatory_body TEXT,
		document_type TEXT,
		document_number TEXT,
		keywords JSON,
		affected_entities JSON,
		custom_fields JSON,
		status TEXT NOT NULL,
		detected_at INTEGER NOT NULL,
		analyzed_at INTEGER,
		distributed_at INTEGER,
		impact_level TEXT,
		executive_summary TEXT,
		affected_domains JSON,
		required_actions JSON,
		compliance_deadlines JSON,
		risk_scores JSON,
		analysis_timestamp INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_changes_body ON regulatory_changes(regulatory_body);
	CREATE INDEX IF NOT EXISTS idx_changes_impact ON regulatory_changes(impact_level);
	CREATE INDEX IF NOT EXISTS idx_changes_status ON regulatory_changes(status);
	CREATE INDEX IF NOT EXISTS idx_changes_detected ON regulatory_changes(detected_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteChangeStore) Upsert(ctx context.Context, c *model.RegulatoryChange) error {
	keywords := jsonOrNull(c.Metadata.Keywords)
	entities := jsonOrNull(c.Metadata.AffectedEntities)
	custom := jsonOrNull(c.Metadata.CustomFields)

	var impactLevel, execSummary any
	var domains, actions, deadlines, riskScores any
	var analysisTS any
	if c.Analysis != nil {
		impactLevel = string(c.Analysis.ImpactLevel)
		execSummary = c.Analysis.ExecutiveSummary
		domains = jsonOrNull(c.Analysis.AffectedDomains)
		actions = jsonOrNull(c.Analysis.RequiredActions)
		deadlines = jsonOrNull(c.Analysis.ComplianceDeadlines)
		riskScores = jsonOrNull(c.Analysis.RiskScores)
		analysisTS = c.Analysis.AnalysisTimestamp.UTC().UnixMilli()
	}

	query := `
	INSERT INTO regulatory_changes (change_id, source_id, title, content_url,
		regulatory_body, document_type, document_number, keywords,
		affected_entities, custom_fields, status, detected_at, analyzed_at,
		distributed_at, impact_level, executive_summary, affected_domains,
		required_actions, compliance_deadlines, risk_scores, analysis_timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(change_id) DO UPDATE SET
		status = excluded.status,
		analyzed_at = excluded.analyzed_at,
		distributed_at = excluded.distributed_at,
		impact_level = excluded.impact_level,
		executive_summary = excluded.executive_summary,
		affected_domains = excluded.affected_domains,
		required_actions = excluded.required_actions,
		compliance_deadlines = excluded.compliance_deadlines,
		risk_scores = excluded.risk_scores,
		analysis_timestamp = excluded.analysis_timestamp`
	_, err := s.db.ExecContext(ctx, query,
		c.ChangeID, c.SourceID, c.Title, c.ContentURL,
		c.Metadata.RegulatoryBody, c.Metadata.DocumentType, c.Metadata.DocumentNumber,
		keywords, entities, custom, string(c.Status), c.DetectedAt.UTC().UnixMilli(),
		msOrNil(c.AnalyzedAt), msOrNil(c.DistributedAt), impactLevel, execSummary,
		domains, actions, deadlines, riskScores, analysisTS)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", c.ChangeID, err)
	}
	return nil
}

func (s *SQLiteChangeStore) Get(ctx context.Context, changeID string) (*model.RegulatoryChange, error) {
	query := `
	SELECT change_id, source_id, title, content_url, regulatory_body,
		document_type, document_number, keywords, affected_entities,
		custom_fields, status, detected_at, analyzed_at, distributed_at,
		impact_level, executive_summary, affected_domains, required_actions,
		compliance_deadlines, risk_scores, analysis_timestamp
	FROM regulatory_changes WHERE change_id = ?`

	var c model.RegulatoryChange
	var contentURL, body, docType, docNumber sql.NullString
	var keywords, entities, custom []byte
	var status string
	var detectedMs int64
	var analyzedMs, distributedMs, analysisMs *int64
	var impactLevel, execSummary sql.NullString
	var domains, actions, deadlines, riskScores []byte

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
	unmarshalInto(keywords, &c.Metadata.Keywords)
	unmarshalInto(entities, &c.Metadata.AffectedEntities)
	unmarshalInto(custom, &c.Metadata.CustomFields)
	c.Status = model.ChangeStatus(status)
	c.DetectedAt = timeFromMs(detectedMs)
	c.AnalyzedAt = timePtrFromMs(analyzedMs)
	c.DistributedAt = timePtrFromMs(distributedMs)

	if impactLevel.Valid {
		a := &model.ChangeAnalysis{
			ImpactLevel:      model.ImpactLevel(impactLevel.String),
			ExecutiveSummary: execSummary.String,
		}
		unmarshalInto(domains, &a.AffectedDomains)
		unmarshalInto(actions, &a.RequiredActions)
		unmarshalInto(deadlines, &a.ComplianceDeadlines)
		unmarshalInto(riskScores, &a.RiskScores)
		if analysisMs != nil {
			a.AnalysisTimestamp = timeFromMs(*analysisMs)
		} else {
			a.AnalysisTimestamp = time.Time{}
		}
		c.Analysis = a
	}
	return &c, nil
}

func (s *SQLiteChangeStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM regulatory_changes`)
	if err != nil {
		return fmt.Errorf("clear regulatory_changes: %w", err)
	}
	return nil
}

// jsonOrNull marshals a slice or map column, storing NULL for empty values.
func jsonOrNull(v any) any {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return nil
	}
	return string(raw)
}

func unmarshalInto(raw []byte, dst any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, dst)
}

var _ ChangeStore = (*SQLiteChangeStore)(nil)
