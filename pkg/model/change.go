// Package model defines the regulatory change aggregate and its life-cycle
// enumerations. The knowledge base owns stored RegulatoryChange records;
// everything else passes them by pointer and treats them as immutable once
// handed off.
package model

import (
	"fmt"
	"time"
)

// ChangeStatus tracks the processing state of a regulatory change.
type ChangeStatus string

const (
	StatusDetected    ChangeStatus = "DETECTED"
	StatusAnalyzing   ChangeStatus = "ANALYZING"
	StatusAnalyzed    ChangeStatus = "ANALYZED"
	StatusDistributed ChangeStatus = "DISTRIBUTED"
	StatusArchived    ChangeStatus = "ARCHIVED"
)

var statusRanks = map[ChangeStatus]int{
	StatusDetected:    0,
	StatusAnalyzing:   1,
	StatusAnalyzed:    2,
	StatusDistributed: 3,
	StatusArchived:    4,
}

// Rank returns the position of the status in the life-cycle lattice.
// Unknown statuses rank below DETECTED.
func (s ChangeStatus) Rank() int {
	if r, ok := statusRanks[s]; ok {
		return r
	}
	return -1
}

// StatusFromRank maps a stored integer rank back to a status.
// Out-of-range values map to DETECTED.
func StatusFromRank(r int) ChangeStatus {
	for s, rank := range statusRanks {
		if rank == r {
			return s
		}
	}
	return StatusDetected
}

// ImpactLevel is the coarse severity annotation on an analyzed change.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactMedium   ImpactLevel = "MEDIUM"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

var impactRanks = map[ImpactLevel]int{
	ImpactLow:      0,
	ImpactMedium:   1,
	ImpactHigh:     2,
	ImpactCritical: 3,
}

// Rank returns the numeric severity rank. Unknown levels rank as LOW.
func (l ImpactLevel) Rank() int {
	if r, ok := impactRanks[l]; ok {
		return r
	}
	return 0
}

// ImpactFromRank maps a stored integer rank back to an impact level.
func ImpactFromRank(r int) ImpactLevel {
	for l, rank := range impactRanks {
		if rank == r {
			return l
		}
	}
	return ImpactLow
}

// ChangeMetadata carries the parsed document attributes of a change.
type ChangeMetadata struct {
	RegulatoryBody   string            `json:"regulatory_body"`
	DocumentType     string            `json:"document_type"`
	DocumentNumber   string            `json:"document_number,omitempty"`
	Keywords         []string          `json:"keywords,omitempty"`
	AffectedEntities []string          `json:"affected_entities,omitempty"`
	CustomFields     map[string]string `json:"custom_fields,omitempty"`
}

// ChangeAnalysis is the optional analysis attached once a change reaches
// ANALYZED. Risk scores are per-domain values in [0,1].
type ChangeAnalysis struct {
	ImpactLevel         ImpactLevel        `json:"impact_level"`
	ExecutiveSummary    string             `json:"executive_summary"`
	AffectedDomains     []int              `json:"affected_domains,omitempty"`
	RequiredActions     []string           `json:"required_actions,omitempty"`
	ComplianceDeadlines []string           `json:"compliance_deadlines,omitempty"`
	RiskScores          map[string]float64 `json:"risk_scores,omitempty"`
	AnalysisTimestamp   time.Time          `json:"analysis_timestamp"`
}

// RegulatoryChange is the aggregate root describing one detected regulatory
// update.
//
// Invariants:
//   - ChangeID is immutable once assigned.
//   - AnalyzedAt is set iff Analysis is present iff status >= ANALYZED.
//   - DistributedAt is set iff status >= DISTRIBUTED.
//   - Status only advances (see AdvanceStatus).
type RegulatoryChange struct {
	ChangeID      string          `json:"change_id"`
	SourceID      string          `json:"source_id"`
	Title         string          `json:"title"`
	ContentURL    string          `json:"content_url,omitempty"`
	Metadata      ChangeMetadata  `json:"metadata"`
	Status        ChangeStatus    `json:"status"`
	DetectedAt    time.Time       `json:"detected_at"`
	AnalyzedAt    *time.Time      `json:"analyzed_at,omitempty"`
	DistributedAt *time.Time      `json:"distributed_at,omitempty"`
	Analysis      *ChangeAnalysis `json:"analysis,omitempty"`
}

// AdvanceStatus moves the change to next, enforcing monotonic progression.
// Moving to the same status is a no-op. Regressions are rejected.
func (c *RegulatoryChange) AdvanceStatus(next ChangeStatus) error {
	if next.Rank() < 0 {
		return fmt.Errorf("unknown status %q", next)
	}
	if next.Rank() < c.Status.Rank() {
		return fmt.Errorf("status regression %s -> %s on %s", c.Status, next, c.ChangeID)
	}
	c.Status = next
	now := time.Now().UTC()
	if next.Rank() >= StatusAnalyzed.Rank() && c.AnalyzedAt == nil {
		c.AnalyzedAt = &now
	}
	if next.Rank() >= StatusDistributed.Rank() && c.DistributedAt == nil {
		c.DistributedAt = &now
	}
	return nil
}

// SetAnalysis attaches an analysis and advances the change to ANALYZED.
func (c *RegulatoryChange) SetAnalysis(a *ChangeAnalysis) error {
	if a == nil {
		return fmt.Errorf("nil analysis for %s", c.ChangeID)
	}
	if a.AnalysisTimestamp.IsZero() {
		a.AnalysisTimestamp = time.Now().UTC()
	}
	c.Analysis = a
	return c.AdvanceStatus(StatusAnalyzed)
}

// Clone returns a deep copy of the change.
func (c *RegulatoryChange) Clone() *RegulatoryChange {
	cp := *c
	cp.Metadata.Keywords = append([]string(nil), c.Metadata.Keywords...)
	cp.Metadata.AffectedEntities = append([]string(nil), c.Metadata.AffectedEntities...)
	if c.Metadata.CustomFields != nil {
		cp.Metadata.CustomFields = make(map[string]string, len(c.Metadata.CustomFields))
		for k, v := range c.Metadata.CustomFields {
			cp.Metadata.CustomFields[k] = v
		}
	}
	if c.AnalyzedAt != nil {
		t := *c.AnalyzedAt
		cp.AnalyzedAt = &t
	}
	if c.DistributedAt != nil {
		t := *c.DistributedAt
		cp.DistributedAt = &t
	}
	if c.Analysis != nil {
		a := *c.Analysis
		a.AffectedDomains = append([]int(nil), c.Analysis.AffectedDomains...)
		a.RequiredActions = append([]string(nil), c.Analysis.RequiredActions...)
		a.ComplianceDeadlines = append([]string(nil), c.Analysis.ComplianceDeadlines...)
		if c.Analysis.RiskScores != nil {
			a.RiskScores = make(map[string]float64, len(c.Analysis.RiskScores))
			for k, v := range c.Analysis.RiskScores {
				a.RiskScores[k] = v
			}
		}
		cp.Analysis = &a
	}
	return &cp
}
