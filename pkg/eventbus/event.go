// Package eventbus implements the asynchronous publish/subscribe bus:
// a bounded FIFO queue drained by a worker pool, per-subscription filters,
// dead-letter retry, TTL expiry, persistence of high-priority events and
// synchronous stream fan-out.
package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Category is the closed set of event categories.
type Category string

const (
	CategoryAgentDecision         Category = "AGENT_DECISION"
	CategoryAgentStatusUpdate     Category = "AGENT_STATUS_UPDATE"
	CategoryAgentError            Category = "AGENT_ERROR"
	CategoryAgentLearningUpdate   Category = "AGENT_LEARNING_UPDATE"
	CategoryRegulatoryChange      Category = "REGULATORY_CHANGE_DETECTED"
	CategoryComplianceViolation   Category = "REGULATORY_COMPLIANCE_VIOLATION"
	CategoryRegulatoryRiskAlert   Category = "REGULATORY_RISK_ALERT"
	CategoryTransactionProcessed  Category = "TRANSACTION_PROCESSED"
	CategoryTransactionFlagged    Category = "TRANSACTION_FLAGGED"
	CategoryTransactionReview     Category = "TRANSACTION_REVIEW_REQUESTED"
	CategorySystemHealthCheck     Category = "SYSTEM_HEALTH_CHECK"
	CategorySystemPerformance     Category = "SYSTEM_PERFORMANCE_METRIC"
	CategorySystemError           Category = "SYSTEM_ERROR"
	CategoryHumanReviewRequested  Category = "HUMAN_REVIEW_REQUESTED"
	CategoryHumanFeedbackReceived Category = "HUMAN_FEEDBACK_RECEIVED"
	CategoryHumanDecisionOverride Category = "HUMAN_DECISION_OVERRIDE"
	CategoryDataIngestion         Category = "DATA_INGESTION_COMPLETED"
	CategoryDataProcessing        Category = "DATA_PROCESSING_STARTED"
	CategoryDataQualityIssue      Category = "DATA_QUALITY_ISSUE"
	CategoryAuditTrailUpdated     Category = "AUDIT_TRAIL_UPDATED"
	CategoryComplianceReport      Category = "COMPLIANCE_REPORT_GENERATED"
	CategorySecurityIncident      Category = "SECURITY_INCIDENT_DETECTED"
)

var knownCategories = map[Category]struct{}{
	CategoryAgentDecision: {}, CategoryAgentStatusUpdate: {}, CategoryAgentError: {},
	CategoryAgentLearningUpdate: {}, CategoryRegulatoryChange: {},
	CategoryComplianceViolation: {}, CategoryRegulatoryRiskAlert: {},
	CategoryTransactionProcessed: {}, CategoryTransactionFlagged: {},
	CategoryTransactionReview: {}, CategorySystemHealthCheck: {},
	CategorySystemPerformance: {}, CategorySystemError: {},
	CategoryHumanReviewRequested: {}, CategoryHumanFeedbackReceived: {},
	CategoryHumanDecisionOverride: {}, CategoryDataIngestion: {},
	CategoryDataProcessing: {}, CategoryDataQualityIssue: {},
	CategoryAuditTrailUpdated: {}, CategoryComplianceReport: {},
	CategorySecurityIncident: {},
}

// ParseCategory maps a wire string to a Category. Unknown values map to
// SYSTEM_ERROR, never an error.
func ParseCategory(s string) Category {
	c := Category(s)
	if _, ok := knownCategories[c]; ok {
		return c
	}
	return CategorySystemError
}

// Priority orders event urgency. Numeric rank is strictly increasing.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
	PriorityUrgent   Priority = "URGENT"
)

var priorityRanks = map[Priority]int{
	PriorityLow:      0,
	PriorityNormal:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
	PriorityUrgent:   4,
}

// Rank returns the numeric priority rank; unknown priorities rank NORMAL.
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return priorityRanks[PriorityNormal]
}

// ParsePriority maps a wire string to a Priority; unknown values map to
// NORMAL.
func ParsePriority(s string) Priority {
	p := Priority(s)
	if _, ok := priorityRanks[p]; ok {
		return p
	}
	return PriorityNormal
}

// State tracks an event through the bus.
type State string

const (
	StateCreated   State = "CREATED"
	StatePublished State = "PUBLISHED"
	StateRouted    State = "ROUTED"
	StateProcessed State = "PROCESSED"
	StateFailed    State = "FAILED"
	StateExpired   State = "EXPIRED"
	StateArchived  State = "ARCHIVED"
)

var knownStates = map[State]struct{}{
	StateCreated: {}, StatePublished: {}, StateRouted: {}, StateProcessed: {},
	StateFailed: {}, StateExpired: {}, StateArchived: {},
}

// ParseState maps a wire string to a State; unknown values map to CREATED.
func ParseState(s string) State {
	st := State(s)
	if _, ok := knownStates[st]; ok {
		return st
	}
	return StateCreated
}

// DefaultTTL bounds event lifetime when the publisher does not set one.
const DefaultTTL = time.Hour

// MaxRetries bounds dead-letter redelivery attempts.
const MaxRetries = 3

// Event is the transport record placed on the bus.
type Event struct {
	EventID       string            `json:"event_id"`
	Category      Category          `json:"category"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Priority      Priority          `json:"priority"`
	State         State             `json:"state"`
	RetryCount    int               `json:"retry_count"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Headers       map[string]string `json:"headers,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	TraceID       string            `json:"trace_id,omitempty"`
}

// NewEvent creates a CREATED event with a fresh evt-<uuid4> ID and the
// default TTL.
func NewEvent(category Category, source, eventType string, payload any, priority Priority) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Event{
		EventID:   "evt-" + uuid.NewString(),
		Category:  category,
		Source:    source,
		EventType: eventType,
		Payload:   raw,
		Priority:  priority,
		State:     StateCreated,
		CreatedAt: now,
		ExpiresAt: now.Add(DefaultTTL),
		Headers:   make(map[string]string),
	}, nil
}

// IsExpired reports whether now is past the event's TTL.
func (e *Event) IsExpired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Clone returns a deep copy, including headers and routing metadata.
// Handlers receive clones; the bus retains ownership of the original.
func (e *Event) Clone() *Event {
	cp := *e
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.Headers != nil {
		cp.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			cp.Headers[k] = v
		}
	}
	return &cp
}
