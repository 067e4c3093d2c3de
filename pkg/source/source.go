// Package source implements the pluggable regulatory data sources: SEC
// EDGAR, FCA, ECB RSS, config-driven custom feeds and web scraping targets.
// Each source polls its upstream on its own cadence, deduplicates against a
// durable cursor, and yields RegulatoryChange records for the monitor.
package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

// Severity values carried in change metadata and mapped to event priority
// by the monitor.
const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
	SeverityLow    = "LOW"
)

// RegulatorySource is the capability interface every concrete source
// implements. Sources are not goroutine-owning; the monitor drives them.
type RegulatorySource interface {
	SourceID() string
	// Initialize tests connectivity and loads the persisted cursor.
	Initialize(ctx context.Context) error
	// CheckForChanges runs one polling cycle and returns strictly-new
	// items. A failing cycle returns an error but never terminates the
	// source.
	CheckForChanges(ctx context.Context) ([]*model.RegulatoryChange, error)
	Configuration() map[string]any
	TestConnectivity(ctx context.Context) bool
	CheckInterval() time.Duration
	ShouldCheck(now time.Time) bool
	RecordSuccess()
	RecordFailure()
	IsActive() bool
}

// failureBackoffThreshold is the consecutive-failure count above which the
// effective check interval is stretched.
const failureBackoffThreshold = 5

// BaseSource carries the state shared by all concrete sources: identity,
// cadence, failure accounting and durable cursor access. Concrete sources
// embed it.
type BaseSource struct {
	id       string
	name     string
	interval time.Duration
	state    StateStore
	logger   *slog.Logger

	mu                  sync.Mutex
	lastCheck           time.Time
	consecutiveFailures int
	active              bool
}

// NewBaseSource wires the shared source state. A nil store disables cursor
// persistence (cursors then live only for the process lifetime).
func NewBaseSource(id, name string, interval time.Duration, state StateStore, logger *slog.Logger) BaseSource {
	if logger == nil {
		logger = slog.Default()
	}
	return BaseSource{
		id:       id,
		name:     name,
		interval: interval,
		state:    state,
		logger:   logger.With("component", "source", "source_id", id),
		active:   true,
	}
}

func (b *BaseSource) SourceID() string { return b.id }
func (b *BaseSource) Name() string     { return b.name }

// CheckInterval returns the effective polling interval. Past the failure
// threshold the base interval is doubled, and doubled again past twice the
// threshold, capped at 4x. Sources stay pollable; there is no automatic
// deactivation.
func (b *BaseSource) CheckInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveInterval()
}

func (b *BaseSource) effectiveInterval() time.Duration {
	switch {
	case b.consecutiveFailures > 2*failureBackoffThreshold:
		return 4 * b.interval
	case b.consecutiveFailures > failureBackoffThreshold:
		return 2 * b.interval
	default:
		return b.interval
	}
}

// SetCheckInterval overrides the base polling interval. Non-positive
// values are ignored.
func (b *BaseSource) SetCheckInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.interval = d
	b.mu.Unlock()
}

// ShouldCheck reports whether the source is due for a polling cycle.
func (b *BaseSource) ShouldCheck(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return false
	}
	return b.lastCheck.IsZero() || now.Sub(b.lastCheck) >= b.effectiveInterval()
}

// MarkChecked stamps the end of a polling cycle.
func (b *BaseSource) MarkChecked(now time.Time) {
	b.mu.Lock()
	b.lastCheck = now
	b.mu.Unlock()
}

// RecordSuccess resets the consecutive-failure counter.
func (b *BaseSource) RecordSuccess() {
	b.mu.Lock()
	b.consecutiveFailures = 0
	b.mu.Unlock()
}

// RecordFailure increments the consecutive-failure counter.
func (b *BaseSource) RecordFailure() {
	b.mu.Lock()
	b.consecutiveFailures++
	n := b.consecutiveFailures
	b.mu.Unlock()
	if n > failureBackoffThreshold {
		b.logger.Warn("source backing off after repeated failures", "consecutive_failures", n)
	}
}

// ConsecutiveFailures reports the current failure streak.
func (b *BaseSource) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures
}

func (b *BaseSource) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// SetActive enables or disables polling for this source.
func (b *BaseSource) SetActive(active bool) {
	b.mu.Lock()
	b.active = active
	b.mu.Unlock()
}

// persistState writes a cursor value through the state store. Persistence
// failures are logged; the in-memory cursor already advanced.
func (b *BaseSource) persistState(ctx context.Context, key, value string) {
	if b.state == nil {
		return
	}
	if err := b.state.Save(ctx, b.id, key, value); err != nil {
		b.logger.Error("cursor persistence failed", "key", key, "error", err)
	}
}

// loadState reads a cursor value, falling back to def when absent or on
// error.
func (b *BaseSource) loadState(ctx context.Context, key, def string) string {
	if b.state == nil {
		return def
	}
	value, ok, err := b.state.Load(ctx, b.id, key)
	if err != nil {
		b.logger.Error("cursor load failed", "key", key, "error", err)
		return def
	}
	if !ok {
		return def
	}
	return value
}

// baseConfiguration returns the configuration fields common to every
// source; concrete sources extend the map.
func (b *BaseSource) baseConfiguration() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"source_id":            b.id,
		"source_name":          b.name,
		"check_interval_sec":   int(b.interval / time.Second),
		"active":               b.active,
		"consecutive_failures": b.consecutiveFailures,
	}
}
