// Package monitor drives the polling loop: it owns the source map and, for
// every change a source yields, stores it in the knowledge base and
// publishes a REGULATORY_CHANGE_DETECTED event on the bus.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/gaigenticai/Regulens-sub006/pkg/eventbus"
	"github.com/gaigenticai/Regulens-sub006/pkg/kb"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
	"github.com/gaigenticai/Regulens-sub006/pkg/observability"
	"github.com/gaigenticai/Regulens-sub006/pkg/source"
)

// defaultLoopInterval is the outer cadence; each source's ShouldCheck gates
// the actual work.
const defaultLoopInterval = 30 * time.Second

// Stats is a snapshot of monitor counters.
type Stats struct {
	SourcesChecked    int64 `json:"sources_checked"`
	ChangesDetected   int64 `json:"changes_detected"`
	ErrorsEncountered int64 `json:"errors_encountered"`
}

// Config controls the monitor loop.
type Config struct {
	LoopInterval time.Duration // default 30s
}

// Monitor owns the active sources. The bus and knowledge base are
// collaborators passed in at construction; they never hold a reference
// back.
type Monitor struct {
	cfg    Config
	kb     *kb.KnowledgeBase
	bus    *eventbus.Bus
	logger *slog.Logger
	obs    *observability.Provider

	mu      sync.Mutex
	sources map[string]source.RegulatorySource
	stats   Stats

	stopCh chan struct{}
	wg     sync.WaitGroup
	runMu  sync.Mutex
	run    bool
}

// New creates a monitor. The finalizer wired here releases the knowledge
// base pin once an event referencing a change reaches a terminal state.
func New(cfg Config, knowledge *kb.KnowledgeBase, bus *eventbus.Bus, logger *slog.Logger) *Monitor {
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = defaultLoopInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		cfg:     cfg,
		kb:      knowledge,
		bus:     bus,
		logger:  logger.With("component", "monitor"),
		sources: make(map[string]source.RegulatorySource),
	}
	if bus != nil && knowledge != nil {
		bus.SetFinalizer(func(e *eventbus.Event) {
			if id := e.Headers["change_id"]; id != "" {
				knowledge.Unpin(id)
			}
		})
	}
	return m
}

// SetObservability attaches a telemetry provider; source checks are traced
// and counted once set.
func (m *Monitor) SetObservability(p *observability.Provider) {
	m.obs = p
}

// AddSource registers a source. Returns false on a duplicate source ID.
func (m *Monitor) AddSource(src source.RegulatorySource) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[src.SourceID()]; exists {
		return false
	}
	m.sources[src.SourceID()] = src
	return true
}

// RemoveSource unregisters a source by ID.
func (m *Monitor) RemoveSource(sourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sources[sourceID]; !exists {
		return false
	}
	delete(m.sources, sourceID)
	return true
}

// Sources returns the registered source IDs.
func (m *Monitor) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sources))
	for id := range m.sources {
		ids = append(ids, id)
	}
	return ids
}

// Start launches the polling loop.
func (m *Monitor) Start() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.run {
		return false
	}
	m.run = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)
	go m.loop()
	m.logger.Info("monitor started", "loop_interval", m.cfg.LoopInterval)
	return true
}

// Stop requests a clean exit and joins the loop goroutine.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	if !m.run {
		m.runMu.Unlock()
		return
	}
	m.run = false
	close(m.stopCh)
	m.runMu.Unlock()

	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

// Stats returns a counter snapshot.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckAll(context.Background())
		}
	}
}

// CheckAll runs one pass over every due source. Exposed so callers can
// force a cycle outside the loop cadence.
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.Lock()
	due := make([]source.RegulatorySource, 0, len(m.sources))
	now := time.Now()
	for _, src := range m.sources {
		if src.ShouldCheck(now) {
			due = append(due, src)
		}
	}
	m.mu.Unlock()

	for _, src := range due {
		m.checkSource(ctx, src)
	}
}

func (m *Monitor) checkSource(ctx context.Context, src source.RegulatorySource) {
	m.mu.Lock()
	m.stats.SourcesChecked++
	m.mu.Unlock()

	done := func(error) {}
	if m.obs != nil {
		ctx, done = m.obs.TrackOperation(ctx, "source.check",
			attribute.String("source_id", src.SourceID()))
	}

	changes, err := src.CheckForChanges(ctx)
	done(err)
	if err != nil {
		m.mu.Lock()
		m.stats.ErrorsEncountered++
		m.mu.Unlock()
		m.logger.Warn("source check failed", "source_id", src.SourceID(), "error", err)
		return
	}

	for _, change := range changes {
		m.handleChange(ctx, src.SourceID(), change)
	}
}

func (m *Monitor) handleChange(ctx context.Context, sourceID string, change *model.RegulatoryChange) {
	if err := m.kb.Store(ctx, change); err != nil {
		m.mu.Lock()
		m.stats.ErrorsEncountered++
		m.mu.Unlock()
		m.logger.Error("failed to store change", "source_id", sourceID, "change_id", change.ChangeID, "error", err)
		return
	}

	m.mu.Lock()
	m.stats.ChangesDetected++
	m.mu.Unlock()

	if m.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.CategoryRegulatoryChange, sourceID,
		change.Metadata.DocumentType, change, priorityForChange(change))
	if err != nil {
		m.logger.Error("failed to build event", "change_id", change.ChangeID, "error", err)
		return
	}
	event.Headers["change_id"] = change.ChangeID

	// Pin so LRU eviction cannot drop the record while its event is in
	// flight; the bus finalizer unpins.
	m.kb.Pin(change.ChangeID)
	if !m.bus.Publish(event) {
		m.kb.Unpin(change.ChangeID)
		m.logger.Warn("event dropped", "change_id", change.ChangeID)
	}
}

// priorityForChange maps source severity onto event priority.
func priorityForChange(change *model.RegulatoryChange) eventbus.Priority {
	switch change.Metadata.CustomFields["severity"] {
	case source.SeverityHigh:
		return eventbus.PriorityHigh
	case source.SeverityMedium:
		return eventbus.PriorityNormal
	default:
		return eventbus.PriorityLow
	}
}
