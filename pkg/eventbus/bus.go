package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes events routed by the bus. Implementations must be safe
// for concurrent invocation; they receive deep clones and own them after
// HandleEvent returns.
type Handler interface {
	HandlerID() string
	// Categories limits which categories the handler receives. Empty
	// means all.
	Categories() []Category
	IsActive() bool
	HandleEvent(e *Event) error
}

// StreamFunc is a lightweight synchronous fan-out callback invoked during
// routing, independent of the subscriber system. Panics are absorbed.
type StreamFunc func(e *Event)

// Config controls bus sizing and loop cadences.
type Config struct {
	MaxQueueSize       int           // default 10000
	WorkerThreads      int           // default 4
	DeadLetterInterval time.Duration // default 30s
	CleanupInterval    time.Duration // default 5m
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:       10000,
		WorkerThreads:      4,
		DeadLetterInterval: 30 * time.Second,
		CleanupInterval:    5 * time.Minute,
	}
}

// Statistics is a point-in-time snapshot of bus counters.
type Statistics struct {
	EventsPublished    int64 `json:"events_published"`
	EventsProcessed    int64 `json:"events_processed"`
	EventsFailed       int64 `json:"events_failed"`
	EventsExpired      int64 `json:"events_expired"`
	EventsDeadLettered int64 `json:"events_dead_lettered"`
	QueueSize          int   `json:"queue_size"`
	DeadLetterSize     int   `json:"dead_letter_size"`
	ActiveHandlers     int   `json:"active_handlers"`
	StreamHandlers     int   `json:"stream_handlers"`
	WorkerThreads      int   `json:"worker_threads"`
}

type subscription struct {
	handler Handler
	filter  Filter
}

// Bus routes events from publishers to subscribed handlers through a
// bounded FIFO queue drained by a worker pool. Failed deliveries go to a
// dead-letter queue and are retried up to MaxRetries before being marked
// FAILED and persisted.
type Bus struct {
	cfg    Config
	store  EventStore // nil disables persistence
	logger *slog.Logger

	queueMu sync.Mutex
	queueCv *sync.Cond
	queue   []*Event
	running bool

	dlqMu sync.Mutex
	dlq   []*Event

	subMu   sync.RWMutex
	subs    map[string]subscription
	streams map[string]StreamFunc

	statsMu sync.Mutex
	stats   Statistics

	finalMu   sync.RWMutex
	finalizer func(*Event)

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a bus. store may be nil (no persistence); nil logger falls
// back to slog.Default.
func New(cfg Config, store EventStore, logger *slog.Logger) *Bus {
	def := DefaultConfig()
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = def.WorkerThreads
	}
	if cfg.DeadLetterInterval <= 0 {
		cfg.DeadLetterInterval = def.DeadLetterInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		cfg:     cfg,
		store:   store,
		logger:  logger.With("component", "eventbus"),
		subs:    make(map[string]subscription),
		streams: make(map[string]StreamFunc),
		stopCh:  make(chan struct{}),
	}
	b.queueCv = sync.NewCond(&b.queueMu)
	b.stats.WorkerThreads = cfg.WorkerThreads
	return b
}

// Initialize starts the worker pool and the dead-letter and cleanup loops.
func (b *Bus) Initialize() bool {
	b.queueMu.Lock()
	if b.running {
		b.queueMu.Unlock()
		return false
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.queueMu.Unlock()

	for i := 0; i < b.cfg.WorkerThreads; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	b.wg.Add(2)
	go b.deadLetterLoop()
	go b.cleanupLoop()

	b.logger.Info("event bus started", "workers", b.cfg.WorkerThreads, "max_queue", b.cfg.MaxQueueSize)
	return true
}

// Shutdown stops loops and joins workers. Queued events are dropped and
// counted; dead-lettered HIGH+ events were already persisted.
func (b *Bus) Shutdown() {
	b.queueMu.Lock()
	if !b.running {
		b.queueMu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	dropped := len(b.queue)
	b.queue = nil
	b.queueCv.Broadcast()
	b.queueMu.Unlock()

	b.wg.Wait()

	if dropped > 0 {
		b.statsMu.Lock()
		b.stats.EventsFailed += int64(dropped)
		b.statsMu.Unlock()
		b.logger.Warn("dropped queued events at shutdown", "count", dropped)
	}
	b.logger.Info("event bus stopped")
}

// IsRunning reports whether the bus is accepting work.
func (b *Bus) IsRunning() bool {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return b.running
}

// SetWorkerThreads adjusts pool size. Only allowed while stopped.
func (b *Bus) SetWorkerThreads(n int) bool {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	if b.running || n <= 0 {
		return false
	}
	b.cfg.WorkerThreads = n
	b.statsMu.Lock()
	b.stats.WorkerThreads = n
	b.statsMu.Unlock()
	return true
}

// SetFinalizer registers a callback invoked once an event reaches a
// terminal state (PROCESSED, FAILED or EXPIRED). Publishers use it to
// release resources pinned for in-flight events.
func (b *Bus) SetFinalizer(fn func(*Event)) {
	b.finalMu.Lock()
	b.finalizer = fn
	b.finalMu.Unlock()
}

// Publish enqueues an event. Returns false when the bus is stopped or the
// queue is full (the event is dropped and counted; there is no
// back-pressure to publishers).
func (b *Bus) Publish(e *Event) bool {
	if e == nil {
		return false
	}
	b.queueMu.Lock()
	if !b.running || len(b.queue) >= b.cfg.MaxQueueSize {
		running := b.running
		b.queueMu.Unlock()
		b.statsMu.Lock()
		b.stats.EventsFailed++
		b.statsMu.Unlock()
		if running {
			b.logger.Warn("queue full, dropping event", "event_id", e.EventID, "category", e.Category)
		}
		return false
	}
	e.State = StatePublished
	b.queue = append(b.queue, e)
	b.queueCv.Signal()
	b.queueMu.Unlock()

	b.statsMu.Lock()
	b.stats.EventsPublished++
	b.statsMu.Unlock()
	return true
}

// PublishBatch publishes events in order; returns false if any was dropped.
func (b *Bus) PublishBatch(events []*Event) bool {
	ok := true
	for _, e := range events {
		if !b.Publish(e) {
			ok = false
		}
	}
	return ok
}

// Subscribe registers a handler with an optional filter. Handler IDs must
// be unique; a duplicate registration is rejected.
func (b *Bus) Subscribe(h Handler, filter Filter) bool {
	if h == nil || h.HandlerID() == "" {
		return false
	}
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, exists := b.subs[h.HandlerID()]; exists {
		return false
	}
	b.subs[h.HandlerID()] = subscription{handler: h, filter: filter}
	return true
}

// Unsubscribe removes a handler by ID.
func (b *Bus) Unsubscribe(handlerID string) bool {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if _, exists := b.subs[handlerID]; !exists {
		return false
	}
	delete(b.subs, handlerID)
	return true
}

// RegisterStreamHandler adds a synchronous fan-out callback.
func (b *Bus) RegisterStreamHandler(streamID string, fn StreamFunc) {
	if fn == nil {
		return
	}
	b.subMu.Lock()
	b.streams[streamID] = fn
	b.subMu.Unlock()
}

// UnregisterStreamHandler removes a stream callback.
func (b *Bus) UnregisterStreamHandler(streamID string) {
	b.subMu.Lock()
	delete(b.streams, streamID)
	b.subMu.Unlock()
}

// GetEvents reads persisted events of a category since the given time.
func (b *Bus) GetEvents(ctx context.Context, category Category, since time.Time) ([]*Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.GetEvents(ctx, category, since)
}

// GetEventsBySource reads persisted events from a source since the given
// time.
func (b *Bus) GetEventsBySource(ctx context.Context, source string, since time.Time) ([]*Event, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.GetEventsBySource(ctx, source, since)
}

// Statistics returns a snapshot of counters and gauge values.
func (b *Bus) Statistics() Statistics {
	b.statsMu.Lock()
	snap := b.stats
	b.statsMu.Unlock()

	b.queueMu.Lock()
	snap.QueueSize = len(b.queue)
	b.queueMu.Unlock()
	b.dlqMu.Lock()
	snap.DeadLetterSize = len(b.dlq)
	b.dlqMu.Unlock()
	b.subMu.RLock()
	snap.ActiveHandlers = len(b.subs)
	snap.StreamHandlers = len(b.streams)
	b.subMu.RUnlock()
	return snap
}

// worker drains the queue until shutdown.
func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for {
		b.queueMu.Lock()
		for b.running && len(b.queue) == 0 {
			b.queueCv.Wait()
		}
		if !b.running {
			b.queueMu.Unlock()
			return
		}
		e := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.route(e)
	}
}

// route delivers one event: stream fan-out, handler dispatch, persistence,
// terminal-state accounting.
func (b *Bus) route(e *Event) {
	if e.IsExpired(time.Now()) {
		e.State = StateExpired
		b.statsMu.Lock()
		b.stats.EventsExpired++
		b.statsMu.Unlock()
		b.finalize(e)
		return
	}
	e.State = StateRouted

	b.subMu.RLock()
	streams := make([]StreamFunc, 0, len(b.streams))
	for _, fn := range b.streams {
		streams = append(streams, fn)
	}
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subMu.RUnlock()

	for _, fn := range streams {
		b.invokeStream(fn, e)
	}

	for _, sub := range subs {
		if !sub.handler.IsActive() {
			continue
		}
		if !handlerWants(sub.handler, e.Category) {
			continue
		}
		if sub.filter != nil && !sub.filter.Matches(e) {
			continue
		}
		if err := b.invokeHandler(sub.handler, e.Clone()); err != nil {
			b.logger.Warn("handler failed, dead-lettering",
				"handler", sub.handler.HandlerID(), "event_id", e.EventID, "error", err)
			b.deadLetter(e)
			return
		}
	}

	if e.Priority.Rank() >= PriorityHigh.Rank() {
		b.persist(e, "")
	}

	e.State = StateProcessed
	b.statsMu.Lock()
	b.stats.EventsProcessed++
	b.statsMu.Unlock()
	b.finalize(e)
}

// invokeHandler runs a handler, converting panics into errors.
func (b *Bus) invokeHandler(h Handler, e *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &handlerPanic{handlerID: h.HandlerID(), value: r}
		}
	}()
	return h.HandleEvent(e)
}

// invokeStream runs a stream callback; panics are absorbed and logged and
// never affect routing.
func (b *Bus) invokeStream(fn StreamFunc, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("stream handler panic", "event_id", e.EventID, "panic", r)
		}
	}()
	fn(e)
}

func (b *Bus) deadLetter(e *Event) {
	b.dlqMu.Lock()
	b.dlq = append(b.dlq, e)
	b.dlqMu.Unlock()
	b.statsMu.Lock()
	b.stats.EventsDeadLettered++
	b.statsMu.Unlock()
}

// deadLetterLoop retries dead-lettered events every interval. Events under
// the retry budget and unexpired go back on the main queue; the rest are
// marked FAILED and persisted.
func (b *Bus) deadLetterLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DeadLetterInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.processDeadLetters()
		}
	}
}

func (b *Bus) processDeadLetters() {
	b.dlqMu.Lock()
	pending := b.dlq
	b.dlq = nil
	b.dlqMu.Unlock()

	now := time.Now()
	for _, e := range pending {
		if e.RetryCount < MaxRetries && !e.IsExpired(now) {
			e.RetryCount++
			if !b.Publish(e) {
				// Queue full; try again next cycle without burning the
				// retry budget.
				e.RetryCount--
				b.dlqMu.Lock()
				b.dlq = append(b.dlq, e)
				b.dlqMu.Unlock()
			}
			continue
		}
		e.State = StateFailed
		b.statsMu.Lock()
		b.stats.EventsFailed++
		b.statsMu.Unlock()
		b.persist(e, "retries exhausted")
		b.finalize(e)
	}
}

// cleanupLoop purges expired events from the persistence layer.
func (b *Bus) cleanupLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if b.store == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := b.store.DeleteExpired(ctx, time.Now())
			cancel()
			if err != nil {
				b.logger.Error("cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				b.statsMu.Lock()
				b.stats.EventsExpired += n
				b.statsMu.Unlock()
			}
		}
	}
}

// persist writes an event to the store. Persistence failures are logged;
// the in-memory operation already succeeded.
func (b *Bus) persist(e *Event, errorMessage string) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.store.Save(ctx, e, errorMessage); err != nil {
		b.logger.Error("event persistence failed", "event_id", e.EventID, "error", err)
	}
}

func (b *Bus) finalize(e *Event) {
	b.finalMu.RLock()
	fn := b.finalizer
	b.finalMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

func handlerWants(h Handler, c Category) bool {
	cats := h.Categories()
	if len(cats) == 0 {
		return true
	}
	for _, want := range cats {
		if want == c {
			return true
		}
	}
	return false
}

type handlerPanic struct {
	handlerID string
	value     any
}

func (p *handlerPanic) Error() string {
	return "panic in handler " + p.handlerID
}
