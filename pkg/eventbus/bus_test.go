package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testHandler struct {
	id     string
	cats   []Category
	active bool
	fail   int // fail this many deliveries before succeeding

	mu       sync.Mutex
	received []*Event
}

func newTestHandler(id string) *testHandler {
	return &testHandler{id: id, active: true}
}

func (h *testHandler) HandlerID() string     { return h.id }
func (h *testHandler) Categories() []Category { return h.cats }
func (h *testHandler) IsActive() bool        { return h.active }

func (h *testHandler) HandleEvent(e *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail > 0 {
		h.fail--
		return errors.New("handler rejected event")
	}
	h.received = append(h.received, e)
	return nil
}

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.received)
}

func (h *testHandler) events() []*Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Event(nil), h.received...)
}

func testBus(t *testing.T, cfg Config) *Bus {
	t.Helper()
	b := New(cfg, nil, nil)
	require.True(t, b.Initialize())
	t.Cleanup(b.Shutdown)
	return b
}

func mustEvent(t *testing.T, category Category, source string, priority Priority) *Event {
	t.Helper()
	e, err := NewEvent(category, source, "test", map[string]string{"s": source}, priority)
	require.NoError(t, err)
	return e
}

func TestPublishAndDeliver(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("h1")
	require.True(t, b.Subscribe(h, nil))

	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "sec_edgar", PriorityNormal)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	stats := b.Statistics()
	require.EqualValues(t, 1, stats.EventsPublished)
	require.EqualValues(t, 1, stats.EventsProcessed)
	require.EqualValues(t, 0, stats.EventsFailed)
}

func TestFIFOOrderSingleWorker(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("h1")
	require.True(t, b.Subscribe(h, nil))

	sources := []string{"a", "b", "c", "d", "e"}
	for _, s := range sources {
		require.True(t, b.Publish(mustEvent(t, CategoryDataIngestion, s, PriorityNormal)))
	}

	require.Eventually(t, func() bool { return h.count() == len(sources) }, 2*time.Second, 10*time.Millisecond)
	got := h.events()
	for i, s := range sources {
		require.Equal(t, s, got[i].Source)
	}
}

func TestHandlersReceiveClones(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("h1")
	require.True(t, b.Subscribe(h, nil))

	e := mustEvent(t, CategorySystemHealthCheck, "probe", PriorityLow)
	require.True(t, b.Publish(e))
	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NotSame(t, e, h.events()[0])
	require.Equal(t, e.EventID, h.events()[0].EventID)
}

func TestCategoryRestriction(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("reg-only")
	h.cats = []Category{CategoryRegulatoryChange}
	require.True(t, b.Subscribe(h, nil))

	require.True(t, b.Publish(mustEvent(t, CategorySystemHealthCheck, "probe", PriorityLow)))
	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "fca", PriorityNormal)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, CategoryRegulatoryChange, h.events()[0].Category)
}

func TestPriorityFilterRejection(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("high-only")
	require.True(t, b.Subscribe(h, PriorityFilter(PriorityHigh)))

	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "low", PriorityNormal)))
	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "high", PriorityCritical)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "high", h.events()[0].Source)
}

func TestInactiveHandlerSkipped(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("dormant")
	h.active = false
	require.True(t, b.Subscribe(h, nil))

	require.True(t, b.Publish(mustEvent(t, CategoryAgentDecision, "agent", PriorityNormal)))

	require.Eventually(t, func() bool {
		return b.Statistics().EventsProcessed == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, h.count())
}

func TestDuplicateSubscribeRejected(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	require.True(t, b.Subscribe(newTestHandler("h1"), nil))
	require.False(t, b.Subscribe(newTestHandler("h1"), nil))
	require.True(t, b.Unsubscribe("h1"))
	require.False(t, b.Unsubscribe("h1"))
}

func TestQueueOverflowDrops(t *testing.T) {
	b := New(Config{MaxQueueSize: 2, WorkerThreads: 1}, nil, nil)
	// Not initialized: no workers drain the queue, so the cap is exact.
	b.queueMu.Lock()
	b.running = true
	b.queueMu.Unlock()
	defer func() {
		b.queueMu.Lock()
		b.running = false
		b.queueMu.Unlock()
	}()

	require.True(t, b.Publish(mustEvent(t, CategoryDataIngestion, "a", PriorityNormal)))
	require.True(t, b.Publish(mustEvent(t, CategoryDataIngestion, "b", PriorityNormal)))
	require.False(t, b.Publish(mustEvent(t, CategoryDataIngestion, "c", PriorityNormal)))

	stats := b.Statistics()
	require.EqualValues(t, 2, stats.EventsPublished)
	require.EqualValues(t, 1, stats.EventsFailed)
	require.Equal(t, 2, stats.QueueSize)
}

func TestPublishWhenStopped(t *testing.T) {
	b := New(Config{}, nil, nil)
	require.False(t, b.Publish(mustEvent(t, CategorySystemError, "x", PriorityLow)))
}

func TestDeadLetterRetrySucceeds(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1, DeadLetterInterval: 20 * time.Millisecond})
	h := newTestHandler("flaky")
	h.fail = 1
	require.True(t, b.Subscribe(h, nil))

	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "ecb", PriorityNormal)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, h.events()[0].RetryCount)
	require.EqualValues(t, 1, b.Statistics().EventsDeadLettered)
}

func TestDeadLetterExhaustsRetries(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1, DeadLetterInterval: 20 * time.Millisecond})
	h := newTestHandler("broken")
	h.fail = MaxRetries + 1
	require.True(t, b.Subscribe(h, nil))

	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "ecb", PriorityNormal)))

	require.Eventually(t, func() bool {
		return b.Statistics().EventsFailed == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, h.count())
	require.EqualValues(t, MaxRetries+1, b.Statistics().EventsDeadLettered)
}

func TestHandlerPanicDeadLetters(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1, DeadLetterInterval: time.Hour})
	require.True(t, b.Subscribe(&panicHandler{}, nil))

	require.True(t, b.Publish(mustEvent(t, CategorySystemError, "x", PriorityLow)))

	require.Eventually(t, func() bool {
		return b.Statistics().EventsDeadLettered == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type panicHandler struct{}

func (panicHandler) HandlerID() string        { return "panics" }
func (panicHandler) Categories() []Category   { return nil }
func (panicHandler) IsActive() bool           { return true }
func (panicHandler) HandleEvent(*Event) error { panic("boom") }

func TestStreamHandlerPanicAbsorbed(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("h1")
	require.True(t, b.Subscribe(h, nil))

	var streamed int
	var mu sync.Mutex
	b.RegisterStreamHandler("panicky", func(*Event) { panic("stream boom") })
	b.RegisterStreamHandler("counter", func(*Event) {
		mu.Lock()
		streamed++
		mu.Unlock()
	})

	require.True(t, b.Publish(mustEvent(t, CategoryRegulatoryChange, "fca", PriorityNormal)))

	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, streamed)
}

func TestExpiredEventNotDelivered(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	h := newTestHandler("h1")
	require.True(t, b.Subscribe(h, nil))

	e := mustEvent(t, CategoryDataIngestion, "stale", PriorityNormal)
	e.ExpiresAt = time.Now().Add(-time.Minute)
	require.True(t, b.Publish(e))

	require.Eventually(t, func() bool {
		return b.Statistics().EventsExpired == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, h.count())
}

func TestFinalizerInvokedOnProcessed(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	var mu sync.Mutex
	var finals []State
	b.SetFinalizer(func(e *Event) {
		mu.Lock()
		finals = append(finals, e.State)
		mu.Unlock()
	})

	require.True(t, b.Publish(mustEvent(t, CategorySystemHealthCheck, "probe", PriorityLow)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(finals) == 1 && finals[0] == StateProcessed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSetWorkerThreadsOnlyWhenStopped(t *testing.T) {
	b := New(Config{}, nil, nil)
	require.True(t, b.SetWorkerThreads(8))
	require.Equal(t, 8, b.Statistics().WorkerThreads)

	require.True(t, b.Initialize())
	defer b.Shutdown()
	require.False(t, b.SetWorkerThreads(2))
}

func TestPublishBatchReportsDrop(t *testing.T) {
	b := testBus(t, Config{WorkerThreads: 1})
	events := []*Event{
		mustEvent(t, CategoryDataIngestion, "a", PriorityNormal),
		mustEvent(t, CategoryDataIngestion, "b", PriorityNormal),
	}
	require.True(t, b.PublishBatch(events))
	require.Eventually(t, func() bool {
		return b.Statistics().EventsProcessed == 2
	}, 2*time.Second, 10*time.Millisecond)
}
