package model

import (
	"fmt"
	"sync"
	"time"
)

// IDGenerator issues unique change IDs of the form
// reg_change_<microseconds>_<counter>. Instances are independent so tests
// can construct fresh generators without shared global state.
type IDGenerator struct {
	mu      sync.Mutex
	counter uint64
	now     func() time.Time
}

// NewIDGenerator creates a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// NewIDGeneratorAt creates a generator with an injected clock for tests.
func NewIDGeneratorAt(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// NextChangeID returns the next unique change ID.
func (g *IDGenerator) NextChangeID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("reg_change_%d_%d", g.now().UnixMicro(), g.counter)
}
