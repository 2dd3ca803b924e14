package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock returns a controllable time. Safe for concurrent use.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewStubClock creates a StubClock set to the given time.
func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t}
}

// FixedClock returns a StubClock set to 2025-03-01 08:00:00 UTC.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set 直接设置当前时间，可以往回拨
func (c *StubClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// StubIDGenerator returns sequential IDs: "<prefix>-1", "<prefix>-2", etc.
type StubIDGenerator struct {
	mu      sync.Mutex
	prefix  string
	counter int
}

func NewStubIDGenerator(prefix string) *StubIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &StubIDGenerator{prefix: prefix}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("%s-%d", g.prefix, g.counter)
}
