package testutil

import (
	"fmt"
	"sync"
	"time"
)

// StubClock is a pub.Clock whose time only moves when a test tells it
// to. Safe for concurrent use.
type StubClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{current: t}
}

// FixedClock returns a StubClock pinned to 2025-06-03 08:00:00 UTC, a
// shared fixture instant for tests that never advance time.
func FixedClock() *StubClock {
	return NewStubClock(time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC))
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d. Negative durations move it back.
func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// StubIDGenerator hands out deterministic identifiers ("uid-1",
// "uid-2", ...) so minted tag URIs are stable across runs.
type StubIDGenerator struct {
	mu   sync.Mutex
	next int
}

func NewStubIDGenerator() *StubIDGenerator {
	return &StubIDGenerator{}
}

func (g *StubIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("uid-%d", g.next)
}
