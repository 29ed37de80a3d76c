// Package clock provides the process time source. Durations come from the
// monotonic reading, event timestamps from wall-clock milliseconds. Tests use
// the mock variant exclusively.
package clock

import (
	"sync"
	"time"
)

// Timestamp pairs a wall-clock reading with a monotonic one.
type Timestamp struct {
	WallTime    time.Time
	MonotonicNs int64
}

// Clock is the time source threaded through every component.
type Clock interface {
	// Now returns the current wall and monotonic readings.
	Now() Timestamp

	// NowMs returns wall-clock milliseconds since the Unix epoch.
	NowMs() int64

	// MonotonicNs returns nanoseconds from the monotonic source.
	MonotonicNs() int64

	// MonotonicMs returns milliseconds from the monotonic source.
	MonotonicMs() int64

	// ElapsedSinceStart returns the monotonic time since the clock was built.
	ElapsedSinceStart() time.Duration
}

// SystemClock reads the operating system clocks.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a system-backed clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() Timestamp {
	now := time.Now()

	return Timestamp{
		WallTime:    now,
		MonotonicNs: now.Sub(c.start).Nanoseconds(),
	}
}

func (c *SystemClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

func (c *SystemClock) MonotonicNs() int64 {
	return time.Since(c.start).Nanoseconds()
}

func (c *SystemClock) MonotonicMs() int64 {
	return time.Since(c.start).Milliseconds()
}

func (c *SystemClock) ElapsedSinceStart() time.Duration {
	return time.Since(c.start)
}

// MockClock is a manually advanced clock for tests.
type MockClock struct {
	mu          sync.Mutex
	wall        time.Time
	monotonicNs int64
}

// NewMockClock starts a mock clock at a fixed wall time.
func NewMockClock() *MockClock {
	return &MockClock{
		wall: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *MockClock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Timestamp{WallTime: c.wall, MonotonicNs: c.monotonicNs}
}

func (c *MockClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.wall.UnixMilli()
}

func (c *MockClock) MonotonicNs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.monotonicNs
}

func (c *MockClock) MonotonicMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.monotonicNs / int64(time.Millisecond)
}

func (c *MockClock) ElapsedSinceStart() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	return time.Duration(c.monotonicNs)
}

// Advance moves both readings forward.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wall = c.wall.Add(d)
	c.monotonicNs += d.Nanoseconds()
}

// AdvanceMs moves both readings forward by whole milliseconds.
func (c *MockClock) AdvanceMs(ms int64) {
	c.Advance(time.Duration(ms) * time.Millisecond)
}

// SetTime jumps the wall clock without touching the monotonic reading.
func (c *MockClock) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wall = t
}
