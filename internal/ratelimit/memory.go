package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	start time.Time
	count int
}

// Memory is a process-local fixed-window limiter. Counts are not shared
// between instances, so it is meant for local runs and tests.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

// WithClock replaces the limiter's time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Allow counts one hit for key and reports whether it is within limit for
// the current window. A non-positive limit disables the check.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}

	start := windowStart(m.now(), window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || !c.start.Equal(start) {
		m.prune(start)
		c = &counter{start: start}
		m.counters[key] = c
	}

	c.count++

	return c.count <= limit, nil
}

// prune drops counters of finished windows. Called with mu held.
func (m *Memory) prune(current time.Time) {
	for k, c := range m.counters {
		if c.start.Before(current) {
			delete(m.counters, k)
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.counters)
}
