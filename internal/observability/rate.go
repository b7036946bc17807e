package observability

import (
	"sync"
	"time"
)

// DefaultRateWindow is the number of timestamps kept by a RateMeter.
const DefaultRateWindow = 30

// RateMeter estimates an event rate from a sliding window of timestamps:
// (n-1) / (newest - oldest).
type RateMeter struct {
	mu    sync.Mutex
	times []time.Time
	size  int
	gauge interface{ Set(float64) }
}

// NewRateMeter keeps the last size timestamps. If gauge is non-nil it is set
// to the current rate on every tick.
func NewRateMeter(size int, gauge interface{ Set(float64) }) *RateMeter {
	if size < 2 {
		size = DefaultRateWindow
	}
	return &RateMeter{size: size, times: make([]time.Time, 0, size), gauge: gauge}
}

// Tick records one event at t.
func (m *RateMeter) Tick(t time.Time) {
	m.mu.Lock()
	if len(m.times) == m.size {
		copy(m.times, m.times[1:])
		m.times = m.times[:m.size-1]
	}
	m.times = append(m.times, t)
	rate := m.rateLocked()
	m.mu.Unlock()

	if m.gauge != nil {
		m.gauge.Set(rate)
	}
}

// Rate returns events per second, or 0 with fewer than two samples.
func (m *RateMeter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rateLocked()
}

// Reset drops all samples.
func (m *RateMeter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.times = m.times[:0]
}

func (m *RateMeter) rateLocked() float64 {
	n := len(m.times)
	if n < 2 {
		return 0
	}
	span := m.times[n-1].Sub(m.times[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}
