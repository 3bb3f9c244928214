// Package rate implements the windowed throughput counter used to rank
// peers for the swarm-level choking algorithm (an external collaborator;
// this package only measures, it never decides who to choke).
package rate

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWindow is the W of §4.4: rate() reports bytes/sec over the last
// 20 seconds unless a Meter is built with a different window.
const DefaultWindow = 20 * time.Second

var seqCounter uint64

// Meter is a thread-safe windowed byte counter. Add(n) accumulates n into
// the current window's bucket; once the window elapses, the next Add or
// Rate call rolls it over.
type Meter struct {
	mu          sync.Mutex
	window      time.Duration
	windowStart time.Time
	numerator   int64
	seq         uint64 // tie-break identity for RateComparator
}

// New creates a Meter with the default 20-second window.
func New() *Meter {
	return NewWindow(DefaultWindow)
}

// NewWindow creates a Meter with an explicit window size.
func NewWindow(window time.Duration) *Meter {
	return &Meter{
		window:      window,
		windowStart: time.Now(),
		seq:         atomic.AddUint64(&seqCounter, 1),
	}
}

// Add atomically adds n bytes to the current window's bucket.
func (m *Meter) Add(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	m.numerator += int64(n)
}

// Rate returns bytes-per-second accumulated over the current window. A
// window that has not yet elapsed reports its partial rate scaled by
// elapsed time, matching a live-updating throughput display.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.numerator) / elapsed
}

// Reset zeroes the counter and starts a fresh window, used by
// SharingPeer.bind when a peer connection is (re)established.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.numerator = 0
	m.windowStart = time.Now()
}

// rollLocked starts a fresh window if the current one has fully elapsed.
// Callers must hold m.mu.
func (m *Meter) rollLocked() {
	if time.Since(m.windowStart) >= m.window {
		m.numerator = 0
		m.windowStart = time.Now()
	}
}

// RateComparator orders Meters by ascending Rate(), breaking ties by
// insertion identity so the external choking algorithm gets the strict
// weak order a sort requires.
type RateComparator struct{}

// Less reports whether a ranks below b: a lower rate sorts first, and
// equal rates fall back to whichever Meter was constructed first.
func (RateComparator) Less(a, b *Meter) bool {
	ra, rb := a.Rate(), b.Rate()
	if ra != rb {
		return ra < rb
	}
	return a.seq < b.seq
}
