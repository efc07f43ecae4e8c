// Package timeseries tracks event rates over rolling time windows.
//
// AddEvents is lock-free. RecordSample and Stats take the ring buffer lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples kept (one minute at 1 sample/sec)
	ringBufferSize = 60

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock lets tests control time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is the cumulative event count at a point in time.
type sample struct {
	timestamp time.Time
	count     int64
}

// RateTracker counts events and computes rolling rates from periodic
// samples of the running total.
//
//	tracker := NewRateTracker()
//	tracker.AddEvents(1)   // per completed call
//	tracker.RecordSample() // from a ticker
//	rates := tracker.Stats()
type RateTracker struct {
	total atomic.Int64

	mu       sync.RWMutex
	samples  []sample
	writeIdx int

	startTime time.Time
	clock     Clock
}

// RateStats holds rates in events per second.
type RateStats struct {
	Total int64

	Rate1s  float64
	Rate10s float64
	Rate60s float64

	// RateOverall is the rate since tracking started
	RateOverall float64
}

// NewRateTracker creates a tracker on the wall clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker on the given clock.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// AddEvents adds n to the running total. Non-positive n is ignored.
func (t *RateTracker) AddEvents(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// RecordSample stores the current total with a timestamp.
func (t *RateTracker) RecordSample() {
	s := sample{timestamp: t.clock.Now(), count: t.total.Load()}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Stats computes the current rates. Windows longer than the recorded
// history use the oldest sample available.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	st := RateStats{Total: current}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		st.RateOverall = float64(current) / elapsed
	}
	st.Rate1s = t.rateOver(now, current, window1s)
	st.Rate10s = t.rateOver(now, current, window10s)
	st.Rate60s = t.rateOver(now, current, window60s)
	return st
}

// rateOver must be called with mu held.
func (t *RateTracker) rateOver(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Newest sample at or before the window start
	var best *sample
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if best == nil || s.timestamp.After(best.timestamp) {
			best = s
		}
	}
	if best == nil {
		best = t.oldest()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.count) / elapsed
}

// oldest must be called with mu held.
func (t *RateTracker) oldest() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// SampleCount returns the number of samples held.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
