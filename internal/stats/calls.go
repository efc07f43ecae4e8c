// Package stats keeps in-process call statistics for the TUI and the exit
// summary. Latency percentiles come from a t-digest per method, so memory
// stays flat however long a session runs.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// DefaultRecentCalls is how many calls RecentCalls keeps.
const DefaultRecentCalls = 20

// digestCompression trades accuracy for size: ~100 centroids, ~10KB.
const digestCompression = 100

// CallEvent is one completed call.
type CallEvent struct {
	At      time.Time
	Method  string
	Elapsed time.Duration
	Err     string // empty on success
}

// MethodStats summarises the calls of one method.
type MethodStats struct {
	Method string
	Count  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
	Last   time.Duration
}

// ErrorRate returns Errors/Count, or 0 with no calls.
func (m MethodStats) ErrorRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.Count)
}

type methodState struct {
	count  int64
	errors int64
	max    time.Duration
	last   time.Duration
	digest *tdigest.TDigest
}

// CallStats records calls. It is safe for concurrent use.
type CallStats struct {
	mu      sync.Mutex
	methods map[string]*methodState

	// recent is a ring of the last len(recent) calls
	recent []CallEvent
	next   int
	total  int64
}

// NewCallStats creates a CallStats keeping the last recentSize calls.
func NewCallStats(recentSize int) *CallStats {
	if recentSize <= 0 {
		recentSize = DefaultRecentCalls
	}
	return &CallStats{
		methods: make(map[string]*methodState),
		recent:  make([]CallEvent, recentSize),
	}
}

// Record adds one call. Its signature matches browser.Observer.OnCall.
func (s *CallStats) Record(method string, elapsed time.Duration, err error) {
	ev := CallEvent{At: time.Now(), Method: method, Elapsed: elapsed}
	if err != nil {
		ev.Err = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.methods[method]
	if !ok {
		m = &methodState{digest: tdigest.NewWithCompression(digestCompression)}
		s.methods[method] = m
	}
	m.count++
	if err != nil {
		m.errors++
	}
	if elapsed > m.max {
		m.max = elapsed
	}
	m.last = elapsed
	m.digest.Add(float64(elapsed.Nanoseconds()), 1)

	s.recent[s.next] = ev
	s.next = (s.next + 1) % len(s.recent)
	s.total++
}

// Total returns the number of calls recorded.
func (s *CallStats) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Snapshot returns per-method stats sorted by method name.
func (s *CallStats) Snapshot() []MethodStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MethodStats, 0, len(s.methods))
	for name, m := range s.methods {
		out = append(out, MethodStats{
			Method: name,
			Count:  m.count,
			Errors: m.errors,
			P50:    time.Duration(m.digest.Quantile(0.50)),
			P95:    time.Duration(m.digest.Quantile(0.95)),
			P99:    time.Duration(m.digest.Quantile(0.99)),
			Max:    m.max,
			Last:   m.last,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// RecentCalls returns the most recent calls, newest first.
func (s *CallStats) RecentCalls() []CallEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recent)
	if s.total < int64(n) {
		n = int(s.total)
	}
	out := make([]CallEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (s.next - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out
}
