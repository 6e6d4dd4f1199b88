// Package timesync estimates the clock offset between a client and the
// authoritative server with NTP-style two-way exchanges.
package timesync

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultWindow bounds the retained sample count.
	DefaultWindow = 10
	// MinWindow is the smallest window that still rides out jitter.
	MinWindow = 5
	// DefaultInterval is how often a fresh exchange is scheduled.
	DefaultInterval = 3 * time.Second
)

// Sample captures one completed exchange, all in unix milliseconds: the
// client's send time t0, the server's reply time t1, and the client's
// receive time t2.
type Sample struct {
	ClientSend    int64
	ServerTime    int64
	ClientReceive int64
}

// RTT is the round trip the sample observed.
func (s Sample) RTT() int64 {
	return s.ClientReceive - s.ClientSend
}

// Offset estimates server minus client clock at the midpoint of the trip.
func (s Sample) Offset() int64 {
	return s.ServerTime - (s.ClientSend + s.RTT()/2)
}

// Synchronizer keeps a rolling window of samples and reports the offset of
// the minimum-RTT sample, which best approximates a low-jitter path.
type Synchronizer struct {
	mu       sync.Mutex
	window   int
	interval time.Duration
	samples  []Sample
	lastSync time.Time
}

// New constructs a synchronizer. A window below MinWindow is raised to it.
func New(window int, interval time.Duration) *Synchronizer {
	if window < MinWindow {
		window = MinWindow
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Synchronizer{window: window, interval: interval}
}

// Record stores a completed exchange. Samples with a negative trip time are
// rejected; a skewed local clock mid-exchange would poison the window.
func (s *Synchronizer) Record(sample Sample) error {
	if sample.RTT() < 0 {
		return fmt.Errorf("timesync: negative rtt %dms", sample.RTT())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	if len(s.samples) > s.window {
		s.samples = s.samples[len(s.samples)-s.window:]
	}
	return nil
}

// best returns the minimum-RTT sample in the window.
func (s *Synchronizer) best() (Sample, bool) {
	if len(s.samples) == 0 {
		return Sample{}, false
	}
	best := s.samples[0]
	for _, sample := range s.samples[1:] {
		if sample.RTT() < best.RTT() {
			best = sample
		}
	}
	return best, true
}

// Offset reports the current clock offset estimate (server minus client).
func (s *Synchronizer) Offset() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, ok := s.best()
	if !ok {
		return 0, false
	}
	return best.Offset(), true
}

// RTT reports the round-trip time of the best sample.
func (s *Synchronizer) RTT() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	best, ok := s.best()
	if !ok {
		return 0, false
	}
	return best.RTT(), true
}

// ServerNow maps a local unix-millisecond timestamp onto the server clock.
// Before the first sample it returns the local time unchanged; gameplay is
// never blocked waiting for a sync result.
func (s *Synchronizer) ServerNow(localMillis int64) int64 {
	offset, ok := s.Offset()
	if !ok {
		return localMillis
	}
	return localMillis + offset
}

// Due reports whether a new exchange should be started.
func (s *Synchronizer) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSync.IsZero() {
		return true
	}
	return now.Sub(s.lastSync) >= s.interval
}

// MarkSynced records that an exchange was started at now.
func (s *Synchronizer) MarkSynced(now time.Time) {
	s.mu.Lock()
	s.lastSync = now
	s.mu.Unlock()
}

// SampleCount reports the retained window size.
func (s *Synchronizer) SampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}
