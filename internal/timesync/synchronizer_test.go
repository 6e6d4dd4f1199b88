package timesync

import (
	"testing"
	"time"
)

func TestOffsetUsesMinimumRTTSample(t *testing.T) {
	s := New(DefaultWindow, DefaultInterval)

	// Jittery sample: 200ms round trip, offset would be 500-(1000+100)=-600.
	if err := s.Record(Sample{ClientSend: 1000, ServerTime: 500, ClientReceive: 1200}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	// Clean sample: 40ms round trip, offset 2070-(2000+20)=50.
	if err := s.Record(Sample{ClientSend: 2000, ServerTime: 2070, ClientReceive: 2040}); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	offset, ok := s.Offset()
	if !ok {
		t.Fatalf("expected offset after samples")
	}
	if offset != 50 {
		t.Fatalf("expected min-RTT offset 50, got %d", offset)
	}
	rtt, ok := s.RTT()
	if !ok || rtt != 40 {
		t.Fatalf("expected best rtt 40, got %d (ok=%v)", rtt, ok)
	}
}

func TestWindowEviction(t *testing.T) {
	s := New(MinWindow, DefaultInterval)
	// Oldest sample has the lowest RTT; once evicted it must stop mattering.
	if err := s.Record(Sample{ClientSend: 0, ServerTime: 10, ClientReceive: 10}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	for i := int64(1); i <= int64(MinWindow); i++ {
		base := i * 1000
		if err := s.Record(Sample{ClientSend: base, ServerTime: base + 125, ClientReceive: base + 50}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}
	if s.SampleCount() != MinWindow {
		t.Fatalf("expected window of %d, got %d", MinWindow, s.SampleCount())
	}
	offset, ok := s.Offset()
	if !ok {
		t.Fatalf("expected offset")
	}
	// Remaining samples all have rtt 50 and offset 125-25=100.
	if offset != 100 {
		t.Fatalf("expected offset 100 after eviction, got %d", offset)
	}
}

func TestNegativeRTTRejected(t *testing.T) {
	s := New(DefaultWindow, DefaultInterval)
	if err := s.Record(Sample{ClientSend: 100, ServerTime: 50, ClientReceive: 90}); err == nil {
		t.Fatalf("expected negative rtt to be rejected")
	}
	if s.SampleCount() != 0 {
		t.Fatalf("rejected sample must not be retained")
	}
}

func TestServerNowWithoutSamples(t *testing.T) {
	s := New(DefaultWindow, DefaultInterval)
	if got := s.ServerNow(12345); got != 12345 {
		t.Fatalf("expected passthrough before first sample, got %d", got)
	}
}

func TestDueSchedule(t *testing.T) {
	s := New(DefaultWindow, 2*time.Second)
	start := time.UnixMilli(0)
	if !s.Due(start) {
		t.Fatalf("expected first exchange to be due immediately")
	}
	s.MarkSynced(start)
	if s.Due(start.Add(time.Second)) {
		t.Fatalf("exchange should not be due inside the interval")
	}
	if !s.Due(start.Add(2 * time.Second)) {
		t.Fatalf("exchange should be due at the interval boundary")
	}
}
