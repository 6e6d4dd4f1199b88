package netquality

import "sync"

// Quality is the coarse connection-health grade derived from RTT and loss.
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityBad
)

// String implements fmt.Stringer for diagnostics output.
func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityBad:
		return "bad"
	default:
		return "unknown"
	}
}

const (
	// DefaultRTTWindow bounds the RTT sample history.
	DefaultRTTWindow = 20
	// DefaultLossWindow bounds the delivery-event history used for the loss
	// estimate.
	DefaultLossWindow = 100

	// Degradation thresholds. At or beyond either, non-critical replication
	// slows down.
	DegradedRTTMillis = 250.0
	DegradedLoss      = 0.08
)

// Status is a point-in-time summary of a connection's measured health.
type Status struct {
	RTTMillis    float64 `json:"rttMs"`
	JitterMillis float64 `json:"jitterMs"`
	Loss         float64 `json:"loss"`
	Quality      string  `json:"quality"`
}

// Monitor tracks RTT, jitter, and sequence-gap loss for one connection. It is
// safe for use from the session reader and the tick loop concurrently.
type Monitor struct {
	mu         sync.Mutex
	rttWindow  int
	lossWindow int
	rtts       []float64
	deliveries []bool // true = received, false = inferred lost
	lastSeq    uint32
	haveSeq    bool
}

// NewMonitor constructs a monitor with the default window sizes.
func NewMonitor() *Monitor {
	return &Monitor{rttWindow: DefaultRTTWindow, lossWindow: DefaultLossWindow}
}

// RecordRTT appends a round-trip measurement in milliseconds. Negative
// samples indicate clock trouble and are ignored.
func (m *Monitor) RecordRTT(rttMillis float64) {
	if m == nil || rttMillis < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtts = append(m.rtts, rttMillis)
	if len(m.rtts) > m.rttWindow {
		m.rtts = m.rtts[len(m.rtts)-m.rttWindow:]
	}
}

// ObserveSequence records an inbound sequence number. Gaps in the series are
// counted as lost deliveries; duplicates and reordered arrivals below the
// high-water mark are ignored.
func (m *Monitor) ObserveSequence(seq uint32) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveSeq {
		m.haveSeq = true
		m.lastSeq = seq
		m.appendDeliveryLocked(true)
		return
	}
	if seq <= m.lastSeq {
		return
	}
	for gap := m.lastSeq + 1; gap < seq; gap++ {
		m.appendDeliveryLocked(false)
	}
	m.appendDeliveryLocked(true)
	m.lastSeq = seq
}

func (m *Monitor) appendDeliveryLocked(received bool) {
	m.deliveries = append(m.deliveries, received)
	if len(m.deliveries) > m.lossWindow {
		m.deliveries = m.deliveries[len(m.deliveries)-m.lossWindow:]
	}
}

// RTT reports the mean round-trip time over the retained window, in
// milliseconds. Zero before the first sample.
func (m *Monitor) RTT() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return meanLocked(m.rtts)
}

// Jitter reports the mean absolute delta between consecutive RTT samples.
func (m *Monitor) Jitter() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rtts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(m.rtts); i++ {
		delta := m.rtts[i] - m.rtts[i-1]
		if delta < 0 {
			delta = -delta
		}
		sum += delta
	}
	return sum / float64(len(m.rtts)-1)
}

// Loss reports the fraction of inferred-lost deliveries in the window.
func (m *Monitor) Loss() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deliveries) == 0 {
		return 0
	}
	lost := 0
	for _, received := range m.deliveries {
		if !received {
			lost++
		}
	}
	return float64(lost) / float64(len(m.deliveries))
}

// Quality grades the connection from the current RTT and loss estimates.
func (m *Monitor) Quality() Quality {
	return Grade(m.RTT(), m.Loss())
}

// Degraded reports whether measured health is bad enough to slow
// non-critical replication.
func (m *Monitor) Degraded() bool {
	return m.RTT() > DegradedRTTMillis || m.Loss() > DegradedLoss
}

// Snapshot captures all measurements at once for diagnostics.
func (m *Monitor) Snapshot() Status {
	return Status{
		RTTMillis:    m.RTT(),
		JitterMillis: m.Jitter(),
		Loss:         m.Loss(),
		Quality:      m.Quality().String(),
	}
}

// Grade maps RTT and loss onto the quality scale.
func Grade(rttMillis, loss float64) Quality {
	switch {
	case rttMillis < 50 && loss < 0.01:
		return QualityExcellent
	case rttMillis < 100 && loss < 0.03:
		return QualityGood
	case rttMillis < 150 && loss < 0.05:
		return QualityFair
	case rttMillis < 250 && loss < 0.08:
		return QualityPoor
	default:
		return QualityBad
	}
}

func meanLocked(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}
