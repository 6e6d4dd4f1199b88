package prediction

import (
	"testing"

	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

func moveRight() proto.InputData {
	return proto.InputData{Movement: [2]float64{1, 0}}
}

func TestInputBufferFIFOAndAck(t *testing.T) {
	b := NewInputBuffer(4, nil)
	for seq := uint32(1); seq <= 4; seq++ {
		if !b.Push(PendingInput{Sequence: seq, Input: moveRight()}) {
			t.Fatalf("push seq=%d failed", seq)
		}
	}
	if b.Push(PendingInput{Sequence: 5}) {
		t.Fatalf("expected push to fail at capacity")
	}
	if dropped := b.AckThrough(2); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	pending := b.Pending()
	if len(pending) != 2 || pending[0].Sequence != 3 || pending[1].Sequence != 4 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
	// Ring wraps after the ack freed slots.
	if !b.Push(PendingInput{Sequence: 5}) || !b.Push(PendingInput{Sequence: 6}) {
		t.Fatalf("expected pushes to succeed after ack")
	}
	pending = b.Pending()
	if len(pending) != 4 || pending[3].Sequence != 6 {
		t.Fatalf("unexpected pending set after wrap: %+v", pending)
	}
}

func TestInputBufferAckAll(t *testing.T) {
	b := NewInputBuffer(8, nil)
	for seq := uint32(1); seq <= 3; seq++ {
		b.Push(PendingInput{Sequence: seq})
	}
	if dropped := b.AckThrough(10); dropped != 3 {
		t.Fatalf("expected 3 dropped, got %d", dropped)
	}
	if b.Len() != 0 {
		t.Fatalf("expected empty buffer, got %d", b.Len())
	}
	if got := b.Pending(); got != nil {
		t.Fatalf("expected nil pending, got %+v", got)
	}
}

func TestInputBufferOverflowMetric(t *testing.T) {
	metrics := &recordingMetrics{}
	b := NewInputBuffer(1, metrics)
	b.Push(PendingInput{Sequence: 1})
	b.Push(PendingInput{Sequence: 2})
	if metrics.added[inputBufferOverflowMetricKey] != 1 {
		t.Fatalf("expected overflow metric, got %+v", metrics.added)
	}
}

func TestPredictorAppliesInputImmediately(t *testing.T) {
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	p.SetAuthoritative(world.Position{X: 10, Y: 0})
	if !p.Apply(1, moveRight()) {
		t.Fatalf("apply failed")
	}
	if got := p.Position(); got.X != 11 {
		t.Fatalf("expected immediate local application, got %+v", got)
	}
	if p.PendingCount() != 1 {
		t.Fatalf("expected input retained for replay")
	}
}

func TestPredictorRequiresAuthoritativeBase(t *testing.T) {
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	if p.Apply(1, moveRight()) {
		t.Fatalf("expected apply to fail before first snapshot")
	}
	if p.Primed() {
		t.Fatalf("expected unprimed predictor")
	}
}

func TestReconcileFullAck(t *testing.T) {
	// The server has applied everything the client sent: no replay, local
	// position equals the server's.
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	p.SetAuthoritative(world.Position{X: 0, Y: 0})
	for seq := uint32(1); seq <= 5; seq++ {
		p.Apply(seq, moveRight())
	}
	got := p.Reconcile(world.Position{X: 5, Y: 0}, 5)
	if got.X != 5 || got.Y != 0 {
		t.Fatalf("expected authoritative position with nothing to replay, got %+v", got)
	}
	if p.PendingCount() != 0 {
		t.Fatalf("expected empty buffer after full ack, got %d", p.PendingCount())
	}
}

func TestReconcilePartialAckReplays(t *testing.T) {
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	p.SetAuthoritative(world.Position{X: 0, Y: 0})
	for seq := uint32(1); seq <= 5; seq++ {
		p.Apply(seq, moveRight())
	}
	// Server has only applied through 3 and corrected the base sideways.
	got := p.Reconcile(world.Position{X: 3, Y: 1}, 3)
	if got.X != 5 || got.Y != 1 {
		t.Fatalf("expected authoritative base plus 2 replayed inputs, got %+v", got)
	}
	if p.PendingCount() != 2 {
		t.Fatalf("expected 2 retained inputs, got %d", p.PendingCount())
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	p.SetAuthoritative(world.Position{X: 0, Y: 0})
	for seq := uint32(1); seq <= 4; seq++ {
		p.Apply(seq, proto.InputData{Movement: [2]float64{0.5, 0.25}})
	}
	base := world.Position{X: 2, Y: 7}
	first := p.Reconcile(base, 2)
	second := p.Reconcile(base, 2)
	third := p.Reconcile(base, 2)
	if first != second || second != third {
		t.Fatalf("reconciliation drifted: %+v %+v %+v", first, second, third)
	}
}

func TestResetDiscardsState(t *testing.T) {
	p := NewPredictor(NewInputBuffer(16, nil), nil, nil, nil)
	p.SetAuthoritative(world.Position{X: 4, Y: 4})
	p.Apply(1, moveRight())
	p.Reset()
	if p.Primed() || p.PendingCount() != 0 {
		t.Fatalf("expected cleared predictor, primed=%v pending=%d", p.Primed(), p.PendingCount())
	}
	if got := p.Position(); got != (world.Position{}) {
		t.Fatalf("expected zero position after reset, got %+v", got)
	}
}

type recordingMetrics struct {
	added  map[string]uint64
	stored map[string]uint64
}

func (m *recordingMetrics) Add(key string, delta uint64) {
	if m.added == nil {
		m.added = make(map[string]uint64)
	}
	m.added[key] += delta
}

func (m *recordingMetrics) Store(key string, value uint64) {
	if m.stored == nil {
		m.stored = make(map[string]uint64)
	}
	m.stored[key] = value
}
