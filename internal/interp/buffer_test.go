package interp

import (
	"testing"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

func TestLinearInterpolationBetweenSamples(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	b.Push(1000, world.Position{X: 0, Y: 0})
	b.Push(1100, world.Position{X: 10, Y: 0})

	// Render time 1050 = now 1150 minus the 100ms delay.
	pos, ok := b.Sample(1150)
	if !ok {
		t.Fatalf("expected a sample")
	}
	if pos.X != 5 || pos.Y != 0 {
		t.Fatalf("expected midpoint x=5, got %+v", pos)
	}
}

func TestInterpolationContinuityAtBoundaries(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	b.Push(1000, world.Position{X: 0, Y: 0})
	b.Push(1100, world.Position{X: 10, Y: 0})
	b.Push(1200, world.Position{X: 30, Y: 0})

	// Walk the render time across the t=1100 boundary in 10ms steps and
	// require no jumps larger than the segment slope allows.
	prev, ok := b.Sample(1100 + 100)
	if !ok {
		t.Fatalf("expected a sample")
	}
	for now := int64(1210); now <= 1300; now += 10 {
		pos, ok := b.Sample(now)
		if !ok {
			t.Fatalf("expected a sample at now=%d", now)
		}
		step := pos.X - prev.X
		if step < 0 || step > 2.001 {
			t.Fatalf("discontinuity at now=%d: step %f", now, step)
		}
		prev = pos
	}
	if prev.X != 30 {
		t.Fatalf("expected to land on final sample, got %+v", prev)
	}
}

func TestHoldsLastPositionWithoutBracket(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	b.Push(1000, world.Position{X: 7, Y: 3})

	// Only one sample: hold it, never extrapolate.
	pos, ok := b.Sample(5000)
	if !ok || pos.X != 7 || pos.Y != 3 {
		t.Fatalf("expected held position, got %+v (ok=%v)", pos, ok)
	}

	// Render time beyond all samples: still held at the newest.
	b.Push(1100, world.Position{X: 9, Y: 3})
	pos, ok = b.Sample(9000)
	if !ok || pos.X != 9 {
		t.Fatalf("expected hold at newest sample, got %+v (ok=%v)", pos, ok)
	}
}

func TestNoSamples(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	if _, ok := b.Sample(1000); ok {
		t.Fatalf("expected no position before any sample")
	}
}

func TestOldSamplesDiscarded(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	for i := int64(0); i < 10; i++ {
		b.Push(1000+i*100, world.Position{X: float64(i), Y: 0})
	}
	// Render far enough that only the last bracketing pair is needed.
	if _, ok := b.Sample(1000 + 900 + 100); !ok {
		t.Fatalf("expected a sample")
	}
	if b.Len() > 2 {
		t.Fatalf("expected stale samples to be discarded, still have %d", b.Len())
	}
}

func TestOutOfOrderPush(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	b.Push(1100, world.Position{X: 10, Y: 0})
	b.Push(1000, world.Position{X: 0, Y: 0})

	pos, ok := b.Sample(1150)
	if !ok || pos.X != 5 {
		t.Fatalf("expected interpolation across reordered samples, got %+v (ok=%v)", pos, ok)
	}
}

func TestDuplicateTimestampOverwrites(t *testing.T) {
	b := NewBuffer(Config{Delay: 100 * time.Millisecond})
	b.Push(1000, world.Position{X: 1, Y: 1})
	b.Push(1000, world.Position{X: 2, Y: 2})
	if b.Len() != 1 {
		t.Fatalf("expected overwrite, got %d samples", b.Len())
	}
	pos, ok := b.Sample(1100)
	if !ok || pos.X != 2 {
		t.Fatalf("expected newer authority to win, got %+v (ok=%v)", pos, ok)
	}
}

func TestReset(t *testing.T) {
	b := NewBuffer(DefaultConfig())
	b.Push(1000, world.Position{X: 1, Y: 1})
	b.Reset()
	if _, ok := b.Sample(2000); ok {
		t.Fatalf("expected empty buffer after reset")
	}
}
