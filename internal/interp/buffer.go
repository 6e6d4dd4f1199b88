// Package interp smooths remote-entity motion by rendering a short,
// deliberate distance in the past and interpolating between the buffered
// authoritative samples that bracket that render time.
package interp

import (
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// DefaultDelay trades ~100ms of visual lag for smooth motion across
	// sparse server updates.
	DefaultDelay = 100 * time.Millisecond
	// DefaultMaxSamples bounds memory per entity; older samples are useless
	// once the render time has moved past them.
	DefaultMaxSamples = 32
)

// Config tunes one interpolation buffer.
type Config struct {
	Delay      time.Duration
	MaxSamples int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{Delay: DefaultDelay, MaxSamples: DefaultMaxSamples}
}

type sample struct {
	at  int64 // unix milliseconds, server timeline
	pos world.Position
}

// Buffer holds the timestamped position history for one remote entity.
// No extrapolation: with fewer than two usable samples the last known
// position is held.
type Buffer struct {
	cfg     Config
	samples []sample
}

// NewBuffer constructs an empty buffer.
func NewBuffer(cfg Config) *Buffer {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxSamples < 2 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	return &Buffer{cfg: cfg}
}

// Push appends an authoritative position observed at the given server time.
// Out-of-order samples are inserted in place; duplicates by timestamp
// overwrite, since the newer delivery carries the newer authority.
func (b *Buffer) Push(atMillis int64, pos world.Position) {
	idx := len(b.samples)
	for idx > 0 && b.samples[idx-1].at > atMillis {
		idx--
	}
	if idx > 0 && b.samples[idx-1].at == atMillis {
		b.samples[idx-1].pos = pos
		return
	}
	b.samples = append(b.samples, sample{})
	copy(b.samples[idx+1:], b.samples[idx:])
	b.samples[idx] = sample{at: atMillis, pos: pos}

	if len(b.samples) > b.cfg.MaxSamples {
		b.samples = b.samples[len(b.samples)-b.cfg.MaxSamples:]
	}
}

// Sample reports the position to render at the given local-on-server-timeline
// time. The second return is false only when no sample has ever arrived.
func (b *Buffer) Sample(nowMillis int64) (world.Position, bool) {
	if len(b.samples) == 0 {
		return world.Position{}, false
	}
	renderTime := nowMillis - b.cfg.Delay.Milliseconds()

	// Drop samples that can no longer bracket the render time, keeping one
	// on the older side.
	for len(b.samples) >= 2 && b.samples[1].at <= renderTime {
		b.samples = b.samples[1:]
	}

	first := b.samples[0]
	if len(b.samples) == 1 || renderTime <= first.at {
		// Hold the nearest known position: newest when the render time has
		// outrun the history, oldest when it predates it.
		return first.pos, true
	}

	next := b.samples[1]
	span := next.at - first.at
	if span <= 0 {
		return next.pos, true
	}
	t := float64(renderTime-first.at) / float64(span)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return world.Position{
		X: first.pos.X + (next.pos.X-first.pos.X)*t,
		Y: first.pos.Y + (next.pos.Y-first.pos.Y)*t,
	}, true
}

// Len reports the retained sample count.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Reset drops all history, e.g. after a teleport or resync.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}
