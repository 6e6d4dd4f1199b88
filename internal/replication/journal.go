package replication

import (
	"sync"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// DefaultKeyframeCapacity bounds the rolling keyframe buffer.
	DefaultKeyframeCapacity = 32
	// DefaultKeyframeMaxAge drops keyframes too stale to resync from.
	DefaultKeyframeMaxAge = 30 * time.Second
)

// Keyframe is a full world capture clients can rehydrate from when their
// delta stream falls behind.
type Keyframe struct {
	Seq      uint64
	Tick     uint64
	At       time.Time
	Entities map[world.EntityID]world.ComponentSet
}

// Journal keeps a rolling buffer of recent keyframes for diff recovery.
type Journal struct {
	mu        sync.RWMutex
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	nextSeq   uint64
}

// NewJournal constructs a journal with storage for the configured number of
// keyframes and retention window.
func NewJournal(keyframeCapacity int, maxAge time.Duration) *Journal {
	if keyframeCapacity < 1 {
		keyframeCapacity = DefaultKeyframeCapacity
	}
	if maxAge <= 0 {
		maxAge = DefaultKeyframeMaxAge
	}
	return &Journal{
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
	}
}

// Record captures a keyframe of the given world state and returns its
// sequence number.
func (j *Journal) Record(tick uint64, at time.Time, entities map[world.EntityID]world.ComponentSet) uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextSeq++
	j.keyframes = append(j.keyframes, Keyframe{
		Seq:      j.nextSeq,
		Tick:     tick,
		At:       at,
		Entities: entities,
	})
	j.pruneLocked(at)
	return j.nextSeq
}

func (j *Journal) pruneLocked(now time.Time) {
	cutoff := now.Add(-j.maxAge)
	trimmed := j.keyframes
	for len(trimmed) > 0 && trimmed[0].At.Before(cutoff) {
		trimmed = trimmed[1:]
	}
	if overflow := len(trimmed) - j.maxFrames; overflow > 0 {
		trimmed = trimmed[overflow:]
	}
	j.keyframes = trimmed
}

// BySeq returns the keyframe with the given sequence, if still retained.
func (j *Journal) BySeq(seq uint64) (Keyframe, bool) {
	if j == nil {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Seq == seq {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// Latest returns the most recent keyframe, if any.
func (j *Journal) Latest() (Keyframe, bool) {
	if j == nil {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return Keyframe{}, false
	}
	return j.keyframes[len(j.keyframes)-1], true
}

// Len reports the number of retained keyframes.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.keyframes)
}
