package netquality

import (
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/world"
)

// Priority classifies an outbound entity update for one receiving connection.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String implements fmt.Stringer for diagnostics output.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

const (
	// NearRadius is the distance within which changes matter most to the
	// receiver.
	NearRadius = 16.0
	// FarRadius bounds the normal-interest zone.
	FarRadius = 64.0
	// FreshChangeAge marks a change recent enough to escalate priority.
	FreshChangeAge = 150 * time.Millisecond
)

// Minimum send intervals per priority tier. Critical updates are never
// throttled.
var tierIntervals = map[Priority]time.Duration{
	PriorityCritical: 0,
	PriorityHigh:     100 * time.Millisecond,
	PriorityNormal:   200 * time.Millisecond,
	PriorityLow:      500 * time.Millisecond,
}

// Classify derives a priority tier from the distance between the candidate
// entity and the receiver's primary entity, and from how recently the
// candidate changed.
func Classify(from, to world.Position, changeAge time.Duration) Priority {
	dx := from.X - to.X
	dy := from.Y - to.Y
	distSq := dx*dx + dy*dy
	fresh := changeAge <= FreshChangeAge
	switch {
	case distSq <= NearRadius*NearRadius && fresh:
		return PriorityCritical
	case distSq <= NearRadius*NearRadius || fresh:
		return PriorityHigh
	case distSq <= FarRadius*FarRadius:
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// Controller throttles per-entity outbound updates for one connection. It is
// owned by the tick loop and needs no locking.
type Controller struct {
	monitor  *Monitor
	lastSent map[world.EntityID]time.Time
}

// NewController constructs a controller fed by the given monitor. A nil
// monitor disables degradation handling.
func NewController(monitor *Monitor) *Controller {
	return &Controller{
		monitor:  monitor,
		lastSent: make(map[world.EntityID]time.Time),
	}
}

// AllowSend reports whether an update for the entity may go out now at the
// given priority, and records the send when allowed. Under degraded quality
// the minimum interval for non-critical tiers doubles; messages are delayed,
// never dropped.
func (c *Controller) AllowSend(id world.EntityID, priority Priority, now time.Time) bool {
	if c == nil {
		return true
	}
	interval := tierIntervals[priority]
	if priority != PriorityCritical && c.monitor != nil && c.monitor.Degraded() {
		interval *= 2
	}
	if interval > 0 {
		if last, ok := c.lastSent[id]; ok && now.Sub(last) < interval {
			return false
		}
	}
	c.lastSent[id] = now
	return true
}

// Forget drops throttle state for a deleted entity.
func (c *Controller) Forget(id world.EntityID) {
	if c == nil {
		return
	}
	delete(c.lastSent, id)
}
