package replication

import (
	"sort"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/netquality"
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

// View tracks what one connection has been told about the world and computes
// the delta messages that close the gap. It is owned by the tick loop.
type View struct {
	viewer     world.EntityID
	known      map[world.EntityID]world.ComponentSet
	controller *netquality.Controller
}

// NewView constructs a view for a connection whose primary entity is viewer.
// The monitor feeds bandwidth degradation handling; nil disables it.
func NewView(viewer world.EntityID, monitor *netquality.Monitor) *View {
	return &View{
		viewer:     viewer,
		known:      make(map[world.EntityID]world.ComponentSet),
		controller: netquality.NewController(monitor),
	}
}

// Collect diffs the canonical world against what this connection already
// knows and returns the messages to send, in an order that reconstructs the
// world when applied to an empty one: deletes, then creates with their full
// component set, then component deltas. Low-priority updates may be deferred
// by the bandwidth controller; the underlying change stays pending, so
// delivery is delayed rather than dropped. Sequence and timestamp stamping is
// left to the session.
func (v *View) Collect(e *Engine, now time.Time) []proto.Message {
	if v == nil || e == nil {
		return nil
	}
	var out []proto.Message

	live := e.World().Snapshot()

	for _, id := range sortedIDs(v.known) {
		if _, ok := live[id]; ok {
			continue
		}
		delete(v.known, id)
		v.controller.Forget(id)
		out = append(out, proto.Message{Type: proto.TypeEntityDelete, EntityID: id})
	}

	viewerPos := v.viewerPosition(live)

	for _, id := range sortedIDs(live) {
		set := live[id]
		known, seen := v.known[id]
		if !seen {
			// Creates always go out in full; a partial first picture would
			// break the delta chain.
			out = append(out,
				proto.Message{Type: proto.TypeEntityCreate, EntityID: id},
				proto.Message{Type: proto.TypeComponentUpdate, EntityID: id, Components: set.Clone()},
			)
			v.known[id] = set.Clone()
			v.controller.AllowSend(id, netquality.PriorityCritical, now)
			continue
		}

		changed := diffComponents(known, set)
		if len(changed) == 0 {
			continue
		}
		priority := v.priorityFor(e, id, set, viewerPos, now)
		if !v.controller.AllowSend(id, priority, now) {
			continue
		}
		out = append(out, proto.Message{Type: proto.TypeComponentUpdate, EntityID: id, Components: changed})
		v.known[id] = set.Clone()
	}
	return out
}

// Reset forgets everything the connection knows, forcing the next Collect to
// re-announce the full world. Used after a keyframe resync.
func (v *View) Reset() {
	if v == nil {
		return
	}
	v.known = make(map[world.EntityID]world.ComponentSet)
}

// KnownCount reports how many entities the connection has been told about.
func (v *View) KnownCount() int {
	if v == nil {
		return 0
	}
	return len(v.known)
}

func (v *View) priorityFor(e *Engine, id world.EntityID, set world.ComponentSet, viewerPos world.Position, now time.Time) netquality.Priority {
	// The connection's own entity is always critical: reconciliation stalls
	// without prompt acks.
	if id == v.viewer {
		return netquality.PriorityCritical
	}
	pos := viewerPos
	if comp, ok := set[world.ComponentPosition]; ok && comp.Position != nil {
		pos = *comp.Position
	}
	return netquality.Classify(pos, viewerPos, now.Sub(e.LastChange(id)))
}

func (v *View) viewerPosition(live map[world.EntityID]world.ComponentSet) world.Position {
	if set, ok := live[v.viewer]; ok {
		if comp, ok := set[world.ComponentPosition]; ok && comp.Position != nil {
			return *comp.Position
		}
	}
	return world.Position{}
}

func diffComponents(known, current world.ComponentSet) world.ComponentSet {
	var changed world.ComponentSet
	for kind, component := range current {
		prev, ok := known[kind]
		if ok && prev.Equal(component) {
			continue
		}
		if changed == nil {
			changed = make(world.ComponentSet)
		}
		changed[kind] = component.Clone()
	}
	return changed
}

func sortedIDs[V any](m map[world.EntityID]V) []world.EntityID {
	ids := make([]world.EntityID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
