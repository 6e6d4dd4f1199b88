package world

import (
	"fmt"

	"github.com/google/uuid"
)

// EntityID is an opaque identifier scoped to one world instance. Identifiers
// are never reused while a live connection may still reference them.
type EntityID string

// NewEntityID mints a fresh identifier.
func NewEntityID() EntityID {
	return EntityID(uuid.NewString())
}

// ComponentSet maps component kinds to their current values for one entity.
type ComponentSet map[ComponentKind]Component

// Clone deep-copies the set.
func (s ComponentSet) Clone() ComponentSet {
	if s == nil {
		return nil
	}
	out := make(ComponentSet, len(s))
	for kind, component := range s {
		out[kind] = component.Clone()
	}
	return out
}

// World stores entities and their components. It carries no locking: the
// owning loop (server tick or client update) is the only mutator, per the
// single-writer rule.
type World struct {
	entities map[EntityID]ComponentSet
	owners   map[EntityID]string
}

// New creates an empty world.
func New() *World {
	return &World{
		entities: make(map[EntityID]ComponentSet),
		owners:   make(map[EntityID]string),
	}
}

// Spawn registers a new entity with the provided components and returns its id.
func (w *World) Spawn(components ...Component) EntityID {
	id := NewEntityID()
	w.SpawnWithID(id, components...)
	return id
}

// SpawnWithID registers an entity under a caller-supplied id. Used when a
// client materializes entities announced by the server.
func (w *World) SpawnWithID(id EntityID, components ...Component) {
	set := make(ComponentSet, len(components))
	for _, component := range components {
		set[component.Kind] = component.Clone()
	}
	w.entities[id] = set
}

// Destroy removes the entity and its ownership record.
func (w *World) Destroy(id EntityID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	delete(w.owners, id)
	return true
}

// Exists reports whether the entity is live.
func (w *World) Exists(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// Len reports the number of live entities.
func (w *World) Len() int {
	return len(w.entities)
}

// SetComponent stores or replaces one component on an entity.
func (w *World) SetComponent(id EntityID, component Component) error {
	set, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("set component %q: unknown entity %s", component.Kind, id)
	}
	set[component.Kind] = component.Clone()
	return nil
}

// Component fetches one component by kind.
func (w *World) Component(id EntityID, kind ComponentKind) (Component, bool) {
	set, ok := w.entities[id]
	if !ok {
		return Component{}, false
	}
	component, ok := set[kind]
	if !ok {
		return Component{}, false
	}
	return component.Clone(), true
}

// Components returns a deep copy of an entity's component set.
func (w *World) Components(id EntityID) (ComponentSet, bool) {
	set, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	return set.Clone(), true
}

// Entities lists all live entity ids. Order is unspecified.
func (w *World) Entities() []EntityID {
	ids := make([]EntityID, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	return ids
}

// SetOwner records the connection that may submit inputs for this entity.
// Ownership lives in this side table; component data never references
// sessions, avoiding cyclic ownership between world and connection state.
func (w *World) SetOwner(id EntityID, connectionID string) {
	if _, ok := w.entities[id]; !ok {
		return
	}
	w.owners[id] = connectionID
}

// Owner reports the owning connection id, if any.
func (w *World) Owner(id EntityID) (string, bool) {
	owner, ok := w.owners[id]
	return owner, ok
}

// OwnedBy lists the entities owned by one connection.
func (w *World) OwnedBy(connectionID string) []EntityID {
	ids := make([]EntityID, 0, 1)
	for id, owner := range w.owners {
		if owner == connectionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Snapshot deep-copies every entity's component set.
func (w *World) Snapshot() map[EntityID]ComponentSet {
	out := make(map[EntityID]ComponentSet, len(w.entities))
	for id, set := range w.entities {
		out[id] = set.Clone()
	}
	return out
}
