package replication

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// DefaultKeyframeInterval is how many ticks pass between automatic
	// keyframe captures.
	DefaultKeyframeInterval = 60

	// DefaultSpawnHealth seeds new player avatars.
	DefaultSpawnHealth = 100

	tickMetricKey        = "replication_ticks_total"
	inputMetricKey       = "replication_inputs_applied_total"
	inputRejectMetricKey = "replication_inputs_rejected_total"
	keyframeMetricKey    = "replication_keyframes_total"
)

// Input validation failures. The server answers these with a typed Error
// message and never applies the offending command.
var (
	ErrUnknownEntity = errors.New("replication: unknown entity")
	ErrNotOwner      = errors.New("replication: connection does not own entity")
	ErrInvalidInput  = errors.New("replication: invalid input")
)

// Engine owns the canonical world. Every mutation funnels through the server
// tick loop, so the engine carries no locking of its own; the journal is the
// only internally synchronized piece because session readers may request
// keyframes directly.
type Engine struct {
	world      *world.World
	lastChange map[world.EntityID]time.Time
	tick       uint64

	journal          *Journal
	keyframeInterval uint64

	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// EngineConfig carries the replication tunables.
type EngineConfig struct {
	KeyframeInterval uint64
	KeyframeCapacity int
	KeyframeMaxAge   time.Duration
	Logger           telemetry.Logger
	Metrics          telemetry.Metrics
}

// NewEngine constructs an engine over an empty world.
func NewEngine(cfg EngineConfig) *Engine {
	interval := cfg.KeyframeInterval
	if interval == 0 {
		interval = DefaultKeyframeInterval
	}
	return &Engine{
		world:            world.New(),
		lastChange:       make(map[world.EntityID]time.Time),
		journal:          NewJournal(cfg.KeyframeCapacity, cfg.KeyframeMaxAge),
		keyframeInterval: interval,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
	}
}

// World exposes the canonical world to the tick loop.
func (e *Engine) World() *world.World {
	return e.world
}

// Tick reports the current simulation tick.
func (e *Engine) Tick() uint64 {
	return e.tick
}

// Journal exposes the keyframe buffer for resync requests.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// SpawnPlayer creates the avatar entity for a connection and records
// ownership. The full component set is returned so the hub can announce the
// spawn.
func (e *Engine) SpawnPlayer(connectionID, name string, at time.Time) (world.EntityID, world.ComponentSet) {
	id := e.world.Spawn(
		world.NewPosition(0, 0),
		world.NewVelocity(0, 0),
		world.NewHealth(DefaultSpawnHealth, DefaultSpawnHealth),
		world.NewSprite("player", true),
		world.NewPlayerInfo(connectionID, name),
	)
	e.world.SetOwner(id, connectionID)
	e.markChanged(id, at)
	components, _ := e.world.Components(id)
	return id, components
}

// AdoptEntity re-binds an existing entity to a resumed connection. It fails
// when the entity no longer exists, in which case the caller falls back to a
// fresh spawn.
func (e *Engine) AdoptEntity(id world.EntityID, connectionID string, at time.Time) bool {
	if !e.world.Exists(id) {
		return false
	}
	e.world.SetOwner(id, connectionID)
	e.markChanged(id, at)
	return true
}

// ReleaseOwned destroys every entity owned by a connection and returns their
// ids so deletes can be broadcast to the remaining peers.
func (e *Engine) ReleaseOwned(connectionID string, at time.Time) []world.EntityID {
	ids := e.world.OwnedBy(connectionID)
	for _, id := range ids {
		e.world.Destroy(id)
		delete(e.lastChange, id)
	}
	if len(ids) > 0 && e.logger != nil {
		e.logger.Printf("replication: released %d entities for %s", len(ids), connectionID)
	}
	return ids
}

// ApplyInput validates and applies one input command for the connection's
// entity, returning the resulting authoritative position. Inputs referencing
// entities the connection does not own, or carrying non-finite movement, are
// rejected without side effects.
func (e *Engine) ApplyInput(connectionID string, entityID world.EntityID, in proto.InputData, at time.Time) (world.Position, error) {
	if !e.world.Exists(entityID) {
		e.rejectInput()
		return world.Position{}, fmt.Errorf("%w: %s", ErrUnknownEntity, entityID)
	}
	owner, ok := e.world.Owner(entityID)
	if !ok || owner != connectionID {
		e.rejectInput()
		return world.Position{}, fmt.Errorf("%w: %s", ErrNotOwner, entityID)
	}
	for _, v := range in.Movement {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			e.rejectInput()
			return world.Position{}, fmt.Errorf("%w: non-finite movement", ErrInvalidInput)
		}
	}
	posComp, ok := e.world.Component(entityID, world.ComponentPosition)
	if !ok || posComp.Position == nil {
		e.rejectInput()
		return world.Position{}, fmt.Errorf("%w: %s has no position", ErrUnknownEntity, entityID)
	}

	movement := world.ClampMovement(in.Movement)
	next := world.ApplyMovement(*posComp.Position, movement)
	if err := e.world.SetComponent(entityID, world.NewPosition(next.X, next.Y)); err != nil {
		return world.Position{}, err
	}
	if err := e.world.SetComponent(entityID, world.NewVelocity(movement[0], movement[1])); err != nil {
		return world.Position{}, err
	}
	e.markChanged(entityID, at)
	if e.metrics != nil {
		e.metrics.Add(inputMetricKey, 1)
	}
	return next, nil
}

// Advance ends one simulation tick, capturing a keyframe on the configured
// cadence.
func (e *Engine) Advance(at time.Time) {
	e.tick++
	if e.metrics != nil {
		e.metrics.Add(tickMetricKey, 1)
	}
	if e.tick%e.keyframeInterval == 0 {
		e.CaptureKeyframe(at)
	}
}

// CaptureKeyframe snapshots the world into the journal and returns the
// keyframe sequence.
func (e *Engine) CaptureKeyframe(at time.Time) uint64 {
	seq := e.journal.Record(e.tick, at, e.world.Snapshot())
	if e.metrics != nil {
		e.metrics.Add(keyframeMetricKey, 1)
	}
	return seq
}

// LastChange reports when the entity last mutated. Zero time when unknown.
func (e *Engine) LastChange(id world.EntityID) time.Time {
	return e.lastChange[id]
}

func (e *Engine) markChanged(id world.EntityID, at time.Time) {
	e.lastChange[id] = at
}

func (e *Engine) rejectInput() {
	if e.metrics != nil {
		e.metrics.Add(inputRejectMetricKey, 1)
	}
}

// ErrorCodeFor maps an input rejection onto its wire error code.
func ErrorCodeFor(err error) uint32 {
	switch {
	case errors.Is(err, ErrUnknownEntity):
		return proto.ErrorCodeUnknownEntity
	case errors.Is(err, ErrNotOwner):
		return proto.ErrorCodeNotOwner
	case errors.Is(err, ErrInvalidInput):
		return proto.ErrorCodeInvalidInput
	default:
		return proto.ErrorCodeProtocol
	}
}
