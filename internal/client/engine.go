// Package client implements the player-side half of the synchronization
// protocol: it maintains a local replica of the server's world, predicts the
// owned avatar's motion from unacknowledged inputs, interpolates every remote
// entity a fixed delay in the past, and keeps the local clock mapped onto the
// server timeline.
package client

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/interp"
	"github.com/eda3/ecs-wasm-game3/internal/netquality"
	"github.com/eda3/ecs-wasm-game3/internal/prediction"
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/session"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/timesync"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// DefaultPingInterval paces client-initiated RTT probes.
	DefaultPingInterval = 3 * time.Second

	reconcileMetricKey = "client_reconciliations_total"
	resyncMetricKey    = "client_resync_requests_total"
	droppedMetricKey   = "client_unknown_entity_updates_total"
)

// Config tunes one client engine. Zero values take the package defaults.
type Config struct {
	Name           string
	InterpDelay    time.Duration
	InterpSamples  int
	InputCapacity  int
	TimeSyncWindow int
	TimeSyncEvery  time.Duration
	PingInterval   time.Duration
	Clock          telemetry.Clock
	Logger         telemetry.Logger
	Metrics        telemetry.Metrics
}

// RenderEntity is one entry of the read-only render snapshot.
type RenderEntity struct {
	Position world.Position
	Sprite   *world.Sprite
	Owned    bool
}

// Engine drives the client side of a session. Message handling and snapshot
// reads may come from different goroutines (a transport reader and a render
// loop), so all state sits behind one mutex.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	clock   telemetry.Clock
	logger  telemetry.Logger
	metrics telemetry.Metrics

	state      session.State
	playerID   string
	token      string
	schemaHash string

	entityID  world.EntityID
	world     *world.World
	predictor *prediction.Predictor
	buffers   map[world.EntityID]*interp.Buffer

	clockSync *timesync.Synchronizer
	monitor   *netquality.Monitor

	outSeq      uint32
	lastInbound uint32
	haveInbound bool
	lastPing    time.Time
	lastIdle    bool
	keyframeSeq uint64
	resyncing   bool
	outbox      []proto.Message
}

// New constructs a disconnected engine.
func New(cfg Config) *Engine {
	if cfg.InterpDelay <= 0 {
		cfg.InterpDelay = interp.DefaultDelay
	}
	if cfg.InterpSamples <= 0 {
		cfg.InterpSamples = interp.DefaultMaxSamples
	}
	if cfg.InputCapacity <= 0 {
		cfg.InputCapacity = prediction.DefaultCapacity
	}
	if cfg.TimeSyncWindow <= 0 {
		cfg.TimeSyncWindow = timesync.DefaultWindow
	}
	if cfg.TimeSyncEvery <= 0 {
		cfg.TimeSyncEvery = timesync.DefaultInterval
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = telemetry.SystemClock{}
	}
	buffer := prediction.NewInputBuffer(cfg.InputCapacity, cfg.Metrics)
	return &Engine{
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		state:     session.StateDisconnected,
		world:     world.New(),
		predictor: prediction.NewPredictor(buffer, nil, cfg.Logger, cfg.Metrics),
		buffers:   make(map[world.EntityID]*interp.Buffer),
		clockSync: timesync.New(cfg.TimeSyncWindow, cfg.TimeSyncEvery),
		monitor:   netquality.NewMonitor(),
	}
}

// ConnectMessage builds the opening handshake. A retained resume token from a
// previous session is attached automatically.
func (e *Engine) ConnectMessage() proto.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = session.StateConnecting
	msg, ok := e.newMessageLocked(proto.TypeConnect)
	if !ok {
		return proto.Message{}
	}
	msg.PlayerID = e.cfg.Name
	msg.Token = e.token
	return msg
}

// DisconnectMessage builds a graceful goodbye.
func (e *Engine) DisconnectMessage(reason string) proto.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	msg, ok := e.newMessageLocked(proto.TypeDisconnect)
	if !ok {
		return proto.Message{}
	}
	msg.Reason = reason
	return msg
}

// HandleFrame decodes one transport delivery and applies every message in it.
// Decode failures are surfaced to the caller, which tracks them against its
// error budget.
func (e *Engine) HandleFrame(payload []byte) error {
	msgs, err := proto.DecodeBatch(payload)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if err := e.Apply(msg); err != nil {
			return err
		}
	}
	return nil
}

// Apply folds one server message into the replica.
func (e *Engine) Apply(msg proto.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.monitor.ObserveSequence(msg.Sequence)

	// The transport can replay or reorder deliveries. A sequence at or
	// below the last accepted one would roll the replica backwards, so it
	// is a no-op after the loss accounting above.
	if e.haveInbound && msg.Sequence <= e.lastInbound {
		return nil
	}
	e.haveInbound = true
	e.lastInbound = msg.Sequence

	switch msg.Type {
	case proto.TypeConnectResponse:
		return e.applyConnectResponseLocked(msg)
	case proto.TypeEntityCreate:
		e.applyEntityCreateLocked(msg)
	case proto.TypeEntityDelete:
		e.applyEntityDeleteLocked(msg)
	case proto.TypeComponentUpdate:
		e.applyComponentUpdateLocked(msg)
	case proto.TypeKeyframe:
		e.applyKeyframeLocked(msg)
	case proto.TypeTimeSync:
		e.applyTimeSyncLocked(msg)
	case proto.TypePing:
		e.applyPingLocked(msg)
	case proto.TypePong:
		e.applyPongLocked(msg)
	case proto.TypeError:
		e.applyErrorLocked(msg)
	case proto.TypeDisconnect:
		e.state = session.StateDisconnected
	default:
		if e.logger != nil {
			e.logger.Printf("client: ignoring message type %q", msg.Type)
		}
	}
	return nil
}

func (e *Engine) applyConnectResponseLocked(msg proto.Message) error {
	if msg.Success == nil || !*msg.Success {
		e.state = session.StateFaulted
		return fmt.Errorf("connect rejected: %s", msg.Reason)
	}
	e.playerID = msg.PlayerID
	if msg.Token != "" {
		e.token = msg.Token
	}
	e.schemaHash = msg.SchemaHash
	e.state = session.StateConnected
	if e.logger != nil {
		e.logger.Printf("client: connected as %s", e.playerID)
	}
	return nil
}

func (e *Engine) applyEntityCreateLocked(msg proto.Message) {
	if e.world.Exists(msg.EntityID) {
		return
	}
	e.world.SpawnWithID(msg.EntityID)
	e.storeComponentsLocked(msg.EntityID, msg.Components, msg)
}

func (e *Engine) applyEntityDeleteLocked(msg proto.Message) {
	e.world.Destroy(msg.EntityID)
	delete(e.buffers, msg.EntityID)
	if msg.EntityID == e.entityID {
		e.entityID = ""
		e.predictor.Reset()
	}
}

func (e *Engine) applyComponentUpdateLocked(msg proto.Message) {
	if !e.world.Exists(msg.EntityID) {
		// The delta chain references an entity this replica never saw.
		// Request a snapshot rather than guessing at its state.
		if e.metrics != nil {
			e.metrics.Add(droppedMetricKey, 1)
		}
		e.requestResyncLocked()
		return
	}
	e.storeComponentsLocked(msg.EntityID, msg.Components, msg)
}

// storeComponentsLocked writes components into the replica and routes the
// Position through prediction (own avatar) or interpolation (remote).
func (e *Engine) storeComponentsLocked(id world.EntityID, components world.ComponentSet, msg proto.Message) {
	for _, component := range components {
		_ = e.world.SetComponent(id, component)
	}

	// A PlayerInfo naming this player identifies the avatar entity.
	if info, ok := components[world.ComponentPlayerInfo]; ok && info.PlayerInfo != nil {
		if e.playerID != "" && info.PlayerInfo.PlayerID == e.playerID {
			e.entityID = id
		}
	}

	pos, hasPos := components[world.ComponentPosition]
	if !hasPos || pos.Position == nil {
		return
	}

	if id == e.entityID && e.entityID != "" {
		e.reconcileLocked(*pos.Position, msg.Ack)
		return
	}

	buf, ok := e.buffers[id]
	if !ok {
		buf = interp.NewBuffer(interp.Config{Delay: e.cfg.InterpDelay, MaxSamples: e.cfg.InterpSamples})
		e.buffers[id] = buf
	}
	buf.Push(msg.Timestamp, *pos.Position)
}

func (e *Engine) reconcileLocked(authoritative world.Position, ack *uint32) {
	if !e.predictor.Primed() {
		e.predictor.SetAuthoritative(authoritative)
		return
	}
	if ack == nil {
		// A correction without an ack cannot anchor replay; take it as-is
		// when nothing is pending, otherwise wait for an acked update.
		if e.predictor.PendingCount() == 0 {
			e.predictor.SetAuthoritative(authoritative)
		}
		return
	}
	corrected := e.predictor.Reconcile(authoritative, *ack)
	_ = e.world.SetComponent(e.entityID, world.NewPosition(corrected.X, corrected.Y))
	if e.metrics != nil {
		e.metrics.Add(reconcileMetricKey, 1)
	}
}

// applyKeyframeLocked replaces the replica wholesale. Interpolation history
// predates the snapshot and is discarded with it.
func (e *Engine) applyKeyframeLocked(msg proto.Message) {
	e.world = world.New()
	for id, set := range msg.Entities {
		e.world.SpawnWithID(id)
		for _, component := range set {
			_ = e.world.SetComponent(id, component)
		}
	}
	for id, buf := range e.buffers {
		if !e.world.Exists(id) {
			delete(e.buffers, id)
			continue
		}
		buf.Reset()
	}
	if msg.KeyframeSeq != nil {
		e.keyframeSeq = *msg.KeyframeSeq
	}
	e.resyncing = false

	e.entityID = ""
	for id, set := range msg.Entities {
		info, ok := set[world.ComponentPlayerInfo]
		if !ok || info.PlayerInfo == nil || info.PlayerInfo.PlayerID != e.playerID {
			continue
		}
		e.entityID = id
		if pos, ok := set[world.ComponentPosition]; ok && pos.Position != nil {
			if msg.Ack != nil {
				corrected := e.predictor.Reconcile(*pos.Position, *msg.Ack)
				_ = e.world.SetComponent(id, world.NewPosition(corrected.X, corrected.Y))
			} else {
				e.predictor.Reset()
				e.predictor.SetAuthoritative(*pos.Position)
			}
		}
		break
	}
	if e.logger != nil {
		e.logger.Printf("client: applied keyframe seq=%d entities=%d", e.keyframeSeq, e.world.Len())
	}
}

func (e *Engine) applyTimeSyncLocked(msg proto.Message) {
	if msg.ClientTime == nil || msg.ServerTime == nil {
		return
	}
	sample := timesync.Sample{
		ClientSend:    *msg.ClientTime,
		ServerTime:    *msg.ServerTime,
		ClientReceive: e.clock.Now().UnixMilli(),
	}
	if err := e.clockSync.Record(sample); err != nil && e.logger != nil {
		e.logger.Printf("client: rejected time sample: %v", err)
	}
}

// applyPingLocked answers a server liveness probe. The server's timestamp is
// echoed back so it can measure the round trip.
func (e *Engine) applyPingLocked(msg proto.Message) {
	reply, ok := e.newMessageLocked(proto.TypePong)
	if !ok {
		return
	}
	reply.ClientTime = proto.I64Ptr(e.clock.Now().UnixMilli())
	reply.ServerTime = msg.ServerTime
	e.outbox = append(e.outbox, reply)
}

func (e *Engine) applyPongLocked(msg proto.Message) {
	if msg.ClientTime == nil {
		return
	}
	rtt := e.clock.Now().UnixMilli() - *msg.ClientTime
	if rtt >= 0 {
		e.monitor.RecordRTT(float64(rtt))
	}
}

func (e *Engine) applyErrorLocked(msg proto.Message) {
	code := uint32(0)
	if msg.Code != nil {
		code = *msg.Code
	}
	if e.logger != nil {
		e.logger.Printf("client: server error code=%d: %s", code, msg.Message)
	}
	switch code {
	case proto.ErrorCodeBadToken:
		e.token = ""
	case proto.ErrorCodeUnknownEntity:
		e.requestResyncLocked()
	}
}

// requestResyncLocked queues one KeyframeRequest. Repeats are suppressed
// until the snapshot arrives; a burst of orphaned deltas should not turn
// into a burst of requests.
func (e *Engine) requestResyncLocked() {
	if e.resyncing {
		return
	}
	msg, ok := e.newMessageLocked(proto.TypeKeyframeRequest)
	if !ok {
		return
	}
	e.resyncing = true
	msg.KeyframeSeq = proto.U64Ptr(e.keyframeSeq + 1)
	e.outbox = append(e.outbox, msg)
	if e.metrics != nil {
		e.metrics.Add(resyncMetricKey, 1)
	}
	if e.logger != nil {
		e.logger.Printf("client: requesting resync after keyframe %d", e.keyframeSeq)
	}
}

// SendInput stamps player intent with the next sequence number and applies it
// to the predicted position immediately. The second return is false when the
// input could not be applied locally; the message is still valid to send.
// Consecutive idle inputs are coalesced: the first one is sent so the server
// zeroes the avatar's velocity, repeats carry no information and are dropped
// with a zero-valued message.
func (e *Engine) SendInput(in proto.InputData) (proto.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in.Movement = world.ClampMovement(in.Movement)

	idle := in.Movement == [2]float64{} && len(in.Actions) == 0
	if idle && e.lastIdle {
		return proto.Message{}, false
	}
	msg, ok := e.newMessageLocked(proto.TypeInput)
	if !ok {
		return proto.Message{}, false
	}
	e.lastIdle = idle
	msg.EntityID = e.entityID
	msg.InputData = &in

	applied := false
	if e.entityID != "" && e.predictor.Apply(msg.Sequence, in) {
		predicted := e.predictor.Position()
		_ = e.world.SetComponent(e.entityID, world.NewPosition(predicted.X, predicted.Y))
		applied = true
	}
	return msg, applied
}

// Update runs the periodic client work and returns every message that should
// go to the server now: queued replies, due time-sync exchanges, and due
// pings.
func (e *Engine) Update(now time.Time) []proto.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.outbox
	e.outbox = nil

	if e.state == session.StateConnected {
		if e.clockSync.Due(now) {
			if msg, ok := e.newMessageLocked(proto.TypeTimeSync); ok {
				msg.ClientTime = proto.I64Ptr(now.UnixMilli())
				out = append(out, msg)
				e.clockSync.MarkSynced(now)
			}
		}
		if e.lastPing.IsZero() || now.Sub(e.lastPing) >= e.cfg.PingInterval {
			if msg, ok := e.newMessageLocked(proto.TypePing); ok {
				msg.ClientTime = proto.I64Ptr(now.UnixMilli())
				out = append(out, msg)
				e.lastPing = now
			}
		}
	}
	return out
}

// Snapshot reports what to draw at the given local time: the predicted
// position for the owned avatar, an interpolated position for every remote
// entity, and the raw replica position where no motion history exists.
func (e *Engine) Snapshot(now time.Time) map[world.EntityID]RenderEntity {
	e.mu.Lock()
	defer e.mu.Unlock()

	serverNow := e.clockSync.ServerNow(now.UnixMilli())
	out := make(map[world.EntityID]RenderEntity, e.world.Len())
	for _, id := range e.world.Entities() {
		entry := RenderEntity{Owned: id == e.entityID}
		if sprite, ok := e.world.Component(id, world.ComponentSprite); ok && sprite.Sprite != nil {
			entry.Sprite = sprite.Sprite
		}
		switch {
		case entry.Owned && e.predictor.Primed():
			entry.Position = e.predictor.Position()
		default:
			if buf, ok := e.buffers[id]; ok {
				if pos, ok := buf.Sample(serverNow); ok {
					entry.Position = pos
					break
				}
			}
			if pos, ok := e.world.Component(id, world.ComponentPosition); ok && pos.Position != nil {
				entry.Position = *pos.Position
			}
		}
		out[id] = entry
	}
	return out
}

// newMessageLocked mints the next outbound message. The sequence space is a
// hard limit per direction: exhausting it faults the engine the same way the
// server faults its session, since a wrapped counter would break the ack
// ordering the prediction buffer relies on.
func (e *Engine) newMessageLocked(msgType proto.MessageType) (proto.Message, bool) {
	if e.state == session.StateFaulted {
		return proto.Message{}, false
	}
	if e.outSeq == math.MaxUint32 {
		e.state = session.StateFaulted
		if e.logger != nil {
			e.logger.Printf("client: outbound sequence space exhausted")
		}
		return proto.Message{}, false
	}
	e.outSeq++
	return proto.NewMessage(msgType, e.outSeq, e.clock.Now().UnixMilli()), true
}

// State reports the connection lifecycle state.
func (e *Engine) State() session.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// MarkReconnecting moves the engine into the reconnect path after a transport
// failure. Prediction state is dropped wholesale; the resume token survives.
func (e *Engine) MarkReconnecting() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = session.StateReconnecting
	// A fresh server session restarts its outbound sequence space.
	e.haveInbound = false
	e.lastInbound = 0
	e.predictor.Reset()
	for _, buf := range e.buffers {
		buf.Reset()
	}
}

// PlayerID reports the server-assigned player identity.
func (e *Engine) PlayerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playerID
}

// EntityID reports the owned avatar entity, if identified.
func (e *Engine) EntityID() world.EntityID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entityID
}

// Token reports the resume token for the next reconnect.
func (e *Engine) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

// SchemaHash reports the protocol schema fingerprint announced by the server.
func (e *Engine) SchemaHash() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schemaHash
}

// NetworkStatus reports the current link-quality estimate.
func (e *Engine) NetworkStatus() netquality.Status {
	return e.monitor.Snapshot()
}

// ClockOffset reports the estimated server-minus-client offset in
// milliseconds, false before the first completed exchange.
func (e *Engine) ClockOffset() (int64, bool) {
	return e.clockSync.Offset()
}

// PendingInputs reports the unacknowledged input count.
func (e *Engine) PendingInputs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictor.PendingCount()
}
