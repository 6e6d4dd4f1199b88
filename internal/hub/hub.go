package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/replication"
	"github.com/eda3/ecs-wasm-game3/internal/session"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/world"
	"github.com/eda3/ecs-wasm-game3/logging"
	lognet "github.com/eda3/ecs-wasm-game3/logging/network"
	logrepl "github.com/eda3/ecs-wasm-game3/logging/replication"
)

const (
	// DefaultTickRate is the authoritative simulation frequency.
	DefaultTickRate = 20
	// DefaultIntakeCapacity bounds the inbound funnel between connection
	// readers and the tick loop.
	DefaultIntakeCapacity = 1024

	intakeDropMetricKey    = "hub_intake_dropped_total"
	broadcastMetricKey     = "hub_broadcast_messages_total"
	pruneMetricKey         = "hub_sessions_pruned_total"
	disconnectMetricKey    = "hub_disconnects_total"
	connectMetricKey       = "hub_connects_total"
	resumeMetricKey        = "hub_resumes_total"
	decodeCloseMetricKey   = "hub_decode_budget_closes_total"
	inboundDropMetricKey   = "hub_stale_sequence_dropped_total"
	unknownTypeMetricKey   = "hub_unknown_message_type_total"
	keyframeServeMetricKey = "hub_keyframes_served_total"
	bytesSentMetricKey     = "hub_bytes_sent_total"
)

// inbound is one transport delivery funneled into the tick loop. World
// mutation happens only in the single-threaded apply phase, so connection
// readers never touch the engine directly.
type inbound struct {
	playerID string
	payload  []byte
	at       time.Time
}

// outbound is a reply or broadcast staged during the apply phase and written
// after the state lock is released.
type outbound struct {
	r     *remote
	msgs  []proto.Message
	batch bool
}

// Config carries the hub tunables.
type Config struct {
	TickRate          int
	InactivityTimeout time.Duration
	PingInterval      time.Duration
	DecodeErrorBudget int
	IntakeCapacity    int
	TokenKey          []byte

	KeyframeInterval uint64
	KeyframeCapacity int
	KeyframeMaxAge   time.Duration

	Clock     telemetry.Clock
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Publisher logging.Publisher
}

// Hub owns the authoritative server state: the replication engine, every
// live session, and the intake funnel. stateMu serializes all engine and
// registry mutation: the tick loop and the connect/disconnect paths take it
// once per entry, and network writes happen only after it is released.
type Hub struct {
	stateMu sync.Mutex
	remotes map[string]*remote

	engine *replication.Engine
	tokens *session.TokenIssuer
	intake chan inbound

	cfg       Config
	clock     telemetry.Clock
	logger    telemetry.Logger
	metrics   telemetry.Metrics
	publisher logging.Publisher

	nextID atomic.Uint64
}

// New constructs a hub with the given configuration.
func New(cfg Config) *Hub {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = session.DefaultInactivityTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = session.DefaultPingInterval
	}
	if cfg.IntakeCapacity <= 0 {
		cfg.IntakeCapacity = DefaultIntakeCapacity
	}
	clock := cfg.Clock
	if clock == nil {
		clock = telemetry.SystemClock{}
	}
	return &Hub{
		remotes: make(map[string]*remote),
		engine: replication.NewEngine(replication.EngineConfig{
			KeyframeInterval: cfg.KeyframeInterval,
			KeyframeCapacity: cfg.KeyframeCapacity,
			KeyframeMaxAge:   cfg.KeyframeMaxAge,
			Logger:           cfg.Logger,
			Metrics:          cfg.Metrics,
		}),
		tokens:    session.NewTokenIssuer(cfg.TokenKey, 0),
		intake:    make(chan inbound, cfg.IntakeCapacity),
		cfg:       cfg,
		clock:     clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		publisher: cfg.Publisher,
	}
}

// Engine exposes the replication engine for diagnostics.
func (h *Hub) Engine() *replication.Engine {
	return h.engine
}

// Connect registers a fresh connection. When the Connect message carries a
// valid resume token the previous identity and entity are reclaimed;
// otherwise a new player id is minted and an avatar spawned. The
// ConnectResponse goes out before any replication traffic.
func (h *Hub) Connect(conn Conn, msg proto.Message) (string, error) {
	now := h.clock.Now()

	playerID := ""
	var entityID world.EntityID
	resumed := false
	badToken := false

	if msg.Token != "" {
		tokenPlayer, tokenEntity, err := h.tokens.Verify(msg.Token)
		if err == nil {
			playerID = tokenPlayer
			entityID = tokenEntity
			resumed = true
		} else {
			badToken = true
		}
	}
	if playerID == "" {
		playerID = fmt.Sprintf("player-%d", h.nextID.Add(1))
	}

	h.stateMu.Lock()
	var displaced *remote
	if existing, ok := h.remotes[playerID]; ok {
		displaced = existing
		delete(h.remotes, playerID)
	}
	if resumed {
		resumed = h.engine.AdoptEntity(entityID, playerID, now)
	}
	if !resumed {
		entityID, _ = h.engine.SpawnPlayer(playerID, msg.PlayerID, now)
	}
	tick := h.engine.Tick()
	h.stateMu.Unlock()

	if displaced != nil {
		displaced.close()
	}
	if resumed && h.metrics != nil {
		h.metrics.Add(resumeMetricKey, 1)
	}

	sess := session.New(playerID, entityID, now, session.Config{
		DecodeErrorBudget: h.cfg.DecodeErrorBudget,
		Logger:            h.logger,
	})
	if err := sess.Transition(session.StateConnected); err != nil {
		return "", err
	}
	r := newRemote(sess, replication.NewView(entityID, sess.Monitor()), conn, h.metrics)

	if badToken {
		r.send(proto.Message{
			Type:    proto.TypeError,
			Code:    proto.U32Ptr(proto.ErrorCodeBadToken),
			Message: "invalid resume token",
		}, now.UnixMilli())
	}

	token, err := h.tokens.Issue(playerID, entityID, now)
	if err != nil {
		token = ""
	}
	hash, err := proto.SchemaHash()
	if err != nil {
		hash = ""
	}
	resp := proto.Message{
		Type:       proto.TypeConnectResponse,
		PlayerID:   playerID,
		Success:    proto.BoolPtr(true),
		Token:      token,
		SchemaHash: hash,
	}
	if !r.send(resp, now.UnixMilli()) {
		h.stateMu.Lock()
		h.engine.ReleaseOwned(playerID, now)
		h.stateMu.Unlock()
		conn.Close()
		return "", fmt.Errorf("hub: connect response write failed for %s", playerID)
	}

	h.stateMu.Lock()
	h.remotes[playerID] = r
	h.stateMu.Unlock()

	if h.metrics != nil {
		h.metrics.Add(connectMetricKey, 1)
	}
	if h.logger != nil {
		h.logger.Printf("hub: %s connected (entity %s, resumed=%v)", playerID, entityID, resumed)
	}
	lognet.Connected(context.Background(), h.publisher, tick, playerID, lognet.ConnectPayload{
		EntityID: string(entityID),
		Resumed:  resumed,
	})
	return playerID, nil
}

// Intake funnels one raw payload from a connection reader into the tick
// loop. A full queue answers with a QueueLimit error instead of blocking the
// reader.
func (h *Hub) Intake(playerID string, payload []byte) {
	now := h.clock.Now()
	select {
	case h.intake <- inbound{playerID: playerID, payload: payload, at: now}:
	default:
		if h.metrics != nil {
			h.metrics.Add(intakeDropMetricKey, 1)
		}
		h.stateMu.Lock()
		r := h.remotes[playerID]
		tick := h.engine.Tick()
		h.stateMu.Unlock()
		lognet.QueueOverflow(context.Background(), h.publisher, tick, playerID)
		if r != nil {
			r.send(proto.Message{
				Type:    proto.TypeError,
				Code:    proto.U32Ptr(proto.ErrorCodeQueueLimit),
				Message: "input queue full",
			}, now.UnixMilli())
		}
	}
}

// Run drives the tick loop until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	interval := time.Second / time.Duration(h.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Step()
		}
	}
}

// Step executes one tick: drain the intake funnel, advance the engine, prune
// idle sessions, and stage the broadcast. All state mutation happens under
// the lock; writes go out afterwards so a slow connection cannot stall the
// apply phase.
func (h *Hub) Step() {
	now := h.clock.Now()
	var outbox []outbound
	var dropped []dropRequest

	h.stateMu.Lock()

drain:
	for {
		select {
		case in := <-h.intake:
			outbox, dropped = h.applyLocked(in, outbox, dropped)
		default:
			break drain
		}
	}

	h.engine.Advance(now)

	for id, r := range h.remotes {
		if r.sess.Expired(now, h.cfg.InactivityTimeout) {
			if h.metrics != nil {
				h.metrics.Add(pruneMetricKey, 1)
			}
			logrepl.SessionExpired(context.Background(), h.publisher, h.engine.Tick(), id, r.sess.IdleFor(now).Milliseconds())
			dropped = append(dropped, dropRequest{playerID: id, reason: "inactivity timeout"})
		}
	}
	for _, drop := range dropped {
		h.disconnectLocked(drop.playerID, drop.reason, now)
	}

	outbox = h.broadcastLocked(now, outbox)
	outbox = h.pingsLocked(now, outbox)

	h.stateMu.Unlock()

	timestamp := now.UnixMilli()
	for _, out := range outbox {
		ok := true
		if out.batch {
			ok = out.r.sendBatch(out.msgs, timestamp)
		} else {
			for _, msg := range out.msgs {
				if !out.r.send(msg, timestamp) {
					ok = false
					break
				}
			}
		}
		if !ok {
			h.Disconnect(out.r.sess.ID(), "write failed")
		}
	}
}

type dropRequest struct {
	playerID string
	reason   string
}

// applyLocked dispatches one inbound delivery. Replies are staged on the
// outbox; sessions whose decode budget is exhausted are staged for drop.
func (h *Hub) applyLocked(in inbound, outbox []outbound, dropped []dropRequest) ([]outbound, []dropRequest) {
	r := h.remotes[in.playerID]
	if r == nil {
		return outbox, dropped
	}

	msgs, err := proto.DecodeBatch(in.payload)
	if err != nil {
		// A well-formed message of a type this build does not know comes
		// from a newer protocol revision. Skip it without charging the
		// error budget; only malformed traffic counts toward close.
		var derr *proto.DecodeError
		if errors.As(err, &derr) && derr.Kind == proto.DecodeUnrecognized {
			if h.metrics != nil {
				h.metrics.Add(unknownTypeMetricKey, 1)
			}
			r.sess.Touch(in.at)
			outbox = append(outbox, outbound{r: r, msgs: []proto.Message{{
				Type:    proto.TypeError,
				Code:    proto.U32Ptr(proto.ErrorCodeUnknownMessage),
				Message: derr.Error(),
			}}})
			return outbox, dropped
		}
		if r.sess.RecordDecodeError(err) {
			if h.metrics != nil {
				h.metrics.Add(decodeCloseMetricKey, 1)
			}
			lognet.DecodeBudgetExhausted(context.Background(), h.publisher, h.engine.Tick(), in.playerID, r.sess.DecodeErrors())
			dropped = append(dropped, dropRequest{playerID: in.playerID, reason: "decode error budget exhausted"})
		}
		return outbox, dropped
	}

	r.sess.Touch(in.at)
	for _, msg := range msgs {
		outbox, dropped = h.dispatchLocked(r, msg, in.at, outbox, dropped)
	}
	return outbox, dropped
}

func (h *Hub) dispatchLocked(r *remote, msg proto.Message, at time.Time, outbox []outbound, dropped []dropRequest) ([]outbound, []dropRequest) {
	reply := func(m proto.Message) {
		outbox = append(outbox, outbound{r: r, msgs: []proto.Message{m}})
	}

	// Sequence dedup covers the stateful message types. Time queries are
	// idempotent and answered regardless.
	switch msg.Type {
	case proto.TypeInput, proto.TypeKeyframeRequest, proto.TypeDisconnect:
		if !r.sess.AcceptInbound(msg.Sequence) {
			if h.metrics != nil {
				h.metrics.Add(inboundDropMetricKey, 1)
			}
			return outbox, dropped
		}
	}

	switch msg.Type {
	case proto.TypeInput:
		if msg.InputData == nil {
			reply(proto.Message{
				Type:    proto.TypeError,
				Code:    proto.U32Ptr(proto.ErrorCodeInvalidInput),
				Message: "input without payload",
			})
			break
		}
		if _, err := h.engine.ApplyInput(r.sess.ID(), r.sess.EntityID(), *msg.InputData, at); err != nil {
			reply(proto.Message{
				Type:    proto.TypeError,
				Code:    proto.U32Ptr(replication.ErrorCodeFor(err)),
				Message: "input rejected",
			})
		}
	case proto.TypeTimeSync:
		reply(proto.Message{
			Type:       proto.TypeTimeSync,
			ClientTime: msg.ClientTime,
			ServerTime: proto.I64Ptr(at.UnixMilli()),
		})
	case proto.TypePing:
		// Heartbeat: echo the client time so the client can measure RTT, and
		// keep a coarse server-side estimate for the degradation logic.
		if msg.ClientTime != nil {
			if est := at.UnixMilli() - *msg.ClientTime; est >= 0 && est < 5000 {
				r.monitor().RecordRTT(float64(est))
			}
		}
		reply(proto.Message{
			Type:       proto.TypePong,
			ClientTime: msg.ClientTime,
			ServerTime: proto.I64Ptr(at.UnixMilli()),
		})
	case proto.TypePong:
		if msg.ServerTime != nil {
			if est := at.UnixMilli() - *msg.ServerTime; est >= 0 {
				r.monitor().RecordRTT(float64(est))
			}
		}
	case proto.TypeKeyframeRequest:
		if frame, ok := h.keyframeLocked(r, *msg.KeyframeSeq, at); ok {
			reply(frame)
		}
	case proto.TypeDisconnect:
		dropped = append(dropped, dropRequest{playerID: r.sess.ID(), reason: "client requested disconnect"})
	default:
		if h.metrics != nil {
			h.metrics.Add(unknownTypeMetricKey, 1)
		}
		reply(proto.Message{
			Type:    proto.TypeError,
			Code:    proto.U32Ptr(proto.ErrorCodeUnknownMessage),
			Message: fmt.Sprintf("unexpected message type %q", msg.Type),
		})
	}
	return outbox, dropped
}

func (h *Hub) keyframeLocked(r *remote, seq uint64, at time.Time) (proto.Message, bool) {
	frame, ok := h.engine.Journal().BySeq(seq)
	if !ok {
		// Requested frame already pruned: capture a fresh one instead of
		// leaving the client stranded.
		fresh := h.engine.CaptureKeyframe(at)
		frame, ok = h.engine.Journal().BySeq(fresh)
		if !ok {
			return proto.Message{}, false
		}
	}
	if h.metrics != nil {
		h.metrics.Add(keyframeServeMetricKey, 1)
	}
	logrepl.KeyframeServed(context.Background(), h.publisher, h.engine.Tick(), r.sess.ID(), logrepl.KeyframePayload{
		RequestedSeq: seq,
		ServedSeq:    frame.Seq,
		Entities:     len(frame.Entities),
	})
	// After a keyframe the client rebuilds from scratch; the view must
	// re-announce everything on top of it.
	r.view.Reset()
	return proto.Message{
		Type:        proto.TypeKeyframe,
		KeyframeSeq: proto.U64Ptr(frame.Seq),
		Entities:    frame.Entities,
		Ack:         proto.U32Ptr(r.sess.LastInbound()),
	}, true
}

// broadcastLocked stages each connection's delta stream. Every
// ComponentUpdate carries the receiver's input ack so clients can anchor
// reconciliation.
func (h *Hub) broadcastLocked(now time.Time, outbox []outbound) []outbound {
	for _, r := range h.remotes {
		msgs := r.view.Collect(h.engine, now)
		if len(msgs) == 0 {
			continue
		}
		ack := r.sess.LastInbound()
		for i := range msgs {
			if msgs[i].Type == proto.TypeComponentUpdate {
				msgs[i].Ack = proto.U32Ptr(ack)
			}
		}
		if h.metrics != nil {
			h.metrics.Add(broadcastMetricKey, uint64(len(msgs)))
		}
		outbox = append(outbox, outbound{r: r, msgs: msgs, batch: true})
	}
	return outbox
}

func (h *Hub) pingsLocked(now time.Time, outbox []outbound) []outbound {
	for _, r := range h.remotes {
		if !r.sess.PingDue(now, h.cfg.PingInterval) {
			continue
		}
		outbox = append(outbox, outbound{r: r, msgs: []proto.Message{{
			Type:       proto.TypePing,
			ServerTime: proto.I64Ptr(now.UnixMilli()),
			ClientTime: proto.I64Ptr(0),
		}}})
	}
	return outbox
}

// Disconnect tears a session down: the connection closes, owned entities are
// released, and peers learn about the deletes through their delta streams.
func (h *Hub) Disconnect(playerID, reason string) {
	now := h.clock.Now()
	h.stateMu.Lock()
	h.disconnectLocked(playerID, reason, now)
	h.stateMu.Unlock()
}

func (h *Hub) disconnectLocked(playerID, reason string, now time.Time) {
	r, ok := h.remotes[playerID]
	if !ok {
		return
	}
	delete(h.remotes, playerID)
	r.sess.Transition(session.StateDisconnected)
	r.close()
	h.engine.ReleaseOwned(playerID, now)
	if h.metrics != nil {
		h.metrics.Add(disconnectMetricKey, 1)
	}
	if h.logger != nil {
		h.logger.Printf("hub: %s disconnected: %s", playerID, reason)
	}
	lognet.Disconnected(context.Background(), h.publisher, h.engine.Tick(), playerID, lognet.DisconnectPayload{Reason: reason})
}

// SessionCount reports the number of live sessions.
func (h *Hub) SessionCount() int {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return len(h.remotes)
}

// Diagnostics summarizes the hub for the /diagnostics endpoint.
type Diagnostics struct {
	Tick      uint64                `json:"tick"`
	Entities  int                   `json:"entities"`
	Sessions  []session.Diagnostics `json:"sessions"`
	Keyframes int                   `json:"keyframes"`
	Counters  map[string]uint64     `json:"counters,omitempty"`
}

// Snapshot captures the hub state for diagnostics output.
func (h *Hub) Snapshot() Diagnostics {
	now := h.clock.Now()
	h.stateMu.Lock()
	sessions := make([]session.Diagnostics, 0, len(h.remotes))
	for _, r := range h.remotes {
		sessions = append(sessions, r.sess.Snapshot(now))
	}
	d := Diagnostics{
		Tick:      h.engine.Tick(),
		Entities:  h.engine.World().Len(),
		Sessions:  sessions,
		Keyframes: h.engine.Journal().Len(),
	}
	h.stateMu.Unlock()
	if counters, ok := h.metrics.(*telemetry.Counters); ok {
		d.Counters = counters.Snapshot()
	}
	return d
}
