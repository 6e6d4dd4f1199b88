package client

import (
	"math"
	"testing"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/session"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

func newTestEngine(clock *telemetry.ManualClock) *Engine {
	return New(Config{
		Name:    "alice",
		Clock:   clock,
		Metrics: telemetry.NewCounters(),
	})
}

// connect walks the engine through a successful handshake so tests can start
// from a live session.
func connect(t *testing.T, e *Engine, playerID string) {
	t.Helper()
	_ = e.ConnectMessage()
	resp := proto.NewMessage(proto.TypeConnectResponse, 1, 0)
	resp.PlayerID = playerID
	resp.Success = proto.BoolPtr(true)
	resp.Token = "resume-token"
	resp.SchemaHash = "abc123"
	if err := e.Apply(resp); err != nil {
		t.Fatalf("connect response: %v", err)
	}
}

// announce delivers the create-then-full-update pair the server emits for a
// newly visible entity.
func announce(t *testing.T, e *Engine, serverSeq uint32, id world.EntityID, at int64, components ...world.Component) {
	t.Helper()
	create := proto.NewMessage(proto.TypeEntityCreate, serverSeq, at)
	create.EntityID = id
	if err := e.Apply(create); err != nil {
		t.Fatalf("entity create: %v", err)
	}
	update := proto.NewMessage(proto.TypeComponentUpdate, serverSeq+1, at)
	update.EntityID = id
	update.Components = make(world.ComponentSet, len(components))
	for _, component := range components {
		update.Components[component.Kind] = component
	}
	if err := e.Apply(update); err != nil {
		t.Fatalf("component update: %v", err)
	}
}

func componentUpdate(id world.EntityID, serverSeq uint32, at int64, ack *uint32, components ...world.Component) proto.Message {
	msg := proto.NewMessage(proto.TypeComponentUpdate, serverSeq, at)
	msg.EntityID = id
	msg.Ack = ack
	msg.Components = make(world.ComponentSet, len(components))
	for _, component := range components {
		msg.Components[component.Kind] = component
	}
	return msg
}

func TestConnectHandshakeStoresIdentity(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)

	msg := e.ConnectMessage()
	if msg.Type != proto.TypeConnect {
		t.Fatalf("expected Connect, got %q", msg.Type)
	}
	if msg.PlayerID != "alice" {
		t.Fatalf("expected requested name, got %q", msg.PlayerID)
	}
	if got := e.State(); got != session.StateConnecting {
		t.Fatalf("expected connecting, got %v", got)
	}

	connect(t, e, "player-1")
	if got := e.State(); got != session.StateConnected {
		t.Fatalf("expected connected, got %v", got)
	}
	if got := e.PlayerID(); got != "player-1" {
		t.Fatalf("player id = %q", got)
	}
	if got := e.Token(); got != "resume-token" {
		t.Fatalf("token = %q", got)
	}
	if got := e.SchemaHash(); got != "abc123" {
		t.Fatalf("schema hash = %q", got)
	}
}

func TestRejectedConnectFaults(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	_ = e.ConnectMessage()

	resp := proto.NewMessage(proto.TypeConnectResponse, 1, 0)
	resp.Success = proto.BoolPtr(false)
	resp.Reason = "server full"
	if err := e.Apply(resp); err == nil {
		t.Fatal("expected rejection error")
	}
	if got := e.State(); got != session.StateFaulted {
		t.Fatalf("expected faulted, got %v", got)
	}
}

func TestOwnAvatarIdentifiedFromPlayerInfo(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")

	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(3, 4),
		world.NewSprite("player", true),
		world.NewPlayerInfo("player-1", "alice"),
	)

	if got := e.EntityID(); got != "avatar" {
		t.Fatalf("avatar not identified: %q", got)
	}
	snap := e.Snapshot(clock.Now())
	entry, ok := snap["avatar"]
	if !ok {
		t.Fatalf("avatar missing from snapshot: %+v", snap)
	}
	if !entry.Owned {
		t.Fatal("avatar not marked owned")
	}
	if entry.Position.X != 3 || entry.Position.Y != 4 {
		t.Fatalf("avatar position = %+v", entry.Position)
	}
	if entry.Sprite == nil || entry.Sprite.ID != "player" {
		t.Fatalf("sprite = %+v", entry.Sprite)
	}
}

func TestInputAppliedToPredictionImmediately(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)

	msg, applied := e.SendInput(proto.InputData{Movement: [2]float64{1, 0}})
	if !applied {
		t.Fatal("input not applied locally")
	}
	if msg.Type != proto.TypeInput || msg.EntityID != "avatar" {
		t.Fatalf("input message = %+v", msg)
	}
	if msg.InputData == nil || msg.InputData.Movement != [2]float64{1, 0} {
		t.Fatalf("input payload = %+v", msg.InputData)
	}

	snap := e.Snapshot(clock.Now())
	if got := snap["avatar"].Position.X; got != world.MoveStep {
		t.Fatalf("predicted x = %v, want %v", got, world.MoveStep)
	}
	if got := e.PendingInputs(); got != 1 {
		t.Fatalf("pending inputs = %d", got)
	}
}

func TestOversizedInputClampedBeforeSend(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)

	msg, _ := e.SendInput(proto.InputData{Movement: [2]float64{3, 4}})
	got := msg.InputData.Movement
	if got[0] != 0.6 || got[1] != 0.8 {
		t.Fatalf("movement not clamped: %v", got)
	}
}

func TestRepeatedIdleInputsCoalesced(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)

	if _, applied := e.SendInput(proto.InputData{Movement: [2]float64{1, 0}}); !applied {
		t.Fatal("moving input rejected")
	}
	if _, applied := e.SendInput(proto.InputData{}); !applied {
		t.Fatal("first idle input should be sent")
	}
	if msg, applied := e.SendInput(proto.InputData{}); applied || msg.Type != "" {
		t.Fatalf("repeated idle input not coalesced: %+v", msg)
	}
	if _, applied := e.SendInput(proto.InputData{Movement: [2]float64{0, 1}}); !applied {
		t.Fatal("movement after idle rejected")
	}
}

func TestReconciliationReplaysUnackedInputs(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)

	var seqs []uint32
	for i := 0; i < 5; i++ {
		msg, applied := e.SendInput(proto.InputData{Movement: [2]float64{1, 0}})
		if !applied {
			t.Fatalf("input %d rejected", i)
		}
		seqs = append(seqs, msg.Sequence)
	}

	// The server has applied the first three inputs.
	update := componentUpdate("avatar", 4, clock.Now().UnixMilli(),
		proto.U32Ptr(seqs[2]), world.NewPosition(3*world.MoveStep, 0))
	if err := e.Apply(update); err != nil {
		t.Fatalf("reconcile update: %v", err)
	}

	snap := e.Snapshot(clock.Now())
	if got := snap["avatar"].Position.X; got != 5*world.MoveStep {
		t.Fatalf("reconciled x = %v, want %v", got, 5*world.MoveStep)
	}
	if got := e.PendingInputs(); got != 2 {
		t.Fatalf("pending after ack = %d", got)
	}
}

func TestRemoteEntityInterpolates(t *testing.T) {
	base := time.Now()
	clock := &telemetry.ManualClock{Current: base}
	e := newTestEngine(clock)
	connect(t, e, "player-1")

	t0 := base.UnixMilli()
	announce(t, e, 2, "remote", t0,
		world.NewPosition(0, 0),
		world.NewSprite("player", true),
	)
	update := componentUpdate("remote", 4, t0+100, nil, world.NewPosition(10, 0))
	if err := e.Apply(update); err != nil {
		t.Fatalf("remote update: %v", err)
	}

	// Render 50ms into the sample pair, accounting for the interpolation
	// delay baked into the snapshot.
	renderAt := base.Add(50*time.Millisecond + e.cfg.InterpDelay)
	snap := e.Snapshot(renderAt)
	entry, ok := snap["remote"]
	if !ok {
		t.Fatalf("remote missing: %+v", snap)
	}
	if entry.Owned {
		t.Fatal("remote marked owned")
	}
	if entry.Position.X < 4.999 || entry.Position.X > 5.001 {
		t.Fatalf("interpolated x = %v, want 5", entry.Position.X)
	}

	// Past the newest sample the position holds rather than extrapolating.
	snap = e.Snapshot(base.Add(time.Second + e.cfg.InterpDelay))
	if got := snap["remote"].Position.X; got != 10 {
		t.Fatalf("held x = %v, want 10", got)
	}
}

func TestStaleSequenceUpdateIgnored(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "remote", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
	)

	newer := componentUpdate("remote", 10, clock.Now().UnixMilli(), nil, world.NewPosition(50, 0))
	if err := e.Apply(newer); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A replayed older delivery must not roll the replica backwards.
	stale := componentUpdate("remote", 5, clock.Now().UnixMilli(), nil, world.NewPosition(1, 0))
	if err := e.Apply(stale); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	e.mu.Lock()
	comp, ok := e.world.Component("remote", world.ComponentPosition)
	e.mu.Unlock()
	if !ok || comp.Position == nil {
		t.Fatal("remote position missing")
	}
	if comp.Position.X != 50 {
		t.Fatalf("replica x = %v, want 50", comp.Position.X)
	}
}

func TestUnknownEntityUpdateRequestsResync(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	drainPeriodic(e, clock)

	orphan := componentUpdate("ghost", 2, clock.Now().UnixMilli(), nil, world.NewPosition(1, 1))
	if err := e.Apply(orphan); err != nil {
		t.Fatalf("orphan update: %v", err)
	}
	orphan.Sequence = 3
	if err := e.Apply(orphan); err != nil {
		t.Fatalf("second orphan update: %v", err)
	}

	out := e.Update(clock.Now())
	var requests []proto.Message
	for _, msg := range out {
		if msg.Type == proto.TypeKeyframeRequest {
			requests = append(requests, msg)
		}
	}
	if len(requests) != 1 {
		t.Fatalf("expected one keyframe request, got %d (%+v)", len(requests), out)
	}
	if requests[0].KeyframeSeq == nil || *requests[0].KeyframeSeq != 1 {
		t.Fatalf("keyframe request seq = %+v", requests[0].KeyframeSeq)
	}

	if snap := e.Snapshot(clock.Now()); len(snap) != 0 {
		t.Fatalf("orphan update materialized state: %+v", snap)
	}
}

func TestKeyframeRebuildsReplica(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)
	announce(t, e, 4, "stale", clock.Now().UnixMilli(),
		world.NewPosition(9, 9),
	)

	var lastSeq uint32
	for i := 0; i < 2; i++ {
		msg, _ := e.SendInput(proto.InputData{Movement: [2]float64{0, 1}})
		lastSeq = msg.Sequence
	}

	frame := proto.NewMessage(proto.TypeKeyframe, 6, clock.Now().UnixMilli())
	frame.KeyframeSeq = proto.U64Ptr(7)
	frame.Ack = proto.U32Ptr(lastSeq)
	frame.Entities = map[world.EntityID]world.ComponentSet{
		"avatar": {
			world.ComponentPosition:   world.NewPosition(0, 2*world.MoveStep),
			world.ComponentPlayerInfo: world.NewPlayerInfo("player-1", "alice"),
		},
		"fresh": {
			world.ComponentPosition: world.NewPosition(1, 1),
		},
	}
	if err := e.Apply(frame); err != nil {
		t.Fatalf("keyframe: %v", err)
	}

	snap := e.Snapshot(clock.Now())
	if _, ok := snap["stale"]; ok {
		t.Fatal("entity absent from keyframe survived")
	}
	if _, ok := snap["fresh"]; !ok {
		t.Fatalf("keyframe entity missing: %+v", snap)
	}
	if got := e.EntityID(); got != "avatar" {
		t.Fatalf("avatar lost across keyframe: %q", got)
	}
	if got := snap["avatar"].Position.Y; got != 2*world.MoveStep {
		t.Fatalf("avatar y = %v", got)
	}
	if got := e.PendingInputs(); got != 0 {
		t.Fatalf("pending after keyframe ack = %d", got)
	}
}

func TestTimeSyncComputesOffset(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")

	if _, ok := e.ClockOffset(); ok {
		t.Fatal("offset reported before any exchange")
	}

	// The client asked at t0, the server stamped t0+50 plus a 5s skew, and
	// the reply landed 100ms after the request.
	t0 := clock.Now().UnixMilli() - 100
	reply := proto.NewMessage(proto.TypeTimeSync, 2, 0)
	reply.ClientTime = proto.I64Ptr(t0)
	reply.ServerTime = proto.I64Ptr(t0 + 50 + 5000)
	if err := e.Apply(reply); err != nil {
		t.Fatalf("time sync reply: %v", err)
	}

	offset, ok := e.ClockOffset()
	if !ok {
		t.Fatal("no offset after exchange")
	}
	if offset != 5000 {
		t.Fatalf("offset = %d, want 5000", offset)
	}
}

func TestPingPongMeasuresRoundTrip(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	drainPeriodic(e, clock)

	serverTime := clock.Now().UnixMilli()
	ping := proto.NewMessage(proto.TypePing, 2, serverTime)
	ping.ClientTime = proto.I64Ptr(serverTime)
	ping.ServerTime = proto.I64Ptr(serverTime)
	if err := e.Apply(ping); err != nil {
		t.Fatalf("ping: %v", err)
	}

	out := e.Update(clock.Now())
	var pong *proto.Message
	for i := range out {
		if out[i].Type == proto.TypePong {
			pong = &out[i]
		}
	}
	if pong == nil {
		t.Fatalf("no pong queued: %+v", out)
	}
	if pong.ServerTime == nil || *pong.ServerTime != serverTime {
		t.Fatalf("pong did not echo server time: %+v", pong)
	}

	sent := clock.Now().UnixMilli()
	clock.Advance(80 * time.Millisecond)
	reply := proto.NewMessage(proto.TypePong, 3, 0)
	reply.ClientTime = proto.I64Ptr(sent)
	reply.ServerTime = proto.I64Ptr(serverTime)
	if err := e.Apply(reply); err != nil {
		t.Fatalf("pong: %v", err)
	}
	if got := e.NetworkStatus().RTTMillis; got != 80 {
		t.Fatalf("rtt = %v, want 80", got)
	}
}

func TestEntityDeleteDropsState(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)
	announce(t, e, 4, "remote", clock.Now().UnixMilli(),
		world.NewPosition(5, 5),
	)

	del := proto.NewMessage(proto.TypeEntityDelete, 6, clock.Now().UnixMilli())
	del.EntityID = "remote"
	if err := e.Apply(del); err != nil {
		t.Fatalf("delete remote: %v", err)
	}
	if snap := e.Snapshot(clock.Now()); len(snap) != 1 {
		t.Fatalf("remote survived delete: %+v", snap)
	}

	del.EntityID = "avatar"
	del.Sequence = 7
	if err := e.Apply(del); err != nil {
		t.Fatalf("delete avatar: %v", err)
	}
	if got := e.EntityID(); got != "" {
		t.Fatalf("avatar id survived delete: %q", got)
	}
	if got := e.PendingInputs(); got != 0 {
		t.Fatalf("prediction state survived delete: %d", got)
	}
}

func TestUpdateEmitsPeriodicProbes(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")

	out := e.Update(clock.Now())
	if !hasType(out, proto.TypeTimeSync) || !hasType(out, proto.TypePing) {
		t.Fatalf("first update missing probes: %+v", out)
	}

	out = e.Update(clock.Now())
	if len(out) != 0 {
		t.Fatalf("probes re-emitted immediately: %+v", out)
	}

	clock.Advance(DefaultPingInterval)
	out = e.Update(clock.Now())
	if !hasType(out, proto.TypeTimeSync) || !hasType(out, proto.TypePing) {
		t.Fatalf("probes not re-emitted after interval: %+v", out)
	}
}

func TestSequenceExhaustionFaultsEngine(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")
	announce(t, e, 2, "avatar", clock.Now().UnixMilli(),
		world.NewPosition(0, 0),
		world.NewPlayerInfo("player-1", "alice"),
	)

	e.mu.Lock()
	e.outSeq = math.MaxUint32
	e.mu.Unlock()

	msg, applied := e.SendInput(proto.InputData{Movement: [2]float64{1, 0}})
	if applied || msg.Type != "" {
		t.Fatalf("expected no message after sequence exhaustion, got %+v", msg)
	}
	if got := e.State(); got != session.StateFaulted {
		t.Fatalf("expected faulted, got %v", got)
	}

	// A faulted engine emits nothing further.
	clock.Advance(DefaultPingInterval)
	if out := e.Update(clock.Now()); len(out) != 0 {
		t.Fatalf("faulted engine still emitting: %+v", out)
	}
}

func TestBadTokenErrorClearsResumeToken(t *testing.T) {
	clock := &telemetry.ManualClock{Current: time.Now()}
	e := newTestEngine(clock)
	connect(t, e, "player-1")

	errMsg := proto.NewMessage(proto.TypeError, 2, 0)
	errMsg.Code = proto.U32Ptr(proto.ErrorCodeBadToken)
	errMsg.Message = "resume token rejected"
	if err := e.Apply(errMsg); err != nil {
		t.Fatalf("error message: %v", err)
	}
	if got := e.Token(); got != "" {
		t.Fatalf("token survived rejection: %q", got)
	}
}

func hasType(msgs []proto.Message, msgType proto.MessageType) bool {
	for _, msg := range msgs {
		if msg.Type == msgType {
			return true
		}
	}
	return false
}

// drainPeriodic discards the first-update probes so later assertions see only
// the messages a test provoked.
func drainPeriodic(e *Engine, clock *telemetry.ManualClock) {
	_ = e.Update(clock.Now())
}
