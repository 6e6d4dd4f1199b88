package session

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/eda3/ecs-wasm-game3/internal/netquality"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const (
	// DefaultInactivityTimeout drops sessions with no inbound traffic.
	DefaultInactivityTimeout = 5 * time.Minute
	// DefaultDecodeErrorBudget is how many malformed payloads a connection
	// may produce before it is closed.
	DefaultDecodeErrorBudget = 5
	// DefaultPingInterval schedules keepalive pings.
	DefaultPingInterval = 3 * time.Second
)

// ErrSequenceExhausted signals a wrapped sequence counter. The session is
// faulted rather than reusing numbers, since every ordering guarantee leans
// on strict monotonicity.
var ErrSequenceExhausted = errors.New("session: sequence space exhausted")

// ErrIllegalTransition signals a lifecycle move the state machine forbids.
var ErrIllegalTransition = errors.New("session: illegal state transition")

// Session tracks the per-connection protocol state: lifecycle, sequence
// counters for both directions, decode-error budget, and activity. It is
// owned by one connection handler; the mutex covers reads from the
// diagnostics path.
type Session struct {
	mu sync.Mutex

	id       string
	entityID world.EntityID
	state    State

	outSeq      uint32
	lastInbound uint32
	haveInbound bool

	decodeErrs   int
	decodeBudget int

	lastActivity time.Time
	lastPing     time.Time

	monitor *netquality.Monitor
	logger  telemetry.Logger
}

// Config carries the tunables for a new session.
type Config struct {
	DecodeErrorBudget int
	Logger            telemetry.Logger
}

// New constructs a session for the given player in the Connecting state.
func New(id string, entityID world.EntityID, now time.Time, cfg Config) *Session {
	budget := cfg.DecodeErrorBudget
	if budget <= 0 {
		budget = DefaultDecodeErrorBudget
	}
	return &Session{
		id:           id,
		entityID:     entityID,
		state:        StateConnecting,
		decodeBudget: budget,
		lastActivity: now,
		monitor:      netquality.NewMonitor(),
		logger:       cfg.Logger,
	}
}

// ID reports the player identifier.
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// EntityID reports the owned entity.
func (s *Session) EntityID() world.EntityID {
	if s == nil {
		return ""
	}
	return s.entityID
}

// Monitor exposes the connection health tracker.
func (s *Session) Monitor() *netquality.Monitor {
	if s == nil {
		return nil
	}
	return s.monitor
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateDisconnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition moves the session through its lifecycle, rejecting moves the
// state machine forbids. Transitions into the same state are no-ops.
func (s *Session) Transition(to State) error {
	if s == nil {
		return ErrIllegalTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return nil
	}
	if !CanTransition(s.state, to) {
		return ErrIllegalTransition
	}
	if s.logger != nil {
		s.logger.Printf("session %s: %s -> %s", s.id, s.state, to)
	}
	s.state = to
	return nil
}

// Fault forces the session into the terminal error state.
func (s *Session) Fault(reason string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFaulted {
		return
	}
	if s.logger != nil {
		s.logger.Printf("session %s faulted: %s", s.id, reason)
	}
	s.state = StateFaulted
}

// NextSequence mints the next outbound sequence number. Exhausting the
// 32-bit space faults the session.
func (s *Session) NextSequence() (uint32, error) {
	if s == nil {
		return 0, ErrSequenceExhausted
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFaulted {
		return 0, ErrSequenceExhausted
	}
	if s.outSeq == math.MaxUint32 {
		if s.logger != nil {
			s.logger.Printf("session %s faulted: outbound sequence space exhausted", s.id)
		}
		s.state = StateFaulted
		return 0, ErrSequenceExhausted
	}
	s.outSeq++
	return s.outSeq, nil
}

// AcceptInbound enforces strict monotonicity on received sequence numbers:
// a sequence at or below the last accepted one is reported as a duplicate
// and must be treated as a no-op by the caller.
func (s *Session) AcceptInbound(seq uint32) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveInbound && seq <= s.lastInbound {
		return false
	}
	s.haveInbound = true
	s.lastInbound = seq
	if s.monitor != nil {
		s.monitor.ObserveSequence(seq)
	}
	return true
}

// LastInbound reports the highest accepted inbound sequence.
func (s *Session) LastInbound() uint32 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInbound
}

// RecordDecodeError charges one malformed payload against the budget and
// reports whether the connection should now be closed. Below the budget the
// session stays connected.
func (s *Session) RecordDecodeError(err error) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeErrs++
	if s.logger != nil {
		s.logger.Printf("session %s: discarding malformed message (%d/%d): %v", s.id, s.decodeErrs, s.decodeBudget, err)
	}
	return s.decodeErrs > s.decodeBudget
}

// DecodeErrors reports how many malformed payloads this session produced.
func (s *Session) DecodeErrors() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeErrs
}

// Touch records inbound activity.
func (s *Session) Touch(now time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// IdleFor reports how long the session has gone without inbound traffic.
func (s *Session) IdleFor(now time.Time) time.Duration {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// Expired reports whether the session has been idle past the timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return s.IdleFor(now) >= timeout
}

// PingDue reports whether a keepalive ping should go out, and records the
// schedule when it is.
func (s *Session) PingDue(now time.Time, interval time.Duration) bool {
	if s == nil {
		return false
	}
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastPing.IsZero() && now.Sub(s.lastPing) < interval {
		return false
	}
	s.lastPing = now
	return true
}

// Diagnostics is the per-session slice of the /diagnostics payload.
type Diagnostics struct {
	ID           string            `json:"id"`
	EntityID     world.EntityID    `json:"entityId"`
	State        string            `json:"state"`
	LastInbound  uint32            `json:"lastInbound"`
	DecodeErrors int               `json:"decodeErrors"`
	IdleMillis   int64             `json:"idleMs"`
	Network      netquality.Status `json:"network"`
}

// Snapshot captures the session for diagnostics output.
func (s *Session) Snapshot(now time.Time) Diagnostics {
	if s == nil {
		return Diagnostics{}
	}
	s.mu.Lock()
	d := Diagnostics{
		ID:           s.id,
		EntityID:     s.entityID,
		State:        s.state.String(),
		LastInbound:  s.lastInbound,
		DecodeErrors: s.decodeErrs,
		IdleMillis:   now.Sub(s.lastActivity).Milliseconds(),
	}
	s.mu.Unlock()
	if s.monitor != nil {
		d.Network = s.monitor.Snapshot()
	}
	return d
}
