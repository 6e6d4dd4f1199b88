package session

// State is the connection lifecycle surfaced to UI and diagnostics.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFaulted
)

// String implements fmt.Stringer. Faulted surfaces as "error"; internal
// fault detail is never shown verbatim.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFaulted:
		return "error"
	default:
		return "unknown"
	}
}

// Live reports whether the session can carry traffic.
func (s State) Live() bool {
	return s == StateConnected
}

// Terminal reports whether the session can never resume.
func (s State) Terminal() bool {
	return s == StateFaulted
}

// validTransitions encodes the lifecycle. Faulted is absorbing.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateDisconnected, StateFaulted},
	StateConnected:    {StateReconnecting, StateDisconnected, StateFaulted},
	StateReconnecting: {StateConnected, StateDisconnected, StateFaulted},
	StateFaulted:      nil,
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
