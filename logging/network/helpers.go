package network

import (
	"context"

	"github.com/eda3/ecs-wasm-game3/logging"
)

const (
	// EventConnected is emitted when a connection completes the handshake.
	EventConnected logging.EventType = "network.connected"
	// EventResumed is emitted when a resume token reclaims a previous session.
	EventResumed logging.EventType = "network.resumed"
	// EventDisconnected is emitted when a session leaves for any reason.
	EventDisconnected logging.EventType = "network.disconnected"
	// EventQueueOverflow is emitted when the intake queue rejects a payload.
	EventQueueOverflow logging.EventType = "network.queue_overflow"
	// EventDecodeBudgetExhausted is emitted when malformed traffic closes a session.
	EventDecodeBudgetExhausted logging.EventType = "network.decode_budget_exhausted"
)

// ConnectPayload captures handshake details.
type ConnectPayload struct {
	EntityID string `json:"entityId"`
	Resumed  bool   `json:"resumed"`
}

// DisconnectPayload captures why a session ended.
type DisconnectPayload struct {
	Reason string `json:"reason"`
}

// Connected publishes an info event for a completed handshake.
func Connected(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload ConnectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventConnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// Disconnected publishes an info event when a session leaves.
func Disconnected(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload DisconnectPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDisconnected,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

// QueueOverflow publishes a warning when intake pressure drops a payload.
func QueueOverflow(ctx context.Context, pub logging.Publisher, tick uint64, playerID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventQueueOverflow,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
	})
}

// DecodeBudgetExhausted publishes a warning when repeated malformed traffic
// closes a session.
func DecodeBudgetExhausted(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, errors int) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventDecodeBudgetExhausted,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Extra:    map[string]any{"decodeErrors": errors},
	})
}
