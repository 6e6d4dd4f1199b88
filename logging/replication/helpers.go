package replication

import (
	"context"

	"github.com/eda3/ecs-wasm-game3/logging"
)

const (
	// EventKeyframeServed is emitted when a client resyncs from a snapshot.
	EventKeyframeServed logging.EventType = "replication.keyframe_served"
	// EventSessionExpired is emitted when inactivity prunes a session.
	EventSessionExpired logging.EventType = "replication.session_expired"
)

// KeyframePayload captures which snapshot answered a resync request.
type KeyframePayload struct {
	RequestedSeq uint64 `json:"requestedSeq"`
	ServedSeq    uint64 `json:"servedSeq"`
	Entities     int    `json:"entities"`
}

// KeyframeServed publishes a debug event for an answered resync request.
func KeyframeServed(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, payload KeyframePayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventKeyframeServed,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindPlayer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryReplication,
		Payload:  payload,
	})
}

// SessionExpired publishes an info event when the inactivity sweep removes a
// session and its entities.
func SessionExpired(ctx context.Context, pub logging.Publisher, tick uint64, playerID string, idleMillis int64) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSessionExpired,
		Tick:     tick,
		Actor:    logging.EntityRef{ID: playerID, Kind: logging.EntityKindSession},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryReplication,
		Extra:    map[string]any{"idleMillis": idleMillis},
	})
}
