package prediction

import (
	"github.com/eda3/ecs-wasm-game3/internal/proto"
	"github.com/eda3/ecs-wasm-game3/internal/telemetry"
	"github.com/eda3/ecs-wasm-game3/internal/world"
)

const replayMetricKey = "prediction_replay_inputs_total"

// StepFunc advances a position by one input. Both sides of the connection
// must use the same step for reconciliation to converge; DefaultStep is the
// shared rule.
type StepFunc func(world.Position, proto.InputData) world.Position

// DefaultStep applies the canonical movement rule.
func DefaultStep(pos world.Position, in proto.InputData) world.Position {
	return world.ApplyMovement(pos, in.Movement)
}

// Predictor applies local inputs immediately to the owned entity's predicted
// position, retains them for replay, and reconciles against authoritative
// corrections. It contains no randomness; replaying the same inputs against
// the same base always yields the same position.
type Predictor struct {
	buffer  *InputBuffer
	step    StepFunc
	pos     world.Position
	primed  bool
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

// NewPredictor constructs a predictor over the given input buffer. A nil
// step falls back to DefaultStep.
func NewPredictor(buffer *InputBuffer, step StepFunc, logger telemetry.Logger, metrics telemetry.Metrics) *Predictor {
	if step == nil {
		step = DefaultStep
	}
	return &Predictor{
		buffer:  buffer,
		step:    step,
		logger:  logger,
		metrics: metrics,
	}
}

// SetAuthoritative seeds the predicted position from a server snapshot
// without replay, e.g. on spawn or after a keyframe resync.
func (p *Predictor) SetAuthoritative(pos world.Position) {
	if p == nil {
		return
	}
	p.pos = pos
	p.primed = true
}

// Primed reports whether an authoritative base has been received.
func (p *Predictor) Primed() bool {
	return p != nil && p.primed
}

// Apply advances the predicted position by one input and retains it for
// replay. It returns false when the replay window is full, which means the
// server has fallen too far behind to reconcile against.
func (p *Predictor) Apply(sequence uint32, in proto.InputData) bool {
	if p == nil || !p.primed {
		return false
	}
	if !p.buffer.Push(PendingInput{Sequence: sequence, Input: in}) {
		if p.logger != nil {
			p.logger.Printf("prediction: replay window full, dropping input seq=%d", sequence)
		}
		return false
	}
	p.pos = p.step(p.pos, in)
	return true
}

// Position reports the current predicted position.
func (p *Predictor) Position() world.Position {
	if p == nil {
		return world.Position{}
	}
	return p.pos
}

// PendingCount reports the number of unacknowledged inputs.
func (p *Predictor) PendingCount() int {
	if p == nil {
		return 0
	}
	return p.buffer.Len()
}

// Reconcile resets the predicted position to the authoritative value, drops
// all inputs the server has already applied, and replays the remainder in
// sequence order. The result is the server's view plus everything it has not
// seen yet.
func (p *Predictor) Reconcile(authoritative world.Position, ack uint32) world.Position {
	if p == nil {
		return world.Position{}
	}
	p.buffer.AckThrough(ack)
	p.pos = authoritative
	p.primed = true
	pending := p.buffer.Pending()
	for _, in := range pending {
		p.pos = p.step(p.pos, in.Input)
	}
	if p.metrics != nil && len(pending) > 0 {
		p.metrics.Add(replayMetricKey, uint64(len(pending)))
	}
	return p.pos
}

// Reset discards all prediction state. Partially applied predictions are
// dropped wholesale, never rolled back per field.
func (p *Predictor) Reset() {
	if p == nil {
		return
	}
	p.buffer.Clear()
	p.pos = world.Position{}
	p.primed = false
}
