package world

import "math"

// MaxMovementMagnitude bounds the length of a movement vector. Inputs beyond
// it are scaled down rather than rejected so a slightly noisy analog stick
// does not drop commands.
const MaxMovementMagnitude = 1.0

// MoveStep is the distance an entity covers per applied input at full
// deflection. Client prediction and server application share it; any drift
// between the two breaks reconciliation.
const MoveStep = 1.0

// ClampMovement scales a movement vector down to MaxMovementMagnitude.
// Non-finite components are zeroed.
func ClampMovement(movement [2]float64) [2]float64 {
	for i, v := range movement {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			movement[i] = 0
		}
	}
	mag := math.Hypot(movement[0], movement[1])
	if mag > MaxMovementMagnitude {
		scale := MaxMovementMagnitude / mag
		movement[0] *= scale
		movement[1] *= scale
	}
	return movement
}

// ApplyMovement advances a position by one input step. It is the single
// movement rule for both sides of the connection and must stay deterministic.
func ApplyMovement(pos Position, movement [2]float64) Position {
	movement = ClampMovement(movement)
	pos.X += movement[0] * MoveStep
	pos.Y += movement[1] * MoveStep
	return pos
}
