package world

import (
	"math"
	"testing"
)

func TestClampMovement(t *testing.T) {
	cases := []struct {
		name string
		in   [2]float64
		want [2]float64
	}{
		{"within bounds", [2]float64{0.5, 0.5}, [2]float64{0.5, 0.5}},
		{"unit axis", [2]float64{1, 0}, [2]float64{1, 0}},
		{"oversized", [2]float64{3, 4}, [2]float64{0.6, 0.8}},
		{"nan zeroed", [2]float64{math.NaN(), 1}, [2]float64{0, 1}},
		{"inf zeroed", [2]float64{math.Inf(1), 0}, [2]float64{0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClampMovement(tc.in)
			if math.Abs(got[0]-tc.want[0]) > 1e-9 || math.Abs(got[1]-tc.want[1]) > 1e-9 {
				t.Fatalf("ClampMovement(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestApplyMovement(t *testing.T) {
	pos := ApplyMovement(Position{X: 1, Y: 2}, [2]float64{1, 0})
	if pos.X != 1+MoveStep || pos.Y != 2 {
		t.Fatalf("unexpected position %+v", pos)
	}
	// Oversized vectors move at most one full step.
	pos = ApplyMovement(Position{}, [2]float64{10, 0})
	if pos.X != MoveStep {
		t.Fatalf("expected clamped step, got %+v", pos)
	}
}
