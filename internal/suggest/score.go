package suggest

import (
	"math"
	"time"
)

// DefaultHalfLife is the decay constant applied to activity age.
const DefaultHalfLife = 30 * time.Minute

// DecayWeight returns exp(-age/DefaultHalfLife). Ages below zero count as
// zero.
func DecayWeight(age time.Duration) float64 {
	return Decay(age, DefaultHalfLife)
}

// Decay returns exp(-age/halfLife).
func Decay(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return math.Exp(-float64(age.Milliseconds()) / float64(halfLife.Milliseconds()))
}

// Normalize divides every score by the maximum score. The result is in
// [0,1] with the top score at exactly 1. Empty or all-zero input yields an
// empty map.
func Normalize(scores map[string]float64) map[string]float64 {
	var top float64
	for _, v := range scores {
		if v > top {
			top = v
		}
	}
	out := make(map[string]float64, len(scores))
	if top <= 0 {
		return out
	}
	for k, v := range scores {
		out[k] = v / top
	}
	return out
}
