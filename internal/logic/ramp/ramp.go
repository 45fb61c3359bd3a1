// Package ramp limits how fast the motor power may follow its target.
package ramp

import "math"

const (
	// MaxPower is the top of the power scale sent to the suitcase.
	MaxPower = 255.0
	// MaxStep is the largest change of actual power allowed per tick.
	MaxStep = 10.0
	// Divisor sets the step to a quarter of the remaining gap below MaxStep.
	Divisor = 4.0
)

// Fractions are slider fills in [0,1] for the feedback surface.
type Fractions struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}

// Update moves current toward target by at most MaxStep and returns the new
// current power with the matching slider fractions.
func Update(target, current float64) (float64, Fractions) {
	gap := target - current
	delta := math.Min(math.Abs(gap)/Divisor, MaxStep)
	step := math.Max(-delta, math.Min(delta, gap))
	next := current + step

	return next, Fractions{
		Current: next / MaxPower,
		Target:  target / MaxPower,
	}
}
