// Package control holds the remote's control state: the tilt filter, the
// knob-driven target power, the ramped actual power and the enable switch.
// It turns that state into one Command per tick.
package control

import (
	"math"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/logic/ramp"
	"github.com/cjeanneret/roboremote/internal/logic/tilt"
)

const (
	// AngleCenter is the straight-ahead steering command.
	AngleCenter = 60
	// AngleMax is the full-right steering command; 0 is full left.
	AngleMax = 120
	// AngleGain converts filtered radians to steering units.
	AngleGain = 200.0
	// RotationGain converts a knob rotation delta to power units.
	RotationGain = 200.0
)

// Command is the (angle, speed) pair pushed to the suitcase each tick.
type Command struct {
	Angle int     `json:"angle"`
	Speed float64 `json:"speed"`
}

// Feedback holds the proportional fills shown on the feedback surface, all in [0,1].
type Feedback struct {
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Left    float64 `json:"left"`
	Right   float64 `json:"right"`
}

// Snapshot is a read-only copy of the state for status endpoints.
type Snapshot struct {
	Enabled       bool    `json:"enabled"`
	TargetPower   float64 `json:"target_power"`
	ActualPower   float64 `json:"actual_power"`
	FilteredAngle float64 `json:"filtered_angle"`
	ZeroReference float64 `json:"zero_reference"`
	Anchored      bool    `json:"anchored"`
	Button        Button  `json:"button"`
}

// State is the whole control state. It is not safe for concurrent use;
// session.Loop confines it to a single goroutine.
type State struct {
	tilt    tilt.Filter
	target  float64
	actual  float64
	enabled bool
}

// Restart puts every scalar back to its initial value.
func (s *State) Restart() {
	*s = State{}
}

// Tilt feeds one attitude sample into the tilt filter.
func (s *State) Tilt(pitch float64, ok bool) {
	s.tilt.Update(pitch, ok)
}

// ResetTilt re-anchors the zero reference on the next valid sample.
func (s *State) ResetTilt() {
	s.tilt.Reset()
	debug.Live("Tilt reset requested")
}

// Rotate applies a knob rotation delta. While disabled every rotation
// forces the target power to zero.
func (s *State) Rotate(delta float64) {
	if !s.enabled {
		s.target = 0
		return
	}
	s.target = clamp(s.target+delta*RotationGain, 0, ramp.MaxPower)
}

// Toggle flips the enable switch and returns the new value.
// Disabling drops the target power to zero.
func (s *State) Toggle() bool {
	s.enabled = !s.enabled
	if !s.enabled {
		s.target = 0
	}
	debug.Control(s.enabled)
	return s.enabled
}

// Enabled reports whether knob input drives the target power.
func (s *State) Enabled() bool {
	return s.enabled
}

// Tick advances the power ramp once and builds the command and feedback for this tick.
func (s *State) Tick() (Command, Feedback) {
	angle := AngleCommand(s.tilt.Angle())

	var fr ramp.Fractions
	s.actual, fr = ramp.Update(s.target, s.actual)

	fb := Feedback{Current: fr.Current, Target: fr.Target}
	fb.Left, fb.Right = AngleFractions(angle)

	return Command{Angle: angle, Speed: s.actual}, fb
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	zero, anchored := s.tilt.Zero()
	return Snapshot{
		Enabled:       s.enabled,
		TargetPower:   s.target,
		ActualPower:   s.actual,
		FilteredAngle: s.tilt.Angle(),
		ZeroReference: zero,
		Anchored:      anchored,
		Button:        ButtonFor(s.enabled),
	}
}

// AngleCommand maps a filtered angle to the integer steering command in [0,120].
func AngleCommand(filtered float64) int {
	if math.IsNaN(filtered) {
		return AngleCenter
	}
	return int(clamp(filtered*AngleGain+AngleCenter, 0, AngleMax))
}

// AngleFractions splits a steering command into left/right indicator fills.
func AngleFractions(angle int) (left, right float64) {
	if angle <= AngleCenter {
		return float64(AngleCenter-angle) / AngleCenter, 0
	}
	return 0, float64(angle-AngleCenter) / AngleCenter
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
