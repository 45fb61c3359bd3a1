// Package tilt turns raw wrist pitch samples into a smoothed steering angle
// relative to a zero reference captured on the first sample.
package tilt

import "github.com/cjeanneret/roboremote/internal/debug"

// Alpha is the weight of a new sample in the exponential moving average.
const Alpha = 0.1

// Filter holds the zero reference and the smoothed angle.
// It is not safe for concurrent use; the session loop owns it.
type Filter struct {
	zero     float64
	anchored bool
	angle    float64
	missing  bool // inside a run of no-data samples
}

// Update feeds one pitch sample (radians). ok=false means the sensor had no
// data: the filter is left untouched and the last angle is returned.
// Only the start and the end of a gap are logged.
func (f *Filter) Update(raw float64, ok bool) float64 {
	if !ok {
		if !f.missing {
			f.missing = true
			debug.Warn("tilt: no attitude data, keeping angle %.4f", f.angle)
		}
		return f.angle
	}
	if f.missing {
		f.missing = false
		debug.Live("tilt: attitude data back")
	}

	var offset float64
	if !f.anchored {
		f.zero = raw
		f.anchored = true
		debug.Live("tilt: zero reference set to %.4f rad", raw)
	} else {
		offset = raw - f.zero
	}

	f.angle = f.angle*(1-Alpha) + offset*Alpha
	return f.angle
}

// Reset forgets the zero reference so the next valid sample re-anchors it.
// The smoothed angle is kept and decays toward the new zero.
func (f *Filter) Reset() {
	f.anchored = false
}

// Clear resets the zero reference and the smoothed angle.
func (f *Filter) Clear() {
	*f = Filter{}
}

// Angle returns the current smoothed angle, in radians from zero.
func (f *Filter) Angle() float64 {
	return f.angle
}

// Zero returns the zero reference and whether one is set.
func (f *Filter) Zero() (float64, bool) {
	return f.zero, f.anchored
}
