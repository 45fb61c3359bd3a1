// Package knob reads the physical controls of the remote over GPIO: a
// quadrature rotary encoder standing in for the watch crown, two push
// buttons (start/stop, reset tilt) and the enabled LED.
package knob

import (
	"fmt"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/hw/gpio"
)

// transitionsPerDetent is the number of quadrature edges between two clicks.
const transitionsPerDetent = 4

// quadrature maps (previous<<2 | current) AB states to a step direction.
// A leading B (00 -> 10 -> 11 -> 01) counts as clockwise.
var quadrature = [16]int{0, -1, 1, 0, 1, 0, 0, -1, -1, 0, 0, 1, 0, 1, -1, 0}

// EncoderConfig holds the wiring of a rotary encoder.
type EncoderConfig struct {
	PinA           int
	PinB           int
	DeltaPerDetent float64 // rotation delta reported per click, clockwise positive
}

// Encoder decodes a mechanical quadrature encoder by polling its pins.
type Encoder struct {
	gpio  gpio.Driver
	cfg   EncoderConfig
	state uint8
	steps int
}

// NewEncoder configures both pins as pulled-up inputs and samples the initial state.
func NewEncoder(g gpio.Driver, cfg EncoderConfig) (*Encoder, error) {
	if cfg.PinA <= 0 || cfg.PinB <= 0 {
		return nil, fmt.Errorf("encoder pins must be > 0, got A=%d B=%d", cfg.PinA, cfg.PinB)
	}
	for _, pin := range []int{cfg.PinA, cfg.PinB} {
		if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
			return nil, fmt.Errorf("setup encoder pin %d: %w", pin, err)
		}
	}
	e := &Encoder{gpio: g, cfg: cfg}
	st, err := e.read()
	if err != nil {
		return nil, err
	}
	e.state = st
	return e, nil
}

func (e *Encoder) read() (uint8, error) {
	a, err := e.gpio.ReadPin(e.cfg.PinA)
	if err != nil {
		return 0, fmt.Errorf("read encoder pin A: %w", err)
	}
	b, err := e.gpio.ReadPin(e.cfg.PinB)
	if err != nil {
		return 0, fmt.Errorf("read encoder pin B: %w", err)
	}
	var st uint8
	if a == gpio.High {
		st |= 2
	}
	if b == gpio.High {
		st |= 1
	}
	return st, nil
}

// Poll samples the pins once and returns the rotation delta completed since
// the last call, 0 while between detents. Invalid (double) transitions are ignored.
func (e *Encoder) Poll() (float64, error) {
	st, err := e.read()
	if err != nil {
		return 0, err
	}
	if st == e.state {
		return 0, nil
	}
	e.steps += quadrature[e.state<<2|st]
	e.state = st

	detents := e.steps / transitionsPerDetent
	if detents == 0 {
		return 0, nil
	}
	e.steps -= detents * transitionsPerDetent
	debug.Trace("knob: %+d detent(s)", detents)
	return float64(detents) * e.cfg.DeltaPerDetent, nil
}
