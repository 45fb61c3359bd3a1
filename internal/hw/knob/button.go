package knob

import (
	"fmt"
	"time"

	"github.com/cjeanneret/roboremote/internal/hw/gpio"
)

// DefaultDebounce is how long a button level must be stable to count.
const DefaultDebounce = 20 * time.Millisecond

// Button is an active-low push button with software debouncing.
type Button struct {
	gpio     gpio.Driver
	pin      int
	debounce time.Duration
	raw      bool // last sampled "pressed" level
	changed  time.Time
	pressed  bool // debounced state
}

// NewButton sets pin up as a pulled-up input.
func NewButton(g gpio.Driver, pin int, debounce time.Duration) (*Button, error) {
	if err := g.SetupPin(pin, gpio.InputPullUp); err != nil {
		return nil, fmt.Errorf("setup button pin %d: %w", pin, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Button{gpio: g, pin: pin, debounce: debounce}, nil
}

// Poll samples the button and reports true once per debounced press.
func (b *Button) Poll(now time.Time) (bool, error) {
	lvl, err := b.gpio.ReadPin(b.pin)
	if err != nil {
		return false, fmt.Errorf("read button pin %d: %w", b.pin, err)
	}
	raw := lvl == gpio.Low
	if raw != b.raw {
		b.raw = raw
		b.changed = now
		return false, nil
	}
	if raw != b.pressed && now.Sub(b.changed) >= b.debounce {
		b.pressed = raw
		return raw, nil
	}
	return false, nil
}

// Indicator drives the LED that mirrors the start/stop button: lit while
// control is enabled ("Stop" shown), dark otherwise.
type Indicator struct {
	gpio gpio.Driver
	pin  int
}

// NewIndicator sets pin up as an output, switched off. Pin 0 means no LED is
// wired and every call is a no-op.
func NewIndicator(g gpio.Driver, pin int) (*Indicator, error) {
	ind := &Indicator{gpio: g, pin: pin}
	if pin <= 0 {
		return ind, nil
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, fmt.Errorf("setup indicator pin %d: %w", pin, err)
	}
	return ind, ind.Set(false)
}

// Set lights the LED when enabled is true.
func (i *Indicator) Set(enabled bool) error {
	if i.pin <= 0 {
		return nil
	}
	return i.gpio.WritePin(i.pin, gpio.Level(enabled))
}
