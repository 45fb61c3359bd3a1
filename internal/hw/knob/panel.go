package knob

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/roboremote/internal/config"
	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/hw/gpio"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

// DefaultPollInterval is fast enough to follow a hand-turned encoder.
const DefaultPollInterval = time.Millisecond

// Controller receives the events produced by the panel.
type Controller interface {
	Rotate(ctx context.Context, delta float64) error
	Toggle(ctx context.Context) (bool, error)
	ResetTilt(ctx context.Context) error
}

// Panel groups the encoder, the buttons and the LED of the remote.
// Buttons and LED are optional.
type Panel struct {
	Encoder   *Encoder
	Toggle    *Button
	Reset     *Button
	Indicator *Indicator

	lit bool // last level written by Follow
}

// NewPanel builds a panel from the knob configuration.
func NewPanel(g gpio.Driver, cfg config.KnobConfig) (*Panel, error) {
	enc, err := NewEncoder(g, EncoderConfig{
		PinA:           cfg.PinA,
		PinB:           cfg.PinB,
		DeltaPerDetent: cfg.DeltaPerDetent,
	})
	if err != nil {
		return nil, err
	}
	p := &Panel{Encoder: enc}
	if cfg.TogglePin > 0 {
		if p.Toggle, err = NewButton(g, cfg.TogglePin, DefaultDebounce); err != nil {
			return nil, err
		}
	}
	if cfg.ResetPin > 0 {
		if p.Reset, err = NewButton(g, cfg.ResetPin, DefaultDebounce); err != nil {
			return nil, err
		}
	}
	if p.Indicator, err = NewIndicator(g, cfg.LEDPin); err != nil {
		return nil, err
	}
	return p, nil
}

// Run polls the controls every interval and forwards events to ctrl until
// ctx is cancelled or ctrl stops accepting events.
func (p *Panel) Run(ctx context.Context, ctrl Controller, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	debug.Info("Knob panel polling every %v", interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.poll(ctx, ctrl, now); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Follow drives the LED from the enable state carried by every frame until
// ctx is done, so toggles from the dashboard and loop restarts are shown too.
func (p *Panel) Follow(ctx context.Context, feed *telemetry.Feed) {
	ch := make(chan telemetry.Frame, telemetry.SubscriberBuffer)
	sub := feed.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Err():
			return
		case fr := <-ch:
			p.show(fr.State.Enabled)
		}
	}
}

func (p *Panel) show(enabled bool) {
	if enabled == p.lit {
		return
	}
	if err := p.Indicator.Set(enabled); err != nil {
		debug.Error(err)
		return
	}
	p.lit = enabled
}

func (p *Panel) poll(ctx context.Context, ctrl Controller, now time.Time) error {
	delta, err := p.Encoder.Poll()
	if err != nil {
		debug.Error(err)
	} else if delta != 0 {
		if err := ctrl.Rotate(ctx, delta); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
	}

	if p.Toggle != nil {
		pressed, err := p.Toggle.Poll(now)
		if err != nil {
			debug.Error(err)
		} else if pressed {
			if _, err := ctrl.Toggle(ctx); err != nil {
				return fmt.Errorf("toggle: %w", err)
			}
		}
	}

	if p.Reset != nil {
		pressed, err := p.Reset.Poll(now)
		if err != nil {
			debug.Error(err)
		} else if pressed {
			if err := ctrl.ResetTilt(ctx); err != nil {
				return fmt.Errorf("reset tilt: %w", err)
			}
		}
	}
	return nil
}
