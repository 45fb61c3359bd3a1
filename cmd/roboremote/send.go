package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/logic/ramp"
)

// sendTimeout bounds the one-shot command when no timeout is configured.
const sendTimeout = 2 * time.Second

func newSendCmd(gf *globalFlags) *cobra.Command {
	var angle int
	var speed float64
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a single motor command (bench test)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateCommand(angle, speed); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, gf)
			if err != nil {
				return err
			}
			debug.Init(cfg.Defaults.DebugLevel)

			timeout := cfg.RequestTimeout()
			if timeout == 0 {
				timeout = sendTimeout
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sink, err := newSink(ctx, cfg)
			if err != nil {
				return err
			}
			defer sink.Close()

			c := control.Command{Angle: angle, Speed: speed}
			if err := sink.Send(ctx, c); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent angle=%d speed=%g to %s\n", c.Angle, c.Speed, endpointOf(cfg))
			return nil
		},
	}
	cmd.Flags().IntVar(&angle, "angle", control.AngleCenter, "steering command 0-120 (60 = straight)")
	cmd.Flags().Float64Var(&speed, "speed", 0, "motor speed 0-255")
	return cmd
}

// validateCommand checks a hand-typed command against the ranges the loop produces.
func validateCommand(angle int, speed float64) error {
	if angle < 0 || angle > control.AngleMax {
		return fmt.Errorf("angle must be between 0 and %d, got %d", control.AngleMax, angle)
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 || speed > ramp.MaxPower {
		return fmt.Errorf("speed must be between 0 and %g, got %g", ramp.MaxPower, speed)
	}
	return nil
}
