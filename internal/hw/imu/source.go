// Package imu provides wrist attitude (pitch) sources: an MPU-6050 read over
// I2C and a mock for development.
package imu

import (
	"context"
	"errors"
	"time"

	"github.com/cjeanneret/roboremote/internal/debug"
)

// ErrInactive is returned by Read when the source has not been started or has stopped.
var ErrInactive = errors.New("imu: motion updates inactive")

// Sample is one attitude reading. OK is false when the sensor had no data.
type Sample struct {
	Pitch float64 // radians
	OK    bool
}

// Source delivers attitude samples.
type Source interface {
	Start() error
	Stop() error
	Active() bool
	Read() (Sample, error)
}

// Pump polls src every period and hands each sample to push until ctx is done.
// An inactive source is restarted; read errors are passed on as "no data".
func Pump(ctx context.Context, src Source, period time.Duration, push func(Sample)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	defer func() {
		if err := src.Stop(); err != nil {
			debug.Error(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !src.Active() {
			debug.Live("imu: motion updates inactive, restarting")
			if err := src.Start(); err != nil {
				debug.Error(err)
			}
			continue
		}

		s, err := src.Read()
		if err != nil {
			debug.Trace("imu: read failed: %v", err)
			s = Sample{}
		}
		push(s)
	}
}
