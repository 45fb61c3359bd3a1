// Package session runs the remote's control loop. One goroutine owns the
// control state; tilt samples, knob/dashboard input and the dispatch timer
// all reach it through channels.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/roboremote/internal/debug"
	"github.com/cjeanneret/roboremote/internal/hw/imu"
	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

// ErrStopped is returned by input methods once the loop has exited.
var ErrStopped = errors.New("session: loop stopped")

const tiltBuffer = 8

// Dispatcher sends one command without blocking. It returns false when the
// command was dropped.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd control.Command) bool
}

// Stats counts dispatch ticks since Run started.
type Stats struct {
	Ticks uint64 `json:"ticks"`
	Late  uint64 `json:"late"`
}

// Loop is the control session.
type Loop struct {
	period    time.Duration
	tolerance time.Duration
	disp      Dispatcher
	feed      *telemetry.Feed

	tilt     chan imu.Sample
	requests chan func(*control.State)
	done     chan struct{}
	started  atomic.Bool

	// owned by the Run goroutine
	last time.Time
	seq  uint64

	ticks atomic.Uint64
	late  atomic.Uint64
}

// New creates a loop that dispatches a command every period. A tick later
// than period+tolerance is reported as late. feed may be nil.
func New(disp Dispatcher, feed *telemetry.Feed, period, tolerance time.Duration) *Loop {
	return &Loop{
		period:    period,
		tolerance: tolerance,
		disp:      disp,
		feed:      feed,
		tilt:      make(chan imu.Sample, tiltBuffer),
		requests:  make(chan func(*control.State)),
		done:      make(chan struct{}),
	}
}

// Run owns the control state until ctx is done. The state is restarted on
// entry. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrStopped
	}
	defer close(l.done)

	var st control.State
	st.Restart()
	debug.Info("Control loop started (tick %s, tolerance %s)", l.period, l.tolerance)

	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			debug.Info("Control loop stopped after %d ticks (%d late)", l.ticks.Load(), l.late.Load())
			return nil

		case s := <-l.tilt:
			st.Tilt(s.Pitch, s.OK)

		case fn := <-l.requests:
			fn(&st)

		case <-ticker.C:
			l.tick(ctx, &st, time.Now())
		}
	}
}

func (l *Loop) tick(ctx context.Context, st *control.State, now time.Time) {
	var interval time.Duration
	late := false
	if !l.last.IsZero() {
		interval = now.Sub(l.last)
		if interval > l.period+l.tolerance {
			late = true
			l.late.Add(1)
			debug.Verbose("Tick late by %s", interval-l.period)
		}
	}
	l.last = now
	l.seq++
	l.ticks.Add(1)

	cmd, fb := st.Tick()
	snap := st.Snapshot()
	debug.Command(cmd.Angle, cmd.Speed, snap.TargetPower)
	sent := l.disp.Dispatch(ctx, cmd)

	if l.feed != nil {
		l.feed.Publish(telemetry.Frame{
			Seq:      l.seq,
			Time:     now,
			Interval: interval,
			Late:     late,
			Sent:     sent,
			Command:  cmd,
			Feedback: fb,
			State:    snap,
		})
	}
}

// do runs fn on the loop goroutine and waits for it.
func (l *Loop) do(ctx context.Context, fn func(*control.State)) error {
	finished := make(chan struct{})
	req := func(st *control.State) {
		fn(st)
		close(finished)
	}
	select {
	case l.requests <- req:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Rotate applies a knob rotation delta.
func (l *Loop) Rotate(ctx context.Context, delta float64) error {
	return l.do(ctx, func(st *control.State) { st.Rotate(delta) })
}

// Toggle flips the enable switch and returns the new state.
func (l *Loop) Toggle(ctx context.Context) (bool, error) {
	var enabled bool
	err := l.do(ctx, func(st *control.State) { enabled = st.Toggle() })
	return enabled, err
}

// ResetTilt re-anchors the tilt zero on the next valid sample.
func (l *Loop) ResetTilt(ctx context.Context) error {
	return l.do(ctx, func(st *control.State) { st.ResetTilt() })
}

// Snapshot returns a copy of the control state.
func (l *Loop) Snapshot(ctx context.Context) (control.Snapshot, error) {
	var snap control.Snapshot
	err := l.do(ctx, func(st *control.State) { snap = st.Snapshot() })
	return snap, err
}

// PushTilt queues a tilt sample without blocking. When the queue is full
// the oldest sample is discarded.
func (l *Loop) PushTilt(s imu.Sample) {
	select {
	case l.tilt <- s:
		return
	default:
	}
	select {
	case <-l.tilt:
	default:
	}
	select {
	case l.tilt <- s:
	default:
	}
}

// PumpTilt polls src every period and feeds the loop until ctx is done.
func (l *Loop) PumpTilt(ctx context.Context, src imu.Source, period time.Duration) {
	imu.Pump(ctx, src, period, l.PushTilt)
}

// Stats returns tick counters.
func (l *Loop) Stats() Stats {
	return Stats{Ticks: l.ticks.Load(), Late: l.late.Load()}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
