package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/roboremote/internal/hw/imu"
	"github.com/cjeanneret/roboremote/internal/logic/control"
	"github.com/cjeanneret/roboremote/internal/telemetry"
)

type recorder struct {
	mu   sync.Mutex
	cmds []control.Command
	drop bool
}

func (r *recorder) Dispatch(_ context.Context, cmd control.Command) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return !r.drop
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cmds)
}

func startLoop(t *testing.T, disp Dispatcher, feed *telemetry.Feed, period time.Duration) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(disp, feed, period, period/10)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoop_DispatchesEveryTick(t *testing.T) {
	rec := &recorder{}
	startLoop(t, rec, nil, 5*time.Millisecond)
	waitFor(t, "3 commands", func() bool { return rec.count() >= 3 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, c := range rec.cmds {
		if c.Angle != control.AngleCenter || c.Speed != 0 {
			t.Errorf("idle command = %+v, want centre and zero speed", c)
		}
	}
}

func TestLoop_ToggleRotateRamp(t *testing.T) {
	rec := &recorder{}
	var feed telemetry.Feed
	frames := make(chan telemetry.Frame, 64)
	sub := feed.Subscribe(frames)
	defer sub.Unsubscribe()

	l, _ := startLoop(t, rec, &feed, 5*time.Millisecond)
	ctx := context.Background()

	enabled, err := l.Toggle(ctx)
	if err != nil || !enabled {
		t.Fatalf("Toggle = %v, %v; want enabled", enabled, err)
	}
	if err := l.Rotate(ctx, 1.0); err != nil {
		t.Fatal(err)
	}
	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.TargetPower != 200 {
		t.Errorf("TargetPower = %v, want 200", snap.TargetPower)
	}

	// actual power climbs toward the target in steps of at most 10
	prev := -1.0
	for i := 0; i < 5; i++ {
		select {
		case fr := <-frames:
			if fr.State.TargetPower != 200 {
				continue
			}
			if prev >= 0 && fr.Command.Speed-prev > 10+1e-9 {
				t.Errorf("speed jumped from %v to %v", prev, fr.Command.Speed)
			}
			if fr.Command.Speed < prev {
				t.Errorf("speed decreased from %v to %v", prev, fr.Command.Speed)
			}
			if math.Abs(fr.Feedback.Target-200.0/255) > 1e-12 {
				t.Errorf("feedback target = %v", fr.Feedback.Target)
			}
			prev = fr.Command.Speed
		case <-time.After(2 * time.Second):
			t.Fatal("no frame published")
		}
	}
	if prev <= 0 {
		t.Error("speed never increased")
	}
}

func TestLoop_DisabledRotationForcesZero(t *testing.T) {
	l, _ := startLoop(t, &recorder{}, nil, time.Hour)
	ctx := context.Background()

	_, _ = l.Toggle(ctx)
	_ = l.Rotate(ctx, 0.5)
	_, _ = l.Toggle(ctx)
	_ = l.Rotate(ctx, 0.5)

	snap, _ := l.Snapshot(ctx)
	if snap.Enabled || snap.TargetPower != 0 {
		t.Errorf("snapshot = %+v, want disabled and zero target", snap)
	}
	if snap.Button.Label != "Start" {
		t.Errorf("button = %q, want Start", snap.Button.Label)
	}
}

func TestLoop_TiltAnchorsAndReset(t *testing.T) {
	l, _ := startLoop(t, &recorder{}, nil, time.Hour)
	ctx := context.Background()

	l.PushTilt(imu.Sample{Pitch: 0.1, OK: true})
	l.PushTilt(imu.Sample{Pitch: 0.1, OK: true})
	l.PushTilt(imu.Sample{Pitch: 0.1, OK: true})
	waitFor(t, "anchor", func() bool {
		s, _ := l.Snapshot(ctx)
		return s.Anchored
	})
	snap, _ := l.Snapshot(ctx)
	if snap.ZeroReference != 0.1 || snap.FilteredAngle != 0 {
		t.Errorf("snapshot = %+v, want zero 0.1 and filtered 0", snap)
	}

	if err := l.ResetTilt(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ = l.Snapshot(ctx)
	if snap.Anchored {
		t.Error("ResetTilt should un-anchor the zero reference")
	}
}

func TestLoop_PushTiltNeverBlocks(t *testing.T) {
	l := New(&recorder{}, nil, time.Second, 0)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10*tiltBuffer; i++ {
			l.PushTilt(imu.Sample{Pitch: float64(i), OK: true})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PushTilt blocked with no loop running")
	}
	// newest sample is kept
	var last imu.Sample
	for len(l.tilt) > 0 {
		last = <-l.tilt
	}
	if last.Pitch != float64(10*tiltBuffer-1) {
		t.Errorf("last queued pitch = %v, want %d", last.Pitch, 10*tiltBuffer-1)
	}
}

func TestLoop_StoppedInputs(t *testing.T) {
	l := New(&recorder{}, nil, time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run = %v", err)
	}
	if err := l.Rotate(context.Background(), 0.1); !errors.Is(err, ErrStopped) {
		t.Errorf("Rotate after stop = %v, want ErrStopped", err)
	}
	if _, err := l.Toggle(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Toggle after stop = %v, want ErrStopped", err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("second Run = %v, want ErrStopped", err)
	}
}

func TestLoop_InputHonoursContext(t *testing.T) {
	l := New(&recorder{}, nil, time.Millisecond, 0) // never run
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.ResetTilt(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ResetTilt = %v, want deadline exceeded", err)
	}
}

func TestTick_LateDetection(t *testing.T) {
	rec := &recorder{drop: true}
	var feed telemetry.Feed
	frames := make(chan telemetry.Frame, 8)
	sub := feed.Subscribe(frames)
	defer sub.Unsubscribe()

	l := New(rec, &feed, 200*time.Millisecond, 20*time.Millisecond)
	var st control.State
	t0 := time.Unix(1000, 0)
	ctx := context.Background()

	l.tick(ctx, &st, t0)
	l.tick(ctx, &st, t0.Add(215*time.Millisecond))
	l.tick(ctx, &st, t0.Add(450*time.Millisecond))

	if got := l.Stats(); got.Ticks != 3 || got.Late != 1 {
		t.Errorf("Stats = %+v, want 3 ticks 1 late", got)
	}
	want := []struct {
		interval time.Duration
		late     bool
	}{{0, false}, {215 * time.Millisecond, false}, {235 * time.Millisecond, true}}
	for i, w := range want {
		fr := <-frames
		if fr.Seq != uint64(i+1) || fr.Interval != w.interval || fr.Late != w.late || fr.Sent {
			t.Errorf("frame %d = seq %d interval %s late %v sent %v", i, fr.Seq, fr.Interval, fr.Late, fr.Sent)
		}
	}
}

func TestPumpTilt_FeedsLoop(t *testing.T) {
	l, _ := startLoop(t, &recorder{}, nil, time.Hour)
	src := imu.NewMock()
	src.Script(imu.Sample{Pitch: 0.2, OK: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.PumpTilt(ctx, src, time.Millisecond)

	waitFor(t, "anchor from pump", func() bool {
		s, _ := l.Snapshot(context.Background())
		return s.Anchored
	})
	s, _ := l.Snapshot(context.Background())
	if s.ZeroReference != 0.2 {
		t.Errorf("ZeroReference = %v, want 0.2", s.ZeroReference)
	}
}

func TestLoop_StalledObserverDoesNotStopTicks(t *testing.T) {
	rec := &recorder{}
	var feed telemetry.Feed
	stalled := make(chan telemetry.Frame) // nobody reads it
	sub := feed.Subscribe(stalled)
	defer sub.Unsubscribe()

	l, _ := startLoop(t, rec, &feed, 5*time.Millisecond)
	waitFor(t, "ticks past the subscriber buffer", func() bool {
		return rec.count() >= 4*telemetry.SubscriberBuffer
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := l.Toggle(ctx); err != nil {
		t.Fatalf("Toggle with a stalled observer: %v", err)
	}
	if feed.Dropped() == 0 {
		t.Error("frames for the stalled observer should be dropped")
	}
}
